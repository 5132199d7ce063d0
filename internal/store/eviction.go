package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EvictionRecord maps a staged file name to its expiry.
type EvictionRecord struct {
	Filename  string
	ExpiresAt time.Time
}

// Expired reports whether the record's lifetime has passed at now.
func (r EvictionRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// SetExpiry upserts the expiry for filename. The new value replaces any
// previous one.
func (s *Store) SetExpiry(ctx context.Context, filename string, expiresAt time.Time) error {
	_, err := s.exec(ctx, "set expiry",
		`INSERT INTO eviction_records (filename, expires_at) VALUES (?, ?)
         ON CONFLICT (filename) DO UPDATE SET expires_at = excluded.expires_at`,
		filename, expiresAt.UTC().UnixMilli(),
	)
	return err
}

// GetExpiry returns the eviction record for filename.
func (s *Store) GetExpiry(ctx context.Context, filename string) (EvictionRecord, bool, error) {
	ctx = ensureContext(ctx)
	var millis int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT expires_at FROM eviction_records WHERE filename = ?`, filename,
		).Scan(&millis)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return EvictionRecord{}, false, nil
	}
	if err != nil {
		return EvictionRecord{}, false, storageErr("get expiry", err)
	}
	return EvictionRecord{Filename: filename, ExpiresAt: time.UnixMilli(millis).UTC()}, true, nil
}

// DeleteExpiry removes the eviction record for filename.
func (s *Store) DeleteExpiry(ctx context.Context, filename string) error {
	_, err := s.exec(ctx, "delete expiry", `DELETE FROM eviction_records WHERE filename = ?`, filename)
	return err
}

// ListExpiries returns every eviction record ordered by expiry.
func (s *Store) ListExpiries(ctx context.Context) ([]EvictionRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT filename, expires_at FROM eviction_records ORDER BY expires_at, filename`)
	if err != nil {
		return nil, storageErr("list expiries", err)
	}
	defer rows.Close()

	var out []EvictionRecord
	for rows.Next() {
		var (
			rec    EvictionRecord
			millis int64
		)
		if err := rows.Scan(&rec.Filename, &millis); err != nil {
			return nil, storageErr("scan expiry", err)
		}
		rec.ExpiresAt = time.UnixMilli(millis).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list expiries", err)
	}
	return out, nil
}
