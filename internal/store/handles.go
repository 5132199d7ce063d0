package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// HandleRecord is one cached delivery-surface handle.
type HandleRecord struct {
	BookID    int64
	Format    string
	Handle    string
	UpdatedAt time.Time
}

// GetHandle returns the cached handle for (bookID, format).
func (s *Store) GetHandle(ctx context.Context, bookID int64, format string) (HandleRecord, bool, error) {
	ctx = ensureContext(ctx)
	var (
		rec       HandleRecord
		updatedAt string
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT book_id, format, handle, updated_at FROM handle_cache WHERE book_id = ? AND format = ?`,
			bookID, format,
		).Scan(&rec.BookID, &rec.Format, &rec.Handle, &updatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return HandleRecord{}, false, nil
	}
	if err != nil {
		return HandleRecord{}, false, storageErr("get handle", err)
	}
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, true, nil
}

// PutHandle upserts the handle for (bookID, format).
func (s *Store) PutHandle(ctx context.Context, bookID int64, format, handle string) error {
	_, err := s.exec(ctx, "put handle",
		`INSERT INTO handle_cache (book_id, format, handle, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (book_id, format) DO UPDATE SET handle = excluded.handle, updated_at = excluded.updated_at`,
		bookID, format, handle, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// DeleteHandle removes the cached handle and reports whether one existed.
func (s *Store) DeleteHandle(ctx context.Context, bookID int64, format string) (bool, error) {
	res, err := s.exec(ctx, "delete handle",
		`DELETE FROM handle_cache WHERE book_id = ? AND format = ?`, bookID, format)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete handle", err)
	}
	return n > 0, nil
}

// ListHandles returns cached handles, most recently updated first. A
// non-positive limit returns every row.
func (s *Store) ListHandles(ctx context.Context, limit int) ([]HandleRecord, error) {
	ctx = ensureContext(ctx)
	query := `SELECT book_id, format, handle, updated_at FROM handle_cache ORDER BY updated_at DESC, book_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list handles", err)
	}
	defer rows.Close()

	var out []HandleRecord
	for rows.Next() {
		var (
			rec       HandleRecord
			updatedAt string
		)
		if err := rows.Scan(&rec.BookID, &rec.Format, &rec.Handle, &updatedAt); err != nil {
			return nil, storageErr("scan handle", err)
		}
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list handles", err)
	}
	return out, nil
}

// CountHandles returns the number of cached handles.
func (s *Store) CountHandles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM handle_cache`).Scan(&n); err != nil {
		return 0, storageErr("count handles", err)
	}
	return n, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
