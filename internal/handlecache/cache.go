package handlecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bookdrop/internal/books"
	"bookdrop/internal/config"
	"bookdrop/internal/services"
	"bookdrop/internal/store"
)

// Entry is one cached delivery-surface handle.
type Entry struct {
	BookID    int64
	Format    books.Format
	Handle    string
	UpdatedAt time.Time
}

// Cache maps (book, format) to a previously issued delivery-surface handle.
// Set is an upsert; Invalidate removes the entry if present.
type Cache interface {
	Get(ctx context.Context, bookID int64, format books.Format) (string, bool, error)
	Set(ctx context.Context, bookID int64, format books.Format, handle string) error
	Invalidate(ctx context.Context, bookID int64, format books.Format) error
}

// Lister is implemented by backends that can enumerate their entries.
type Lister interface {
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Closer is implemented by backends that own a connection.
type Closer interface {
	Close() error
}

// SQLiteCache stores handles in the bookdrop database.
type SQLiteCache struct {
	store *store.Store
}

var (
	_ Cache  = (*SQLiteCache)(nil)
	_ Lister = (*SQLiteCache)(nil)
)

// NewSQLite wraps an open store.
func NewSQLite(st *store.Store) *SQLiteCache {
	return &SQLiteCache{store: st}
}

func (c *SQLiteCache) Get(ctx context.Context, bookID int64, format books.Format) (string, bool, error) {
	rec, ok, err := c.store.GetHandle(ctx, bookID, string(format))
	if err != nil || !ok {
		return "", false, err
	}
	return rec.Handle, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, bookID int64, format books.Format, handle string) error {
	if handle == "" {
		return services.Wrap(services.ErrValidation, "handlecache", "set", "empty handle", nil)
	}
	return c.store.PutHandle(ctx, bookID, string(format), handle)
}

func (c *SQLiteCache) Invalidate(ctx context.Context, bookID int64, format books.Format) error {
	_, err := c.store.DeleteHandle(ctx, bookID, string(format))
	return err
}

func (c *SQLiteCache) List(ctx context.Context, limit int) ([]Entry, error) {
	records, err := c.store.ListHandles(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		out = append(out, Entry{
			BookID:    rec.BookID,
			Format:    books.Format(rec.Format),
			Handle:    rec.Handle,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}

// Open builds the configured backend, fronted by an in-memory LRU when
// handle_cache.lru_size is positive. Memory entries expire after
// handle_cache.lru_ttl_seconds, which bounds how long an invalidation made
// by another process (the CLI, another redis-backed instance) goes unseen.
// The SQLite backend reuses st.
func Open(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (Cache, error) {
	var backend Cache
	switch cfg.HandleCache.Backend {
	case config.HandleCacheRedis:
		rc, err := NewRedis(ctx, RedisOptions{
			Addr:     cfg.HandleCache.RedisAddr,
			Password: cfg.HandleCache.RedisPassword,
			DB:       cfg.HandleCache.RedisDB,
			Prefix:   cfg.HandleCache.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		backend = rc
	case config.HandleCacheSQLite, "":
		if st == nil {
			return nil, services.Wrap(services.ErrConfiguration, "handlecache", "open", "sqlite backend requires an open store", nil)
		}
		backend = NewSQLite(st)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "handlecache", "open",
			fmt.Sprintf("unknown backend %q", cfg.HandleCache.Backend), nil)
	}
	if logger != nil {
		logger.Info("handle cache ready",
			slog.String("backend", cfg.HandleCache.Backend),
			slog.Int("lru_size", cfg.HandleCache.LRUSize),
			slog.Duration("lru_ttl", cfg.HandleCacheLRUTTL()),
		)
	}
	if cfg.HandleCache.LRUSize > 0 {
		return WithLRU(backend, cfg.HandleCache.LRUSize, cfg.HandleCacheLRUTTL())
	}
	return backend, nil
}
