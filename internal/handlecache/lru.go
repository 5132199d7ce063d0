package handlecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"bookdrop/internal/books"
	"bookdrop/internal/services"
)

// DefaultLRUTTL bounds how long a handle is served from memory without
// consulting the backend.
const DefaultLRUTTL = time.Minute

type lruKey struct {
	bookID int64
	format books.Format
}

// LRUCache keeps recently used handles in memory in front of a persistent
// backend. Writes and invalidations go to the backend first; only misses are
// read through. Entries expire after ttl so invalidations made by another
// process against the shared backend are picked up.
type LRUCache struct {
	backend Cache
	mem     *expirable.LRU[lruKey, string]

	// mu orders memory updates against reads in flight. A read-through only
	// populates memory when no write or invalidation happened since it began.
	mu  sync.Mutex
	gen uint64
}

var _ Cache = (*LRUCache)(nil)

// WithLRU fronts backend with an in-memory layer of the given size whose
// entries live for at most ttl (DefaultLRUTTL when zero).
func WithLRU(backend Cache, size int, ttl time.Duration) (*LRUCache, error) {
	if size <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "handlecache", "lru", fmt.Sprintf("size %d", size), nil)
	}
	if ttl <= 0 {
		ttl = DefaultLRUTTL
	}
	return &LRUCache{backend: backend, mem: expirable.NewLRU[lruKey, string](size, nil, ttl)}, nil
}

func (c *LRUCache) Get(ctx context.Context, bookID int64, format books.Format) (string, bool, error) {
	key := lruKey{bookID, format}
	if handle, ok := c.mem.Get(key); ok {
		return handle, true, nil
	}
	c.mu.Lock()
	started := c.gen
	c.mu.Unlock()

	handle, ok, err := c.backend.Get(ctx, bookID, format)
	if err != nil || !ok {
		return "", false, err
	}
	c.mu.Lock()
	if c.gen == started {
		c.mem.Add(key, handle)
	}
	c.mu.Unlock()
	return handle, true, nil
}

func (c *LRUCache) Set(ctx context.Context, bookID int64, format books.Format, handle string) error {
	err := c.backend.Set(ctx, bookID, format, handle)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if err != nil {
		c.mem.Remove(lruKey{bookID, format})
		return err
	}
	c.mem.Add(lruKey{bookID, format}, handle)
	return nil
}

func (c *LRUCache) Invalidate(ctx context.Context, bookID int64, format books.Format) error {
	err := c.backend.Invalidate(ctx, bookID, format)
	c.mu.Lock()
	c.gen++
	c.mem.Remove(lruKey{bookID, format})
	c.mu.Unlock()
	return err
}

// List delegates to the backend when it supports enumeration.
func (c *LRUCache) List(ctx context.Context, limit int) ([]Entry, error) {
	lister, ok := c.backend.(Lister)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "handlecache", "list", "backend cannot enumerate entries", nil)
	}
	return lister.List(ctx, limit)
}

// Close closes the backend when it owns a connection.
func (c *LRUCache) Close() error {
	if closer, ok := c.backend.(Closer); ok {
		return closer.Close()
	}
	return nil
}

// Len reports how many handles are held in memory.
func (c *LRUCache) Len() int {
	return c.mem.Len()
}
