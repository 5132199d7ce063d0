package handlecache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bookdrop/internal/books"
	"bookdrop/internal/config"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/services"
	"bookdrop/internal/testsupport"
)

func newRedisCache(t *testing.T) (*handlecache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := handlecache.NewRedisWithClient(client, "test")
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func backends(t *testing.T) map[string]handlecache.Cache {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	rc, _ := newRedisCache(t)
	lruOverSQLite, err := handlecache.WithLRU(handlecache.NewSQLite(st), 8, 0)
	if err != nil {
		t.Fatalf("WithLRU: %v", err)
	}
	return map[string]handlecache.Cache{
		"sqlite":     handlecache.NewSQLite(testsupport.MustOpenStore(t, testsupport.NewConfig(t))),
		"redis":      rc,
		"lru+sqlite": lruOverSQLite,
	}
}

func TestCacheContract(t *testing.T) {
	for name, cache := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := cache.Get(ctx, 42, books.FormatFB2); err != nil || ok {
				t.Fatalf("expected miss on empty cache, ok=%v err=%v", ok, err)
			}
			if err := cache.Set(ctx, 42, books.FormatFB2, "H1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := cache.Set(ctx, 42, books.FormatFB2, "H2"); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			handle, ok, err := cache.Get(ctx, 42, books.FormatFB2)
			if err != nil || !ok || handle != "H2" {
				t.Fatalf("expected H2 after overwrite, got %q ok=%v err=%v", handle, ok, err)
			}

			if _, ok, _ := cache.Get(ctx, 42, books.FormatEPUB); ok {
				t.Fatal("formats must be cached independently")
			}

			if err := cache.Invalidate(ctx, 42, books.FormatFB2); err != nil {
				t.Fatalf("Invalidate: %v", err)
			}
			if _, ok, _ := cache.Get(ctx, 42, books.FormatFB2); ok {
				t.Fatal("expected miss after invalidate")
			}
			if err := cache.Invalidate(ctx, 42, books.FormatFB2); err != nil {
				t.Fatalf("invalidating an absent key should be a no-op, got %v", err)
			}
		})
	}
}

func TestSetRejectsEmptyHandle(t *testing.T) {
	for name, cache := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := cache.Set(context.Background(), 1, books.FormatEPUB, "")
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRedisKeyLayoutAndList(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, 7, books.FormatEPUB, "stale"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cache.Set(ctx, 8, books.FormatMOBI, "fresh"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mr.HGet("test:handle:7:epub", "handle"); got != "stale" {
		t.Fatalf("unexpected stored handle %q", got)
	}
	mr.Set("test:unrelated", "x")

	entries, err := cache.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %+v", entries)
	}
	seen := map[int64]string{}
	for _, e := range entries {
		seen[e.BookID] = e.Handle
		if e.UpdatedAt.IsZero() {
			t.Fatalf("expected updated_at on %+v", e)
		}
	}
	if seen[7] != "stale" || seen[8] != "fresh" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestRedisErrorsAreStorageErrors(t *testing.T) {
	cache, mr := newRedisCache(t)
	mr.SetError("LOADING")
	defer mr.SetError("")

	_, _, err := cache.Get(context.Background(), 1, books.FormatFB2)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestLRUInvalidateClearsBothLayers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	backend := handlecache.NewSQLite(st)
	cache, err := handlecache.WithLRU(backend, 4, 0)
	if err != nil {
		t.Fatalf("WithLRU: %v", err)
	}
	ctx := context.Background()

	if err := cache.Set(ctx, 7, books.FormatEPUB, "H"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected handle held in memory, len=%d", cache.Len())
	}
	if err := cache.Invalidate(ctx, 7, books.FormatEPUB); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected memory layer cleared, len=%d", cache.Len())
	}
	if _, ok, _ := backend.Get(ctx, 7, books.FormatEPUB); ok {
		t.Fatal("expected backend entry removed")
	}
}

func TestLRUReadsThroughOnMiss(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	backend := handlecache.NewSQLite(st)
	ctx := context.Background()
	if err := backend.Set(ctx, 3, books.FormatFB2, "persisted"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cache, err := handlecache.WithLRU(backend, 4, 0)
	if err != nil {
		t.Fatalf("WithLRU: %v", err)
	}
	handle, ok, err := cache.Get(ctx, 3, books.FormatFB2)
	if err != nil || !ok || handle != "persisted" {
		t.Fatalf("expected read-through hit, got %q ok=%v err=%v", handle, ok, err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected read-through to populate memory, len=%d", cache.Len())
	}
	entries, err := cache.List(ctx, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected list via backend, got %+v err=%v", entries, err)
	}
}

func TestLRUExpiresHandlesInvalidatedElsewhere(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	daemonSide, err := handlecache.WithLRU(handlecache.NewSQLite(st), 4, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WithLRU: %v", err)
	}
	if err := daemonSide.Set(ctx, 7, books.FormatEPUB, "stale-handle"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Another process drops the entry straight from the shared store.
	if err := handlecache.NewSQLite(st).Invalidate(ctx, 7, books.FormatEPUB); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if handle, ok, err := daemonSide.Get(ctx, 7, books.FormatEPUB); err != nil || ok {
		t.Fatalf("expected memory entry to expire, got %q ok=%v err=%v", handle, ok, err)
	}
}

// gatedBackend blocks Get until released so a read-through can be raced.
type gatedBackend struct {
	entered chan struct{}
	release chan struct{}
	gets    atomic.Int32
}

func (g *gatedBackend) Get(context.Context, int64, books.Format) (string, bool, error) {
	if g.gets.Add(1) == 1 {
		close(g.entered)
		<-g.release
		return "old-handle", true, nil
	}
	return "", false, nil
}

func (g *gatedBackend) Set(context.Context, int64, books.Format, string) error { return nil }

func (g *gatedBackend) Invalidate(context.Context, int64, books.Format) error { return nil }

func TestLRUReadThroughDoesNotRestoreInvalidatedHandle(t *testing.T) {
	backend := &gatedBackend{entered: make(chan struct{}), release: make(chan struct{})}
	cache, err := handlecache.WithLRU(backend, 4, time.Hour)
	if err != nil {
		t.Fatalf("WithLRU: %v", err)
	}
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = cache.Get(ctx, 9, books.FormatFB2)
	}()
	<-backend.entered
	if err := cache.Invalidate(ctx, 9, books.FormatFB2); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	close(backend.release)
	<-done

	if cache.Len() != 0 {
		t.Fatalf("expected read started before the invalidation to stay out of memory, len=%d", cache.Len())
	}
	if _, ok, _ := cache.Get(ctx, 9, books.FormatFB2); ok {
		t.Fatal("expected the next read to miss")
	}
	if backend.gets.Load() != 2 {
		t.Fatalf("expected the second read to reach the backend, gets=%d", backend.gets.Load())
	}
}

func TestWithLRURejectsNonPositiveSize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if _, err := handlecache.WithLRU(handlecache.NewSQLite(st), 0, 0); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	cache, err := handlecache.Open(ctx, cfg, st, nil)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	if _, ok := cache.(*handlecache.SQLiteCache); !ok {
		t.Fatalf("expected sqlite backend without lru, got %T", cache)
	}

	mr := miniredis.RunT(t)
	cfg.HandleCache.Backend = config.HandleCacheRedis
	cfg.HandleCache.RedisAddr = mr.Addr()
	cfg.HandleCache.LRUSize = 16
	cache, err = handlecache.Open(ctx, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	lc, ok := cache.(*handlecache.LRUCache)
	if !ok {
		t.Fatalf("expected lru wrapper, got %T", cache)
	}
	t.Cleanup(func() { _ = lc.Close() })
	if err := cache.Set(ctx, 1, books.FormatFB2, "H"); err != nil {
		t.Fatalf("Set via redis: %v", err)
	}
	if got := mr.HGet("bookdrop:handle:1:fb2", "handle"); got != "H" {
		t.Fatalf("expected write to reach redis, got %q", got)
	}

	cfg.HandleCache.Backend = "memcached"
	if _, err := handlecache.Open(ctx, cfg, st, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
