package handlecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bookdrop/internal/books"
	"bookdrop/internal/services"
)

// RedisClient is the subset of go-redis methods RedisCache uses.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisCache stores handles as Redis hashes so several bookdrop instances
// can share one cache.
type RedisCache struct {
	client RedisClient
	prefix string
}

var (
	_ Cache  = (*RedisCache)(nil)
	_ Lister = (*RedisCache)(nil)
	_ Closer = (*RedisCache)(nil)
)

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrConfiguration, "handlecache", "redis ping", opts.Addr, err)
	}
	return NewRedisWithClient(client, opts.Prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client RedisClient, prefix string) *RedisCache {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "bookdrop"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(bookID int64, format books.Format) string {
	return fmt.Sprintf("%s:handle:%d:%s", c.prefix, bookID, format)
}

func (c *RedisCache) Get(ctx context.Context, bookID int64, format books.Format) (string, bool, error) {
	fields, err := c.client.HGetAll(ctx, c.key(bookID, format)).Result()
	if err != nil {
		return "", false, services.Wrap(services.ErrStorage, "handlecache", "redis get", "", err)
	}
	handle, ok := fields["handle"]
	if !ok || handle == "" {
		return "", false, nil
	}
	return handle, true, nil
}

func (c *RedisCache) Set(ctx context.Context, bookID int64, format books.Format, handle string) error {
	if handle == "" {
		return services.Wrap(services.ErrValidation, "handlecache", "set", "empty handle", nil)
	}
	err := c.client.HSet(ctx, c.key(bookID, format),
		"handle", handle,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return services.Wrap(services.ErrStorage, "handlecache", "redis set", "", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, bookID int64, format books.Format) error {
	if err := c.client.Del(ctx, c.key(bookID, format)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return services.Wrap(services.ErrStorage, "handlecache", "redis invalidate", "", err)
	}
	return nil
}

// List scans the key space for handle entries. Order is unspecified.
func (c *RedisCache) List(ctx context.Context, limit int) ([]Entry, error) {
	var (
		out    []Entry
		cursor uint64
	)
	pattern := c.prefix + ":handle:*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "handlecache", "redis scan", "", err)
		}
		for _, key := range keys {
			entry, ok := c.parseKey(key)
			if !ok {
				continue
			}
			fields, err := c.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, services.Wrap(services.ErrStorage, "handlecache", "redis list", "", err)
			}
			entry.Handle = fields["handle"]
			if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
				entry.UpdatedAt = ts
			}
			if entry.Handle == "" {
				continue
			}
			out = append(out, entry)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (c *RedisCache) parseKey(key string) (Entry, bool) {
	rest, ok := strings.CutPrefix(key, c.prefix+":handle:")
	if !ok {
		return Entry{}, false
	}
	idPart, formatPart, ok := strings.Cut(rest, ":")
	if !ok {
		return Entry{}, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{BookID: id, Format: books.Format(formatPart)}, true
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
