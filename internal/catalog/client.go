package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"bookdrop/internal/books"
	"bookdrop/internal/config"
	"bookdrop/internal/services"
)

const userAgent = "bookdrop/1.0"

// Lookup resolves book metadata by identifier.
type Lookup interface {
	Book(ctx context.Context, bookID int64) (*books.Book, error)
}

// Client talks to the catalog service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *expirable.LRU[int64, books.Book]
}

var _ Lookup = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCache keeps up to size books in memory for ttl.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size > 0 {
			c.cache = expirable.NewLRU[int64, books.Book](size, nil, ttl)
		}
	}
}

// New creates a catalog client.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "init", "catalog base url required", nil)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig creates a client from the [catalog] section.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	timeout := time.Duration(cfg.Catalog.TimeoutSeconds) * time.Second
	base := []Option{
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithCache(1024, 10*time.Minute),
	}
	return New(cfg.Catalog.BaseURL, append(base, opts...)...)
}

// Book fetches GET {base}/book/{id}. A 204 or 404 response means the book
// does not exist.
func (c *Client) Book(ctx context.Context, bookID int64) (*books.Book, error) {
	if bookID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "catalog", "book", fmt.Sprintf("invalid book id %d", bookID), nil)
	}
	if c.cache != nil {
		if cached, ok := c.cache.Get(bookID); ok {
			return &cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/book/%d", c.baseURL, bookID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		marker := services.ErrTransientNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return nil, services.Wrap(marker, "catalog", "book", fmt.Sprintf("latency=%v", latency), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, services.Wrap(services.ErrNotFound, "catalog", "book", fmt.Sprintf("book %d", bookID), nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, services.Wrap(services.ErrTransientNetwork, "catalog", "book",
			fmt.Sprintf("catalog returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var book books.Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, services.Wrap(services.ErrTransientNetwork, "catalog", "decode", fmt.Sprintf("book %d", bookID), err)
	}
	if book.ID == 0 {
		book.ID = bookID
	}
	if c.cache != nil {
		c.cache.Add(bookID, book)
	}
	return &book, nil
}
