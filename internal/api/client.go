package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookdrop/internal/services"
)

// ErrUnreachable marks requests that never got a response from the daemon.
var ErrUnreachable = errors.New("daemon unreachable")

// Client talks to a running daemon's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for the daemon listening on bind ("host:port" or
// a full URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var status DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// Deliver asks the daemon to deliver a book.
func (c *Client) Deliver(ctx context.Context, req DeliveryRequest) (DeliveryOutcome, error) {
	var out DeliveryOutcome
	err := c.do(ctx, http.MethodPost, "/api/deliver", req, &out)
	return out, err
}

// Refresh asks the daemon to refresh a share link.
func (c *Client) Refresh(ctx context.Context, req DeliveryRequest) (DeliveryOutcome, error) {
	var out DeliveryOutcome
	err := c.do(ctx, http.MethodPost, "/api/refresh", req, &out)
	return out, err
}

// InvalidateHandle drops a cached handle.
func (c *Client) InvalidateHandle(ctx context.Context, bookID int64, format string) error {
	path := "/api/cache/" + strconv.FormatInt(bookID, 10) + "/" + format
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Staging lists the staging directory.
func (c *Client) Staging(ctx context.Context) (StagingListResponse, error) {
	var out StagingListResponse
	err := c.do(ctx, http.MethodGet, "/api/staging", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		marker := services.ErrTransientNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, "api", method+" "+path, "", fmt.Errorf("%w: %w", ErrUnreachable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		msg := strings.TrimSpace(apiErr.Error)
		if msg == "" {
			msg = resp.Status
		}
		return services.Wrap(markerForStatus(resp.StatusCode), "api", method+" "+path, msg, nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func markerForStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return services.ErrValidation
	case http.StatusUnauthorized:
		return services.ErrConfiguration
	case http.StatusNotFound:
		return services.ErrNotFound
	default:
		return services.ErrTransientNetwork
	}
}
