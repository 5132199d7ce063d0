package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookdrop/internal/config"
)

const userAgent = "bookdrop/1.0"

// Event identifies an alert type.
type Event string

const (
	EventDeliveryFailed  Event = "delivery_failed"
	EventSweepFailed     Event = "sweep_failed"
	EventPreflightFailed Event = "preflight_failed"
	EventTest            Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes alerts.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perHour := cfg.Notifications.MaxPerHour
	if perHour <= 0 {
		perHour = 12
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour),
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	// Test alerts are operator-initiated and bypass the budget.
	if event != EventTest && !n.limiter.Allow() {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventDeliveryFailed:
		body := fmt.Sprintf("Delivery of book %s (%s) failed: %s",
			payload.str("bookID"), payload.str("format"), payload.str("error"))
		if rid := payload.str("requestID"); rid != "" {
			body += "\nRequest: " + rid
		}
		return message{
			title:    "bookdrop - Delivery Failed",
			body:     body,
			tags:     []string{"bookdrop", "delivery", "error"},
			priority: "high",
		}, true
	case EventSweepFailed:
		body := fmt.Sprintf("Eviction sweep could not reclaim %s file(s)", payload.str("failures"))
		if sample := payload.str("sample"); sample != "" {
			body += "\nFirst failure: " + sample
		}
		return message{
			title: "bookdrop - Sweep Failed",
			body:  body,
			tags:  []string{"bookdrop", "eviction", "warning"},
		}, true
	case EventPreflightFailed:
		return message{
			title: "bookdrop - Startup Checks Failed",
			body:  "Failed checks: " + payload.str("checks"),
			tags:  []string{"bookdrop", "preflight", "warning"},
		}, true
	case EventTest:
		return message{
			title:    "bookdrop - Test",
			body:     "Notification system test",
			tags:     []string{"bookdrop", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) str(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
