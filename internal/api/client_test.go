package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bookdrop/internal/api"
	"bookdrop/internal/delivery"
	"bookdrop/internal/eviction"
	"bookdrop/internal/services"
	"bookdrop/internal/staging"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody api.DeliveryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(api.DeliveryOutcome{Kind: "sent_inline", Handle: "H"})
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "tok")
	out, err := client.Deliver(context.Background(), api.DeliveryRequest{BookID: 1, Format: "fb2", ChatID: 2})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if out.Kind != "sent_inline" || out.Handle != "H" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if gotAuth != "Bearer tok" || gotPath != "POST /api/deliver" || gotBody.BookID != 1 {
		t.Fatalf("unexpected request auth=%q path=%q body=%+v", gotAuth, gotPath, gotBody)
	}
}

func TestClientMapsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid book id"})
	}))
	defer server.Close()

	err := api.NewClient(server.URL, "").InvalidateHandle(context.Background(), 0, "fb2")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClientUnreachableDaemon(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.Listener.Addr().String()
	server.Close()

	_, err := api.NewClient(addr, "").Status(context.Background())
	if !errors.Is(err, services.ErrTransientNetwork) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !errors.Is(err, api.ErrUnreachable) {
		t.Fatalf("expected unreachable marker, got %v", err)
	}
}

func TestClientErrorStatusIsNotUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := api.NewClient(server.URL, "").InvalidateHandle(context.Background(), 1, "fb2")
	if err == nil || errors.Is(err, api.ErrUnreachable) {
		t.Fatalf("expected a daemon-side error, got %v", err)
	}
}

func TestFromOutcome(t *testing.T) {
	out := api.FromOutcome(delivery.Outcome{
		Kind:      delivery.KindFailed,
		Reason:    services.ReasonNotFound,
		Err:       errors.New("catalog: no such book"),
		ExpiresAt: time.Time{},
	})
	if out.Kind != "failed" || out.Reason != "not_found" || out.Error == "" || out.ExpiresAt != "" {
		t.Fatalf("unexpected conversion %+v", out)
	}
}

func TestFromStagedFilesAndSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	listing := api.FromStagedFiles([]staging.File{
		{Name: "a.fb2", Size: 3, ExpiresAt: now},
		{Name: "b.fb2", Size: 4, ExpiresAt: now.Add(-time.Second)},
	}, now)
	if listing.TotalBytes != 7 || listing.Items[0].Expired || !listing.Items[1].Expired {
		t.Fatalf("unexpected listing %+v", listing)
	}

	summary := api.FromSweepResult(eviction.SweepResult{
		Removed: []eviction.Removed{{Name: "a", Reason: eviction.ReasonExpired}, {Name: "b", Reason: eviction.ReasonExpired}},
		Errors:  []eviction.FileError{{Name: "c", Err: errors.New("busy")}},
		Kept:    4,
	}, now)
	if summary.Removed["expired"] != 2 || summary.Failures != 1 || summary.Kept != 4 || summary.At != "2024-05-01T12:00:00.000Z" {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
