package catalog_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bookdrop/internal/catalog"
	"bookdrop/internal/services"
)

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := catalog.New(""); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBookDecodesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book/42" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":42,"title":"Война и мир","lang":"ru","file_type":"fb2",
			"authors":[{"id":1,"first_name":"Лев","last_name":"Толстой","middle_name":"Николаевич"}]}`))
	}))
	t.Cleanup(server.Close)

	client, err := catalog.New(server.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	book, err := client.Book(context.Background(), 42)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if book.Title != "Война и мир" || len(book.Authors) != 1 {
		t.Fatalf("unexpected book %+v", book)
	}
	if got := book.Authors[0].ShortName(); got != "Толстой Л Н" {
		t.Fatalf("unexpected short name %q", got)
	}
}

func TestBookNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client, err := catalog.New(server.URL)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = client.Book(context.Background(), 9)
		server.Close()
		if !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("status %d: expected not found, got %v", status, err)
		}
	}
}

func TestBookServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client, _ := catalog.New(server.URL)
	_, err := client.Book(context.Background(), 1)
	if !errors.Is(err, services.ErrTransientNetwork) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if services.ReasonFor(err) != services.ReasonTryLater {
		t.Fatalf("expected try-later reason, got %q", services.ReasonFor(err))
	}
}

func TestBookCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"id":5,"title":"T"}`))
	}))
	t.Cleanup(server.Close)

	client, _ := catalog.New(server.URL, catalog.WithCache(4, time.Minute))
	for i := 0; i < 3; i++ {
		if _, err := client.Book(context.Background(), 5); err != nil {
			t.Fatalf("Book: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream request, got %d", hits.Load())
	}
}

func TestBookRejectsInvalidID(t *testing.T) {
	client, _ := catalog.New("http://catalog.invalid")
	if _, err := client.Book(context.Background(), 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
