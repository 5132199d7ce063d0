package services_test

import (
	"context"
	"testing"

	"bookdrop/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithBookID(ctx, 42)
	ctx = services.WithFormat(ctx, "epub")
	ctx = services.WithChatID(ctx, 7)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.BookIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected book id: %v %v", id, ok)
	}
	if format, ok := services.FormatFromContext(ctx); !ok || format != "epub" {
		t.Fatalf("unexpected format: %v %v", format, ok)
	}
	if chat, ok := services.ChatIDFromContext(ctx); !ok || chat != 7 {
		t.Fatalf("unexpected chat id: %v %v", chat, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankFormatPreservesContext(t *testing.T) {
	ctx := services.WithFormat(context.Background(), "")
	if _, ok := services.FormatFromContext(ctx); ok {
		t.Fatal("expected no format value")
	}
}
