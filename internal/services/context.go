package services

import "context"

type contextKey string

const (
	bookIDKey    contextKey = "book_id"
	formatKey    contextKey = "format"
	chatIDKey    contextKey = "chat_id"
	requestIDKey contextKey = "request_id"
)

// WithBookID annotates context with the catalog book identifier.
func WithBookID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, bookIDKey, id)
}

// BookIDFromContext extracts the book identifier if present.
func BookIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(bookIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithFormat annotates context with the requested book format.
func WithFormat(ctx context.Context, format string) context.Context {
	if format == "" {
		return ctx
	}
	return context.WithValue(ctx, formatKey, format)
}

// FormatFromContext returns the requested format if present.
func FormatFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(formatKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithChatID annotates context with the recipient chat.
func WithChatID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, chatIDKey, id)
}

// ChatIDFromContext extracts the recipient chat if present.
func ChatIDFromContext(ctx context.Context) (int64, bool) {
	if v, ok := ctx.Value(chatIDKey).(int64); ok {
		return v, true
	}
	return 0, false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
