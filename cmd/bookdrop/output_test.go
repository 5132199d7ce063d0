package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"bookdrop/internal/api"
	"bookdrop/internal/services"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unreachable daemon", fmt.Errorf("cache invalidate: %w", api.ErrUnreachable), exitUnreachable},
		{"bad config", services.Wrap(services.ErrConfiguration, "config", "load", "", nil), exitUsage},
		{"bad argument", services.Wrap(services.ErrValidation, "cli", "parse", "", nil), exitUsage},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRenderTableTrimsLongHandles(t *testing.T) {
	handle := strings.Repeat("A", 60)
	out := renderTable(handleColumns, [][]string{{"42", "fb2", handle, "2026-01-02T03:04:05Z"}})
	if strings.Contains(out, handle) {
		t.Fatalf("expected handle to be trimmed:\n%s", out)
	}
	if !strings.Contains(out, strings.Repeat("A", 40)) {
		t.Fatalf("expected handle prefix to be kept:\n%s", out)
	}
	if !strings.Contains(out, "Handle") || !strings.Contains(out, "42") {
		t.Fatalf("missing header or book id:\n%s", out)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable(stagingColumns, [][]string{{"Tolstoy_War.epub"}})
	if !strings.Contains(out, "Tolstoy_War.epub") || !strings.Contains(out, "Expires") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without columns")
	}
}
