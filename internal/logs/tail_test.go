package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bookdrop/internal/logs"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookdrop.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", result.Offset)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("unexpected result for missing file: %+v", result)
	}
}

func TestTailResumesAndLeavesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookdrop.log")
	if err := os.WriteFile(path, []byte("one\ntwo\npart"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 4})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "two" || result.Offset != 8 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// A shorter file means a new run replaced it.
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}
	result, err = logs.Tail(context.Background(), path, logs.TailOptions{Offset: 100})
	if err != nil {
		t.Fatalf("tail after truncate: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "fresh" {
		t.Fatalf("expected read from start after truncation, got %+v", result)
	}
}

func TestTailWaitsForNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookdrop.log")
	appendLine(t, path, "start")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	initial, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}

	done := make(chan logs.TailResult, 1)
	go func() {
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: initial.Offset, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("wait tail error: %v", err)
		}
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	appendLine(t, path, "later")

	select {
	case res := <-done:
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Fatalf("unexpected lines: %#v", res.Lines)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("tail did not return")
	}
}

func TestTailFiltersJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookdrop.log")
	appendLine(t, path, `{"level":"INFO","msg":"delivered","component":"delivery","book_id":42,"correlation_id":"req-1","event_type":"delivery_complete"}`)
	appendLine(t, path, `{"level":"DEBUG","msg":"attempt","component":"mirror","book_id":42,"correlation_id":"req-1"}`)
	appendLine(t, path, `{"level":"WARN","msg":"sweep failed","component":"eviction","event_type":"eviction_failed"}`)
	appendLine(t, path, `{"level":"INFO","msg":"delivered","component":"delivery","book_id":7,"correlation_id":"req-2"}`)

	tests := []struct {
		name   string
		filter logs.Filter
		want   int
	}{
		{"all", logs.Filter{}, 4},
		{"correlation", logs.Filter{CorrelationID: "req-1"}, 2},
		{"book", logs.Filter{BookID: 42}, 2},
		{"component", logs.Filter{Component: "delivery"}, 2},
		{"event", logs.Filter{EventType: "eviction_failed"}, 1},
		{"level", logs.Filter{MinLevel: "warn"}, 1},
		{"combined", logs.Filter{CorrelationID: "req-1", MinLevel: "info"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 10, Filter: tt.filter})
			if err != nil {
				t.Fatalf("tail: %v", err)
			}
			if len(res.Lines) != tt.want {
				t.Fatalf("expected %d lines, got %d: %#v", tt.want, len(res.Lines), res.Lines)
			}
		})
	}
}

func TestFilterConsoleFallback(t *testing.T) {
	line := "2026-01-02 10:00:00 WARN staged file reclaimed component=eviction book_id=42"
	if !(logs.Filter{Component: "eviction", BookID: 42}).Matches(line) {
		t.Fatal("expected console line to match by substring")
	}
	if (logs.Filter{MinLevel: "error"}).Matches(line) {
		t.Fatal("expected WARN line to be below error threshold")
	}
}

func TestFollowStreamsUntilCanceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookdrop.log")
	appendLine(t, path, "first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		lines []string
	)
	got := make(chan struct{}, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- logs.Follow(ctx, path, 5, logs.Filter{}, func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
			got <- struct{}{}
		})
	}()

	waitLine := func() {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatal("follow did not emit a line")
		}
	}
	waitLine()
	appendLine(t, path, "second")
	waitLine()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("follow returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
}
