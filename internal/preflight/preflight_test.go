package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookdrop/internal/config"
	"bookdrop/internal/mirror"
	"bookdrop/internal/telegram"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckMirror(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD request, got %s", r.Method)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer up.Close()
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	d, err := mirror.New([]mirror.Endpoint{
		{Name: "up", BaseURL: up.URL, Timeout: time.Second},
		{Name: "down", BaseURL: downURL, Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("mirror.New: %v", err)
	}
	eps := d.Endpoints()

	if result := CheckMirror(context.Background(), d, eps[0]); !result.Passed {
		t.Fatalf("expected reachable mirror to pass, got: %s", result.Detail)
	}
	result := CheckMirror(context.Background(), d, eps[1])
	if result.Passed {
		t.Fatal("expected unreachable mirror to fail")
	}
	if result.Name != "Mirror down" || !strings.Contains(result.Detail, "unreachable") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	if result := CheckCatalog(context.Background(), srv.URL); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	if result := CheckCatalog(context.Background(), broken.URL); result.Passed {
		t.Fatal("expected failure for 502")
	}

	if result := CheckCatalog(context.Background(), ""); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func newBotServer(t *testing.T, status int, body string) *telegram.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getMe") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	client, err := telegram.New("123:abc", telegram.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("telegram.New: %v", err)
	}
	return client
}

func TestCheckBot(t *testing.T) {
	ok := newBotServer(t, http.StatusOK, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Books","username":"bookdrop_bot"}}`)
	result := CheckBot(context.Background(), ok)
	if !result.Passed || result.Detail != "@bookdrop_bot" {
		t.Fatalf("unexpected result: %+v", result)
	}

	unauthorized := newBotServer(t, http.StatusUnauthorized, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	result = CheckBot(context.Background(), unauthorized)
	if result.Passed || !strings.Contains(result.Detail, "invalid bot token") {
		t.Fatalf("unexpected result: %+v", result)
	}
	if strings.Contains(result.Detail, "123:abc") {
		t.Fatal("bot token leaked into check detail")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, Targets{})
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Catalog.BaseURL = ""

	results := RunAll(context.Background(), &cfg, Targets{})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesRemoteTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "missing")
	cfg.Catalog.BaseURL = srv.URL

	d, err := mirror.New([]mirror.Endpoint{{Name: "primary", BaseURL: srv.URL, Timeout: time.Second}})
	if err != nil {
		t.Fatalf("mirror.New: %v", err)
	}
	bot := newBotServer(t, http.StatusOK, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Books"}}`)

	results := RunAll(context.Background(), &cfg, Targets{Mirrors: d, Bot: bot})
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := "Staging directory,Data directory,Catalog,Mirror primary,Telegram bot"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("unexpected checks: got %s want %s", got, want)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Data directory" {
		t.Fatalf("expected only the missing data dir to fail, got %+v", failed)
	}
}
