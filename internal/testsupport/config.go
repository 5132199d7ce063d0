package testsupport

import (
	"path/filepath"
	"testing"

	"bookdrop/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Delivery.ShareBaseURL = "https://books.example.org"
	cfgVal.Telegram.BotToken = "test-token"
	cfgVal.Catalog.BaseURL = "http://catalog.invalid"
	cfgVal.HandleCache.LRUSize = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// WithMirrors replaces the mirror list with direct endpoints at the given URLs.
func WithMirrors(urls ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Mirrors = nil
		for i, u := range urls {
			b.cfg.Mirrors = append(b.cfg.Mirrors, config.Mirror{
				Name:           "mirror-" + string(rune('a'+i)),
				BaseURL:        u,
				TimeoutSeconds: 5,
			})
		}
	}
}

// WithInlineThreshold overrides the inline delivery size limit.
func WithInlineThreshold(bytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Delivery.InlineThresholdBytes = bytes
	}
}

// WithStagedTTL overrides the staged file lifetime in seconds.
func WithStagedTTL(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Delivery.StagedTTLSeconds = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
