package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Delivery contains the fixed delivery constants.
type Delivery struct {
	// ShareBaseURL is the public server that serves the staging directory
	// through the reserved bootstrap script.
	ShareBaseURL         string `toml:"share_base_url"`
	InlineThresholdBytes int64  `toml:"inline_threshold_bytes"`
	StagedTTLSeconds     int    `toml:"staged_ttl_seconds"`
	MaxConcurrentFetches int    `toml:"max_concurrent_fetches"`
	MaxArtifactBytes     int64  `toml:"max_artifact_bytes"`
}

// Mirror describes one upstream download endpoint.
type Mirror struct {
	Name           string `toml:"name"`
	BaseURL        string `toml:"base_url"`
	Proxy          string `toml:"proxy"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Eviction contains configuration for the staged file reclaimer.
type Eviction struct {
	SweepIntervalSeconds int      `toml:"sweep_interval_seconds"`
	ReservedFiles        []string `toml:"reserved_files"`
}

// HandleCache selects and tunes the handle cache backend.
type HandleCache struct {
	Backend       string `toml:"backend"`
	LRUSize       int    `toml:"lru_size"`
	LRUTTLSeconds int    `toml:"lru_ttl_seconds"`
	RedisAddr     string `toml:"redis_addr"`
	RedisDB       int    `toml:"redis_db"`
	RedisPassword string `toml:"redis_password"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// Telegram contains configuration for the delivery surface.
type Telegram struct {
	BotToken          string  `toml:"bot_token"`
	BaseURL           string  `toml:"base_url"`
	WebhookPath       string  `toml:"webhook_path"`
	// WebhookURL is the public URL registered with the Bot API at startup.
	// Leave empty when the webhook is registered out of band.
	WebhookURL        string  `toml:"webhook_url"`
	WebhookSecret     string  `toml:"webhook_secret"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Catalog contains configuration for the book metadata service.
type Catalog struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for operator alerts.
type Notifications struct {
	// NtfyTopic is the full ntfy topic URL. Empty disables alerts.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	MaxPerHour            int    `toml:"max_per_hour"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for bookdrop.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Delivery: inline threshold, staged TTL, and share URL
//   - Mirrors: ordered upstream endpoints
//   - Eviction: sweep interval and reserved files
//   - HandleCache: handle cache backend selection
//   - Telegram: delivery surface credentials and limits
//   - Catalog: book metadata service
//   - Notifications: ntfy operator alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Delivery      Delivery      `toml:"delivery"`
	Mirrors       []Mirror      `toml:"mirrors"`
	Eviction      Eviction      `toml:"eviction"`
	HandleCache   HandleCache   `toml:"handle_cache"`
	Telegram      Telegram      `toml:"telegram"`
	Catalog       Catalog       `toml:"catalog"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// Mirrors in the file replace the defaults rather than appending.
		cfg.Mirrors = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Mirrors) == 0 {
			cfg.Mirrors = defaultMirrors()
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bookdrop.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "bookdrop.db")
}

// LockPath returns the daemon single-instance lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "bookdrop.lock")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "bookdrop.pid")
}

// StagedTTL returns the lifetime of a staged file as a duration.
func (c *Config) StagedTTL() time.Duration {
	return time.Duration(c.Delivery.StagedTTLSeconds) * time.Second
}

// SweepInterval returns the eviction sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Eviction.SweepIntervalSeconds) * time.Second
}

// HandleCacheLRUTTL returns how long a handle stays in the in-memory layer.
func (c *Config) HandleCacheLRUTTL() time.Duration {
	return time.Duration(c.HandleCache.LRUTTLSeconds) * time.Second
}

// Timeout returns the per-attempt deadline for the mirror.
func (m Mirror) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}
