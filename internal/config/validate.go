package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateMirrors(); err != nil {
		return err
	}
	if err := c.validateEviction(); err != nil {
		return err
	}
	if err := c.validateHandleCache(); err != nil {
		return err
	}
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDelivery() error {
	if c.Delivery.InlineThresholdBytes <= 0 {
		return errors.New("delivery.inline_threshold_bytes must be positive")
	}
	if c.Delivery.StagedTTLSeconds <= 0 {
		return errors.New("delivery.staged_ttl_seconds must be positive")
	}
	if c.Delivery.MaxArtifactBytes < c.Delivery.InlineThresholdBytes {
		return errors.New("delivery.max_artifact_bytes must not be smaller than delivery.inline_threshold_bytes")
	}
	if c.Delivery.ShareBaseURL != "" {
		if err := validateHTTPURL(c.Delivery.ShareBaseURL); err != nil {
			return fmt.Errorf("delivery.share_base_url: %w", err)
		}
	}
	return nil
}

func (c *Config) validateMirrors() error {
	if len(c.Mirrors) == 0 {
		return errors.New("at least one [[mirrors]] entry is required")
	}
	names := make(map[string]struct{}, len(c.Mirrors))
	for i, m := range c.Mirrors {
		if m.BaseURL == "" {
			return fmt.Errorf("mirrors[%d].base_url must be set", i)
		}
		if err := validateHTTPURL(m.BaseURL); err != nil {
			return fmt.Errorf("mirrors[%d].base_url: %w", i, err)
		}
		if m.Proxy != "" {
			parsed, err := url.Parse(m.Proxy)
			if err != nil {
				return fmt.Errorf("mirrors[%d].proxy: %w", i, err)
			}
			switch parsed.Scheme {
			case "http", "https", "socks5", "socks5h":
			default:
				return fmt.Errorf("mirrors[%d].proxy: unsupported scheme %q", i, parsed.Scheme)
			}
		}
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("mirrors[%d].name %q is duplicated", i, m.Name)
		}
		names[m.Name] = struct{}{}
	}
	return nil
}

func (c *Config) validateEviction() error {
	if c.Eviction.SweepIntervalSeconds <= 0 {
		return errors.New("eviction.sweep_interval_seconds must be positive")
	}
	for _, name := range c.Eviction.ReservedFiles {
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("eviction.reserved_files entry %q must be a bare file name", name)
		}
	}
	return nil
}

func (c *Config) validateHandleCache() error {
	switch c.HandleCache.Backend {
	case HandleCacheSQLite:
	case HandleCacheRedis:
		if c.HandleCache.RedisAddr == "" {
			return errors.New("handle_cache.redis_addr must be set when handle_cache.backend is redis")
		}
	default:
		return fmt.Errorf("handle_cache.backend must be %q or %q, got %q", HandleCacheSQLite, HandleCacheRedis, c.HandleCache.Backend)
	}
	if c.HandleCache.LRUSize < 0 {
		return errors.New("handle_cache.lru_size must be zero (disabled) or positive")
	}
	return nil
}

func (c *Config) validateTelegram() error {
	if c.Telegram.RequestsPerSecond < 0 {
		return errors.New("telegram.requests_per_second must not be negative")
	}
	if err := validateHTTPURL(c.Telegram.BaseURL); err != nil {
		return fmt.Errorf("telegram.base_url: %w", err)
	}
	if c.Telegram.WebhookURL != "" {
		if err := validateHTTPURL(c.Telegram.WebhookURL); err != nil {
			return fmt.Errorf("telegram.webhook_url: %w", err)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	if err := validateHTTPURL(c.Notifications.NtfyTopic); err != nil {
		return fmt.Errorf("notifications.ntfy_topic: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

// ValidateForDelivery checks the settings a running delivery pipeline needs
// beyond what Validate enforces for CLI-only use.
func (c *Config) ValidateForDelivery() error {
	if c.Telegram.BotToken == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("telegram.bot_token is required. Set BOOKDROP_BOT_TOKEN env var or edit %s (create with 'bookdrop config init')", defaultPath)
	}
	if c.Delivery.ShareBaseURL == "" {
		return errors.New("delivery.share_base_url is required to deliver files above the inline threshold")
	}
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog.base_url is required to resolve book metadata")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
