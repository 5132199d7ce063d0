package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDelivery()
	c.normalizeMirrors()
	c.normalizeEviction()
	c.normalizeHandleCache()
	c.normalizeTelegram()
	c.normalizeCatalog()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("BOOKDROP_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeDelivery() {
	c.Delivery.ShareBaseURL = strings.TrimRight(strings.TrimSpace(c.Delivery.ShareBaseURL), "/")
	if c.Delivery.MaxConcurrentFetches <= 0 {
		c.Delivery.MaxConcurrentFetches = defaultMaxConcurrentFetches
	}
	if c.Delivery.MaxArtifactBytes <= 0 {
		c.Delivery.MaxArtifactBytes = defaultMaxArtifactBytes
	}
}

func (c *Config) normalizeMirrors() {
	for i := range c.Mirrors {
		m := &c.Mirrors[i]
		m.Name = strings.TrimSpace(m.Name)
		m.BaseURL = strings.TrimRight(strings.TrimSpace(m.BaseURL), "/")
		m.Proxy = strings.TrimSpace(m.Proxy)
		if m.Name == "" {
			m.Name = fmt.Sprintf("mirror-%d", i)
		}
		if m.TimeoutSeconds <= 0 {
			m.TimeoutSeconds = defaultMirrorTimeoutSeconds
		}
	}
}

func (c *Config) normalizeEviction() {
	reserved := make([]string, 0, len(c.Eviction.ReservedFiles)+1)
	seen := make(map[string]struct{}, len(c.Eviction.ReservedFiles)+1)
	for _, name := range append([]string{defaultReservedFile}, c.Eviction.ReservedFiles...) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		reserved = append(reserved, name)
	}
	c.Eviction.ReservedFiles = reserved
}

func (c *Config) normalizeHandleCache() {
	c.HandleCache.Backend = strings.ToLower(strings.TrimSpace(c.HandleCache.Backend))
	if c.HandleCache.Backend == "" {
		c.HandleCache.Backend = defaultHandleCacheBackend
	}
	if c.HandleCache.LRUTTLSeconds <= 0 {
		c.HandleCache.LRUTTLSeconds = defaultHandleCacheLRUTTL
	}
	c.HandleCache.RedisAddr = strings.TrimSpace(c.HandleCache.RedisAddr)
	c.HandleCache.RedisPrefix = strings.TrimSpace(c.HandleCache.RedisPrefix)
	if c.HandleCache.RedisPrefix == "" {
		c.HandleCache.RedisPrefix = defaultRedisPrefix
	}
	if c.HandleCache.RedisPassword == "" {
		if value, ok := os.LookupEnv("BOOKDROP_REDIS_PASSWORD"); ok {
			c.HandleCache.RedisPassword = value
		}
	}
}

func (c *Config) normalizeTelegram() {
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	if c.Telegram.BotToken == "" {
		if value, ok := os.LookupEnv("BOOKDROP_BOT_TOKEN"); ok {
			c.Telegram.BotToken = strings.TrimSpace(value)
		}
	}
	c.Telegram.BaseURL = strings.TrimRight(strings.TrimSpace(c.Telegram.BaseURL), "/")
	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = defaultTelegramBaseURL
	}
	c.Telegram.WebhookPath = strings.TrimSpace(c.Telegram.WebhookPath)
	if c.Telegram.WebhookPath == "" {
		c.Telegram.WebhookPath = defaultTelegramWebhookPath
	}
	if !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
		c.Telegram.WebhookPath = "/" + c.Telegram.WebhookPath
	}
	c.Telegram.WebhookURL = strings.TrimSpace(c.Telegram.WebhookURL)
	c.Telegram.WebhookSecret = strings.TrimSpace(c.Telegram.WebhookSecret)
	if c.Telegram.WebhookSecret == "" {
		if value, ok := os.LookupEnv("BOOKDROP_WEBHOOK_SECRET"); ok {
			c.Telegram.WebhookSecret = strings.TrimSpace(value)
		}
	}
	if c.Telegram.TimeoutSeconds <= 0 {
		c.Telegram.TimeoutSeconds = defaultTelegramTimeout
	}
}

func (c *Config) normalizeCatalog() {
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	if c.Catalog.TimeoutSeconds <= 0 {
		c.Catalog.TimeoutSeconds = defaultCatalogTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeout
	}
	if c.Notifications.MaxPerHour <= 0 {
		c.Notifications.MaxPerHour = defaultNtfyMaxPerHour
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
