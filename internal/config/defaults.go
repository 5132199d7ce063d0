package config

const (
	defaultConfigPath           = "~/.config/bookdrop/config.toml"
	defaultStagingDir           = "~/.local/share/bookdrop/staging"
	defaultDataDir              = "~/.local/share/bookdrop"
	defaultLogDir               = "~/.local/share/bookdrop/logs"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultInlineThresholdBytes = 50 * 1024 * 1024
	defaultStagedTTLSeconds     = 3600
	defaultMaxConcurrentFetches = 8
	defaultMaxArtifactBytes     = 512 * 1024 * 1024
	defaultMirrorTimeoutSeconds = 15
	defaultSweepIntervalSeconds = 60
	defaultReservedFile         = "download.php"
	defaultHandleCacheBackend   = "sqlite"
	defaultHandleCacheLRUSize   = 4096
	defaultHandleCacheLRUTTL    = 60
	defaultRedisPrefix          = "bookdrop"
	defaultTelegramBaseURL      = "https://api.telegram.org"
	defaultTelegramWebhookPath  = "/telegram/webhook"
	defaultTelegramRate         = 25
	defaultTelegramTimeout      = 60
	defaultCatalogTimeout       = 10
	defaultNtfyTimeout          = 10
	defaultNtfyMaxPerHour       = 12
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// Handle cache backend identifiers.
const (
	HandleCacheSQLite = "sqlite"
	HandleCacheRedis  = "redis"
)

func defaultMirrors() []Mirror {
	return []Mirror{
		{
			Name:           "flibusta",
			BaseURL:        "http://flibusta.is",
			TimeoutSeconds: defaultMirrorTimeoutSeconds,
		},
		{
			Name:           "flibusta-onion",
			BaseURL:        "http://flibustaongezhld6dibs2dps6vm4nvqg2kp7vgowbu76tzopgnhazqd.onion",
			Proxy:          "http://localhost:8118",
			TimeoutSeconds: defaultMirrorTimeoutSeconds,
		},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Delivery: Delivery{
			InlineThresholdBytes: defaultInlineThresholdBytes,
			StagedTTLSeconds:     defaultStagedTTLSeconds,
			MaxConcurrentFetches: defaultMaxConcurrentFetches,
			MaxArtifactBytes:     defaultMaxArtifactBytes,
		},
		Mirrors: defaultMirrors(),
		Eviction: Eviction{
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
			ReservedFiles:        []string{defaultReservedFile},
		},
		HandleCache: HandleCache{
			Backend:       defaultHandleCacheBackend,
			LRUSize:       defaultHandleCacheLRUSize,
			LRUTTLSeconds: defaultHandleCacheLRUTTL,
			RedisPrefix:   defaultRedisPrefix,
		},
		Telegram: Telegram{
			BaseURL:           defaultTelegramBaseURL,
			WebhookPath:       defaultTelegramWebhookPath,
			RequestsPerSecond: defaultTelegramRate,
			TimeoutSeconds:    defaultTelegramTimeout,
		},
		Catalog: Catalog{
			TimeoutSeconds: defaultCatalogTimeout,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
			MaxPerHour:            defaultNtfyMaxPerHour,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
