package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"bookdrop/internal/config"
	"bookdrop/internal/daemon"
	"bookdrop/internal/logging"
	"bookdrop/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the bookdrop daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("bookdrop-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldCorrelationID, uuid.NewString()))

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.LogFileName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, time.Now(),
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "bookdrop-*.log", Keep: []string{logPath}},
	)
	logConfigSnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	comps, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("build delivery pipeline", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, daemon.Deps{
		Store:      comps.Store,
		Staging:    comps.Staging,
		Cache:      comps.Cache,
		Deliverer:  comps.Deliverer,
		Dispatcher: comps.Router,
		Sweeper:    comps.Sweeper,
		Scheduler:  comps.Scheduler,
		Metrics:    comps.Metrics,
		Logger:     logger,
	})
	if err != nil {
		_ = comps.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	server := daemon.NewAPIServer(cfg, d, logger)
	if err := server.Start(signalCtx); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.Telegram.WebhookURL != "" {
		if err := comps.Telegram.SetWebhook(signalCtx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logging.WarnWithContext(logger, "webhook registration failed", "webhook_register_failed",
				logging.Error(err),
				logging.String("webhook_url", cfg.Telegram.WebhookURL),
				logging.String(logging.FieldErrorHint, "check telegram.webhook_url and the bot token"),
				logging.String(logging.FieldImpact, "bot updates will not reach this daemon until the webhook is registered"),
			)
		}
	}

	preflightDone := make(chan struct{})
	go func() {
		defer close(preflightDone)
		logPreflight(signalCtx, logger, cfg, comps)
	}()
	defer func() { <-preflightDone }()

	<-signalCtx.Done()
	logger.Info("bookdrop daemon shutting down")
	return nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, comps *Components) {
	results := preflight.RunAll(ctx, cfg, preflight.Targets{Mirrors: comps.Mirrors, Bot: comps.Telegram})
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "deliveries depending on this check may fail"),
		)
	}
	comps.alerts.preflightFailed(ctx, preflight.Failed(results))
	logger.Info("preflight complete",
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))),
		logging.String(logging.FieldEventType, "preflight_complete"),
	)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	mirrors := make([]string, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		mirrors = append(mirrors, m.Name)
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("staging_dir", cfg.Paths.StagingDir),
		logging.String("database", cfg.DatabasePath()),
		logging.Int64("inline_threshold_bytes", cfg.Delivery.InlineThresholdBytes),
		logging.Duration("staged_ttl", cfg.StagedTTL()),
		logging.Duration("sweep_interval", cfg.SweepInterval()),
		logging.Any("mirrors", mirrors),
		logging.String("handle_cache", cfg.HandleCache.Backend),
		logging.Bool("webhook_configured", cfg.Telegram.WebhookURL != ""),
		logging.Bool("api_auth", cfg.Paths.APIToken != ""),
	)
}
