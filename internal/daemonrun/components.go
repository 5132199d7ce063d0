package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookdrop/internal/catalog"
	"bookdrop/internal/config"
	"bookdrop/internal/delivery"
	"bookdrop/internal/eviction"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/logging"
	"bookdrop/internal/metrics"
	"bookdrop/internal/mirror"
	"bookdrop/internal/notifications"
	"bookdrop/internal/router"
	"bookdrop/internal/staging"
	"bookdrop/internal/store"
	"bookdrop/internal/telegram"
)

// Components is the fully wired delivery pipeline.
type Components struct {
	Store       *store.Store
	Metrics     *metrics.Metrics
	Cache       handlecache.Cache
	Catalog     *catalog.Client
	Mirrors     *mirror.Downloader
	Staging     *staging.Store
	Telegram    *telegram.Client
	Coordinator *delivery.Coordinator
	// Deliverer is the coordinator wrapped with operator alerts; the router
	// and the daemon API both go through it.
	Deliverer   router.Deliverer
	Notifier    notifications.Service
	Router      *router.Router
	Sweeper     *eviction.Sweeper
	Scheduler   *eviction.Scheduler

	alerts *alerter
}

// Build opens storage and constructs every component from cfg. Callers own
// the result and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.ValidateForDelivery(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	c := &Components{Metrics: metrics.New()}
	var err error
	if c.Store, err = store.Open(cfg); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := c.wire(ctx, cfg, logger); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var err error
	if c.Cache, err = handlecache.Open(ctx, cfg, c.Store, logger); err != nil {
		return fmt.Errorf("open handle cache: %w", err)
	}
	if c.Catalog, err = catalog.NewFromConfig(cfg); err != nil {
		return fmt.Errorf("catalog client: %w", err)
	}
	if c.Mirrors, err = mirror.NewFromConfig(cfg, mirror.WithLogger(logger), mirror.WithMetrics(c.Metrics)); err != nil {
		return fmt.Errorf("mirror downloader: %w", err)
	}
	if c.Staging, err = staging.NewFromConfig(cfg, c.Store, staging.WithLogger(logger)); err != nil {
		return fmt.Errorf("staging store: %w", err)
	}
	if c.Telegram, err = telegram.NewFromConfig(cfg, telegram.WithLogger(logger)); err != nil {
		return fmt.Errorf("telegram client: %w", err)
	}
	c.Coordinator, err = delivery.New(cfg, delivery.Deps{
		Cache:   c.Cache,
		Catalog: c.Catalog,
		Fetcher: c.Mirrors,
		Stager:  c.Staging,
		Surface: telegram.NewSurface(c.Telegram, time.Local),
		Metrics: c.Metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("delivery coordinator: %w", err)
	}
	c.Notifier = notifications.NewService(cfg)
	c.alerts = newAlerter(c.Notifier, logger)
	c.Deliverer = &alertingDeliverer{next: c.Coordinator, alerts: c.alerts}
	if c.Router, err = router.NewBookRouter(c.Deliverer, c.Telegram, logger); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	c.Sweeper = eviction.NewSweeper(c.Staging, c.Store, logger, c.Metrics)
	c.Scheduler = eviction.NewScheduler(c.Sweeper, cfg.SweepInterval(), logger,
		eviction.WithSweepHook(c.alerts.sweepHook))
	return nil
}

// Close releases the cache backend and the database.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	if c.alerts != nil {
		c.alerts.wait()
	}
	var errs []error
	if closer, ok := c.Cache.(handlecache.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
