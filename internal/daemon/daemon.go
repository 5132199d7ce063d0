package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bookdrop/internal/books"
	"bookdrop/internal/config"
	"bookdrop/internal/delivery"
	"bookdrop/internal/eviction"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/logging"
	"bookdrop/internal/metrics"
	"bookdrop/internal/router"
	"bookdrop/internal/services"
	"bookdrop/internal/staging"
	"bookdrop/internal/store"
	"bookdrop/internal/telegram"
)

// Dispatcher routes bot updates.
type Dispatcher interface {
	Dispatch(ctx context.Context, update telegram.Update) (string, error)
}

// Deps are the components the daemon runs. Everything except Dispatcher is
// required.
type Deps struct {
	Store      *store.Store
	Staging    *staging.Store
	Cache      handlecache.Cache
	Deliverer  router.Deliverer
	Dispatcher Dispatcher
	Sweeper    *eviction.Sweeper
	Scheduler  *eviction.Scheduler
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Daemon coordinates the long-running delivery services and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	staging    *staging.Store
	cache      handlecache.Cache
	deliverer  router.Deliverer
	dispatcher Dispatcher
	sweeper    *eviction.Sweeper
	scheduler  *eviction.Scheduler
	metrics    *metrics.Metrics

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	updates sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	StagingDir   string
	StagedFiles  int
	StagedBytes  int64
	Handles      int
	Sweeps       int
	LastSweep    eviction.SweepResult
	LastSweepAt  time.Time
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Staging == nil || deps.Cache == nil ||
		deps.Deliverer == nil || deps.Sweeper == nil || deps.Scheduler == nil {
		return nil, errors.New("daemon requires config, store, staging, cache, deliverer, sweeper, and scheduler")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      deps.Store,
		staging:    deps.Staging,
		cache:      deps.Cache,
		deliverer:  deps.Deliverer,
		dispatcher: deps.Dispatcher,
		sweeper:    deps.Sweeper,
		scheduler:  deps.Scheduler,
		metrics:    deps.Metrics,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the eviction scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bookdrop daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.scheduler.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start eviction scheduler: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("bookdrop daemon started",
		logging.String("lock", d.lockPath),
		logging.String("staging_dir", d.staging.Dir()),
		logging.Duration("staged_ttl", d.staging.TTL()),
	)
	return nil
}

// Stop stops background processing, waits for in-flight updates, and releases
// the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	d.updates.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("bookdrop daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if closer, ok := d.cache.(handlecache.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Deliver runs one delivery request.
func (d *Daemon) Deliver(ctx context.Context, req delivery.Request) delivery.Outcome {
	return d.deliverer.Deliver(ctx, req)
}

// Refresh runs one link refresh request.
func (d *Daemon) Refresh(ctx context.Context, req delivery.Request) delivery.Outcome {
	return d.deliverer.Refresh(ctx, req)
}

// InvalidateHandle drops the cached handle for a book and format.
func (d *Daemon) InvalidateHandle(ctx context.Context, bookID int64, format books.Format) error {
	return d.deliverer.ReportBroken(ctx, bookID, format)
}

// Handles lists cached handles when the backend supports listing.
func (d *Daemon) Handles(ctx context.Context, limit int) ([]handlecache.Entry, error) {
	lister, ok := d.cache.(handlecache.Lister)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "daemon", "list handles", "handle cache backend cannot list entries", nil)
	}
	return lister.List(ctx, limit)
}

// StagedFiles lists the staging directory.
func (d *Daemon) StagedFiles(ctx context.Context) ([]staging.File, error) {
	return d.staging.List(ctx)
}

// Sweep runs one eviction pass outside the schedule.
func (d *Daemon) Sweep(ctx context.Context) eviction.SweepResult {
	return d.sweeper.Sweep(ctx, time.Now())
}

// HandleUpdate dispatches a bot update in the background. The update is
// dropped when the daemon is not running.
func (d *Daemon) HandleUpdate(update telegram.Update) bool {
	d.mu.Lock()
	ctx := d.ctx
	if ctx == nil || d.dispatcher == nil {
		d.mu.Unlock()
		return false
	}
	d.updates.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.updates.Done()
		route, err := d.dispatcher.Dispatch(ctx, update)
		switch {
		case errors.Is(err, router.ErrNoRoute):
			d.logger.Debug("update not routed", logging.Int64("update_id", update.UpdateID))
		case err != nil:
			logging.WarnWithContext(d.logger, "update handling failed", "update_failed",
				logging.Int64("update_id", update.UpdateID),
				logging.String("route", route),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check telegram connectivity and bot token"),
				logging.String(logging.FieldImpact, "the user may not have received a reply"),
			)
		}
	}()
	return true
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		StagingDir:   d.staging.Dir(),
	}
	if files, err := d.staging.List(ctx); err == nil {
		status.StagedFiles = len(files)
		for _, f := range files {
			status.StagedBytes += f.Size
		}
	} else {
		d.logger.Debug("staging listing failed", logging.Error(err))
	}
	if lister, ok := d.cache.(handlecache.Lister); ok {
		if entries, err := lister.List(ctx, 0); err == nil {
			status.Handles = len(entries)
		}
	}
	status.LastSweep, status.LastSweepAt, status.Sweeps = d.scheduler.LastSweep()
	return status
}

// MetricsHandler exposes the Prometheus registry, or nil when metrics are off.
func (d *Daemon) MetricsHandler() http.Handler {
	if d.metrics == nil {
		return nil
	}
	return d.metrics.Handler()
}
