package daemon_test

import (
	"context"
	"testing"
	"time"

	"bookdrop/internal/books"
	"bookdrop/internal/config"
	"bookdrop/internal/daemon"
	"bookdrop/internal/delivery"
	"bookdrop/internal/eviction"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/router"
	"bookdrop/internal/staging"
	"bookdrop/internal/telegram"
	"bookdrop/internal/testsupport"
)

type stubDeliverer struct {
	invalidated []books.Format
}

func (s *stubDeliverer) Deliver(context.Context, delivery.Request) delivery.Outcome {
	return delivery.Outcome{Kind: delivery.KindSentInline, Handle: "H"}
}

func (s *stubDeliverer) Refresh(context.Context, delivery.Request) delivery.Outcome {
	return delivery.Outcome{Kind: delivery.KindSentAsLink}
}

func (s *stubDeliverer) ReportBroken(_ context.Context, _ int64, format books.Format) error {
	s.invalidated = append(s.invalidated, format)
	return nil
}

type chanDispatcher struct {
	seen chan telegram.Update
	err  error
}

func (d *chanDispatcher) Dispatch(_ context.Context, update telegram.Update) (string, error) {
	d.seen <- update
	return "download", d.err
}

type harness struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	staging    *staging.Store
	cache      handlecache.Cache
	dispatcher *chanDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	stage, err := staging.NewFromConfig(cfg, st)
	if err != nil {
		t.Fatalf("staging.NewFromConfig: %v", err)
	}
	cache := handlecache.NewSQLite(st)
	sweeper := eviction.NewSweeper(stage, st, nil, nil)
	dispatcher := &chanDispatcher{seen: make(chan telegram.Update, 4)}
	d, err := daemon.New(cfg, daemon.Deps{
		Store:      st,
		Staging:    stage,
		Cache:      cache,
		Deliverer:  &stubDeliverer{},
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
		Scheduler:  eviction.NewScheduler(sweeper, time.Hour, nil),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &harness{cfg: cfg, daemon: d, staging: stage, cache: cache, dispatcher: dispatcher}
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := h.daemon.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != h.cfg.LockPath() || status.StagingDir != h.cfg.Paths.StagingDir {
		t.Fatalf("unexpected status paths %+v", status)
	}

	// Second start should fail
	if err := h.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	h.daemon.Stop()
	if h.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceRefusesLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.daemon.Stop()

	st := testsupport.MustOpenStore(t, h.cfg)
	stage, err := staging.NewFromConfig(h.cfg, st)
	if err != nil {
		t.Fatalf("staging.NewFromConfig: %v", err)
	}
	sweeper := eviction.NewSweeper(stage, st, nil, nil)
	other, err := daemon.New(h.cfg, daemon.Deps{
		Store:     st,
		Staging:   stage,
		Cache:     handlecache.NewSQLite(st),
		Deliverer: &stubDeliverer{},
		Sweeper:   sweeper,
		Scheduler: eviction.NewScheduler(sweeper, time.Hour, nil),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("expected second instance to be refused")
	}
}

func TestHandleUpdateRequiresRunningDaemon(t *testing.T) {
	h := newHarness(t)
	update := telegram.Update{UpdateID: 5}
	if h.daemon.HandleUpdate(update) {
		t.Fatal("updates must be refused before Start")
	}

	if err := h.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.dispatcher.err = router.ErrNoRoute
	if !h.daemon.HandleUpdate(update) {
		t.Fatal("expected update to be accepted")
	}
	select {
	case got := <-h.dispatcher.seen:
		if got.UpdateID != 5 {
			t.Fatalf("unexpected update %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update was not dispatched")
	}

	h.daemon.Stop()
	if h.daemon.HandleUpdate(update) {
		t.Fatal("updates must be refused after Stop")
	}
}

func TestStatusReportsStagingAndHandles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.staging.Stage(ctx, "a.fb2", []byte("12345")); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := h.cache.Set(ctx, 1, books.FormatEPUB, "H1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	status := h.daemon.Status(ctx)
	if status.StagedFiles != 1 || status.StagedBytes != 5 || status.Handles != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	entries, err := h.daemon.Handles(ctx, 10)
	if err != nil || len(entries) != 1 || entries[0].Handle != "H1" {
		t.Fatalf("unexpected handles %+v err %v", entries, err)
	}
	result := h.daemon.Sweep(ctx)
	if len(result.Removed) != 0 || result.Kept != 1 {
		t.Fatalf("fresh file must survive a manual sweep, got %+v", result)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, daemon.Deps{}); err == nil {
		t.Fatal("expected missing dependencies to fail")
	}
	if _, err := daemon.New(nil, daemon.Deps{}); err == nil {
		t.Fatal("expected nil config to fail")
	}
}
