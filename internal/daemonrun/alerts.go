package daemonrun

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bookdrop/internal/books"
	"bookdrop/internal/delivery"
	"bookdrop/internal/eviction"
	"bookdrop/internal/logging"
	"bookdrop/internal/notifications"
	"bookdrop/internal/preflight"
	"bookdrop/internal/router"
	"bookdrop/internal/services"
)

const alertTimeout = 15 * time.Second

// alerter publishes operator alerts off the request path. Close waits for
// alerts already in flight.
type alerter struct {
	notifier notifications.Service
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func newAlerter(notifier notifications.Service, logger *slog.Logger) *alerter {
	return &alerter{notifier: notifier, logger: logger}
}

func (a *alerter) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		if err := a.notifier.Publish(sendCtx, event, payload); err != nil {
			a.logger.Warn("operator alert failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldEventType, "alert_failed"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "operator was not notified"),
			)
		}
	}()
}

func (a *alerter) wait() {
	a.wg.Wait()
}

// sweepHook alerts when a sweep could not reclaim some files.
func (a *alerter) sweepHook(ctx context.Context, result eviction.SweepResult, _ time.Time) {
	if len(result.Errors) == 0 {
		return
	}
	first := result.Errors[0]
	a.publish(ctx, notifications.EventSweepFailed, notifications.Payload{
		"failures": len(result.Errors),
		"sample":   first.Name + ": " + first.Err.Error(),
	})
}

func (a *alerter) preflightFailed(ctx context.Context, failed []preflight.Result) {
	if len(failed) == 0 {
		return
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	a.publish(ctx, notifications.EventPreflightFailed, notifications.Payload{
		"checks": strings.Join(names, ", "),
	})
}

// alertingDeliverer reports deliveries that failed for internal reasons.
// Not-found and try-later outcomes are routine and stay in the logs.
type alertingDeliverer struct {
	next   router.Deliverer
	alerts *alerter
}

var _ router.Deliverer = (*alertingDeliverer)(nil)

func (d *alertingDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Outcome {
	return d.check(ctx, req, d.next.Deliver(ctx, req))
}

func (d *alertingDeliverer) Refresh(ctx context.Context, req delivery.Request) delivery.Outcome {
	return d.check(ctx, req, d.next.Refresh(ctx, req))
}

func (d *alertingDeliverer) ReportBroken(ctx context.Context, bookID int64, format books.Format) error {
	return d.next.ReportBroken(ctx, bookID, format)
}

func (d *alertingDeliverer) check(ctx context.Context, req delivery.Request, out delivery.Outcome) delivery.Outcome {
	if out.Kind != delivery.KindFailed || out.Reason != services.ReasonInternal {
		return out
	}
	msg := "unknown error"
	if out.Err != nil {
		msg = out.Err.Error()
	}
	d.alerts.publish(ctx, notifications.EventDeliveryFailed, notifications.Payload{
		"bookID":    req.BookID,
		"format":    string(req.Format),
		"error":     msg,
		"requestID": out.RequestID,
	})
	return out
}
