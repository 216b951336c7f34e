package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"tutorlink/internal/core/contracts"
	"tutorlink/pkg/logging"
)

// Refresher is the notification feed as seen by the poller.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// NotificationPoller refetches the notification feed on a cron schedule as
// a fallback for new-notification events missed while disconnected.
type NotificationPoller struct {
	log      *slog.Logger
	feed     Refresher
	schedule string
	timeout  time.Duration
}

func NewNotificationPoller(log *slog.Logger, feed Refresher, schedule string) contracts.AsyncWorker {
	return &NotificationPoller{
		log:      log,
		feed:     feed,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

// Run blocks until ctx is done. Overlapping ticks are skipped.
func (w *NotificationPoller) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, func() {
		tickCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		_ = w.Tick(tickCtx)
	}); err != nil {
		w.log.ErrorContext(ctx, "worker - notification poller - bad schedule", slog.String("schedule", w.schedule), logging.Err(err))
		return err
	}
	w.log.InfoContext(ctx, "worker - notification poller - started", slog.String("schedule", w.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	w.log.InfoContext(ctx, "worker - notification poller - stopped")
	return nil
}

func (w *NotificationPoller) Tick(ctx context.Context) error {
	if err := w.feed.Refresh(ctx); err != nil {
		w.log.WarnContext(ctx, "worker - notification poller - refresh failed", logging.Err(err))
		return err
	}
	return nil
}
