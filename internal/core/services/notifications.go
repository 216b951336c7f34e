package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/metrics"
	"tutorlink/pkg/logging"
)

type INotificationFeed interface {
	Fetch(ctx context.Context, actorID string) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id string) error
	UnreadCount() int
	Reset()
}

// NotificationFeed is the actor's notification list, separate from chat
// unread counters.
type NotificationFeed struct {
	mu      sync.Mutex
	log     *slog.Logger
	api     domain.NotificationAPI
	metrics *metrics.Metrics

	actorID string
	items   []domain.Notification
	token   uint64
}

var _ INotificationFeed = (*NotificationFeed)(nil)

func NewNotificationFeed(log *slog.Logger, api domain.NotificationAPI, m *metrics.Metrics) *NotificationFeed {
	return &NotificationFeed{log: log, api: api, metrics: m}
}

func (f *NotificationFeed) Bind(actorID string) {
	f.mu.Lock()
	f.actorID = actorID
	f.mu.Unlock()
}

// Attach refetches when the server announces a notification and after
// every connect. Fetches run off the socket read loop.
func (f *NotificationFeed) Attach(subs *contracts.Subscriptions) {
	refetch := func(json.RawMessage) {
		go func() {
			if err := f.Refresh(context.Background()); err != nil && !errors.Is(err, domain.ErrStaleResult) {
				f.log.Warn("notifications - refetch - failed", logging.Err(err))
			}
		}()
	}
	subs.On(domain.EventNewNotification, refetch)
	subs.On(domain.EventConnect, refetch)
}

// Refresh refetches for the bound actor. It does nothing when none is bound.
// The actor and the fetch token are taken together so a Reset or Bind in
// between drops the result.
func (f *NotificationFeed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	actorID := f.actorID
	if actorID == "" {
		f.mu.Unlock()
		return nil
	}
	f.token++
	token := f.token
	f.mu.Unlock()

	ctx, span := tracer.Start(ctx, "NotificationFeed.Refresh", trace.WithAttributes(
		attribute.String("actor.id", actorID),
	))
	defer span.End()
	_, err := f.fetch(ctx, actorID, token, actorID)
	return err
}

func (f *NotificationFeed) Fetch(ctx context.Context, actorID string) ([]domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "NotificationFeed.Fetch", trace.WithAttributes(
		attribute.String("actor.id", actorID),
	))
	defer span.End()

	if actorID == "" {
		err := domain.InvalidArguments("fetch notifications requires an actor id")
		span.RecordError(err)
		return nil, err
	}
	f.mu.Lock()
	f.token++
	token, bound := f.token, f.actorID
	f.mu.Unlock()
	return f.fetch(ctx, actorID, token, bound)
}

// fetch applies the result only while token is the latest fetch and the
// bound actor is still bound.
func (f *NotificationFeed) fetch(ctx context.Context, actorID string, token uint64, bound string) ([]domain.Notification, error) {
	span := trace.SpanFromContext(ctx)
	items, err := f.api.FetchNotifications(ctx, actorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		f.log.ErrorContext(ctx, "notifications - fetch - api failed", logging.Actor(actorID), logging.Err(err))
		return nil, err
	}

	f.mu.Lock()
	if token != f.token || bound != f.actorID {
		f.mu.Unlock()
		f.log.DebugContext(ctx, "notifications - fetch - stale result dropped", logging.Actor(actorID))
		return nil, domain.ErrStaleResult
	}
	f.items = append([]domain.Notification(nil), items...)
	unread := f.unreadLocked()
	out := append([]domain.Notification(nil), f.items...)
	f.mu.Unlock()

	f.metrics.UnreadNotifications(unread)
	f.log.DebugContext(ctx, "notifications - fetch - success", logging.Actor(actorID), slog.Int("total", len(items)), slog.Int("unread", unread))
	return out, nil
}

// MarkRead flips exactly one entry once the server has accepted it.
func (f *NotificationFeed) MarkRead(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "NotificationFeed.MarkRead", trace.WithAttributes(
		attribute.String("notification.id", id),
	))
	defer span.End()

	if id == "" {
		err := domain.InvalidArguments("mark read requires a notification id")
		span.RecordError(err)
		return err
	}
	if err := f.api.MarkNotificationRead(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark read failed")
		f.log.WarnContext(ctx, "notifications - mark read - api failed", slog.String("notification_id", id), logging.Err(err))
		return err
	}

	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].IsRead = true
			break
		}
	}
	unread := f.unreadLocked()
	f.mu.Unlock()
	f.metrics.UnreadNotifications(unread)
	return nil
}

func (f *NotificationFeed) Items() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification(nil), f.items...)
}

func (f *NotificationFeed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unreadLocked()
}

func (f *NotificationFeed) Reset() {
	f.mu.Lock()
	f.token++
	f.items = nil
	f.actorID = ""
	f.mu.Unlock()
	f.metrics.UnreadNotifications(0)
}

func (f *NotificationFeed) unreadLocked() int {
	n := 0
	for _, it := range f.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}
