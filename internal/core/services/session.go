package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
)

var tracer = otel.Tracer("tutorlink-services")

// Connector is the part of the connection manager a session drives.
type Connector interface {
	Connect(ctx context.Context, actor domain.Actor) error
	Disconnect(ctx context.Context)
}

type ISession interface {
	// Login makes actor current. Another active actor is logged out first so
	// none of its state or listeners survive.
	Login(ctx context.Context, actor domain.Actor) error
	Logout(ctx context.Context)
	Actor() domain.Actor
}

// Components are the stores a session binds to the current actor.
type Components struct {
	Presence      *PresenceTracker
	Rooms         *RoomDirectory
	Sidebar       *Sidebar
	Conversation  *ConversationStore
	Calls         *CallController
	Notifications *NotificationFeed
}

type Session struct {
	mu   sync.Mutex
	log  *slog.Logger
	conn Connector
	bus  contracts.Socket
	c    Components

	actor    domain.Actor
	subs     *contracts.Subscriptions
	restored bool
	restore  sync.WaitGroup
}

var _ ISession = (*Session)(nil)

func NewSession(log *slog.Logger, conn Connector, bus contracts.Socket, c Components) *Session {
	return &Session{log: log, conn: conn, bus: bus, c: c}
}

func (s *Session) Login(ctx context.Context, actor domain.Actor) error {
	ctx, span := tracer.Start(ctx, "Session.Login", trace.WithAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer span.End()

	if _, err := domain.NewActor(actor.ID, actor.Role); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid actor")
		// The connector reports and alerts the missing identity itself.
		_ = s.conn.Connect(ctx, actor)
		return err
	}

	s.mu.Lock()
	current := s.actor
	s.mu.Unlock()
	if current == actor {
		return nil
	}
	if !current.IsZero() {
		s.log.InfoContext(ctx, "session - login - switching actor", slog.String("from", current.String()), slog.String("to", actor.String()))
		s.Logout(ctx)
	}

	s.c.Conversation.Bind(actor.ID)
	s.c.Calls.Bind(actor)
	s.c.Notifications.Bind(actor.ID)

	subs := contracts.NewSubscriptions(s.bus)
	s.c.Presence.Attach(subs)
	s.c.Conversation.Attach(subs)
	s.c.Calls.Attach(subs)
	s.c.Notifications.Attach(subs)
	subs.On(domain.EventConnect, s.handleConnect)

	s.mu.Lock()
	s.actor = actor
	s.subs = subs
	s.restored = false
	s.mu.Unlock()

	if err := s.conn.Connect(ctx, actor); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		s.Logout(ctx)
		return err
	}

	if _, err := s.c.Sidebar.Refresh(ctx, actor.ID, ""); err != nil && !errors.Is(err, domain.ErrStaleResult) {
		s.log.WarnContext(ctx, "session - login - sidebar refresh failed", logging.Actor(actor.ID), logging.Err(err))
	}
	s.log.InfoContext(ctx, "session - login - success", logging.Actor(actor.ID), logging.Role(string(actor.Role)))
	return nil
}

// Logout releases every listener, closes the connection and clears all
// per actor state.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	subs, actor := s.subs, s.actor
	s.subs = nil
	s.actor = domain.Actor{}
	s.mu.Unlock()

	released := 0
	if subs != nil {
		released = subs.Len()
		subs.Close()
	}
	s.conn.Disconnect(ctx)
	s.restore.Wait()

	s.c.Calls.Reset(ctx)
	s.c.Presence.Reset()
	s.c.Conversation.Reset()
	s.c.Sidebar.Reset()
	s.c.Rooms.Reset()
	s.c.Notifications.Reset()
	if !actor.IsZero() {
		s.log.InfoContext(ctx, "session - logout - state cleared", logging.Actor(actor.ID), slog.Int("listeners", released))
	}
}

func (s *Session) Actor() domain.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

// WaitRestore blocks until a pending last room restore has finished.
func (s *Session) WaitRestore() { s.restore.Wait() }

// handleConnect restores the previous conversation once per login. The
// load runs off the socket read loop.
func (s *Session) handleConnect(json.RawMessage) {
	s.mu.Lock()
	actor := s.actor
	if s.restored || actor.IsZero() {
		s.mu.Unlock()
		return
	}
	s.restored = true
	s.restore.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.restore.Done()
		s.restoreLastRoom(context.Background(), actor)
	}()
}

func (s *Session) restoreLastRoom(ctx context.Context, actor domain.Actor) {
	roomID, err := s.c.Rooms.LastRoom(ctx, actor.ID)
	if err != nil || roomID == "" {
		return
	}
	if _, err := s.c.Conversation.LoadRoom(ctx, roomID, actor.ID); err != nil {
		if errors.Is(err, domain.ErrStaleResult) {
			return
		}
		s.log.WarnContext(ctx, "session - restore - last room not loaded", logging.Actor(actor.ID), logging.Room(roomID), logging.Err(err))
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMalformedRoom) {
			s.c.Rooms.Forget(ctx, actor.ID)
		}
		return
	}
	s.log.InfoContext(ctx, "session - restore - last room loaded", logging.Actor(actor.ID), logging.Room(roomID))
}
