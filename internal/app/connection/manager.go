package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tutorlink/internal/app/registry"
	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/metrics"
	"tutorlink/pkg/logging"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var allStates = []string{
	string(StateIdle),
	string(StateConnecting),
	string(StateConnected),
	string(StateReconnecting),
	string(StateFailed),
}

var tracer = otel.Tracer("connection-manager")

// Manager owns the single socket connection of the current actor. Other
// components get the registry as their contracts.Socket and never dial.
type Manager struct {
	mu      sync.Mutex
	log     *slog.Logger
	dialer  contracts.Dialer
	bus     *registry.Registry
	backoff Backoff
	alerts  contracts.Alerter
	metrics *metrics.Metrics

	actor   domain.Actor
	state   State
	lastErr error
	conn    contracts.Conn
	cancel  context.CancelFunc
	done    chan struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(
	log *slog.Logger,
	dialer contracts.Dialer,
	bus *registry.Registry,
	backoff Backoff,
	alerts contracts.Alerter,
	m *metrics.Metrics,
) *Manager {
	if alerts == nil {
		alerts = contracts.NopAlerter{}
	}
	if backoff.MaxAttempts <= 0 {
		backoff = DefaultBackoff()
	}
	return &Manager{
		log:     log,
		dialer:  dialer,
		bus:     bus,
		backoff: backoff,
		alerts:  alerts,
		metrics: m,
		state:   StateIdle,
		sleep:   sleepCtx,
	}
}

// Connect binds the connection to actor. An empty id or role fails fast
// without dialing. Connecting as a different actor first tears the current
// connection down, listeners included. Dialing continues in the background;
// watch State or the connect lifecycle event.
func (m *Manager) Connect(ctx context.Context, actor domain.Actor) error {
	ctx, span := tracer.Start(ctx, "Manager.Connect", trace.WithAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer span.End()

	if actor.ID == "" || !actor.Role.Valid() {
		err := domain.InvalidArguments("connect requires an actor id and role")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid actor")
		m.log.ErrorContext(ctx, "connection - connect - missing actor identity", logging.Actor(actor.ID), logging.Role(string(actor.Role)))
		// A live connection for a valid actor is left untouched.
		m.mu.Lock()
		if m.cancel == nil {
			m.setStateLocked(StateFailed, err)
		}
		m.mu.Unlock()
		m.alerts.Alert(ctx, domain.Alert{Level: domain.AlertError, Code: domain.CodeInvalidArguments, Message: "Cannot connect: missing user identity"})
		return err
	}

	m.mu.Lock()
	current := m.actor
	running := m.cancel != nil
	m.mu.Unlock()

	if current == actor && running {
		return nil
	}
	if !current.IsZero() && current != actor {
		m.log.InfoContext(ctx, "connection - connect - switching actor", slog.String("from", current.String()), slog.String("to", actor.String()))
		m.Disconnect(ctx)
	} else {
		m.stop()
	}
	m.start(actor)
	span.SetStatus(codes.Ok, "dialing")
	return nil
}

// Reconnect restarts dialing for the current actor, typically after the
// retry budget has been exhausted.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	actor := m.actor
	m.mu.Unlock()
	if actor.IsZero() {
		return domain.InvalidArguments("reconnect without a connected actor")
	}
	m.log.InfoContext(ctx, "connection - reconnect - manual", logging.Actor(actor.ID))
	m.stop()
	m.start(actor)
	return nil
}

// Disconnect closes the connection, removes every listener and forgets the
// actor. It waits for the read loop to exit, so it must not be called from
// a socket handler.
func (m *Manager) Disconnect(ctx context.Context) {
	m.stop()
	m.bus.Reset()
	m.mu.Lock()
	prev := m.actor
	m.actor = domain.Actor{}
	m.setStateLocked(StateIdle, nil)
	m.mu.Unlock()
	if !prev.IsZero() {
		m.log.InfoContext(ctx, "connection - disconnect - torn down", logging.Actor(prev.ID))
	}
}

// Socket returns the socket handle while connected, nil otherwise.
func (m *Manager) Socket() contracts.Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.bus
}

// Bus is the registry handed to components at construction.
func (m *Manager) Bus() *registry.Registry { return m.bus }

func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnecting || m.state == StateReconnecting
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) Actor() domain.Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actor
}

func (m *Manager) start(actor domain.Actor) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.actor = actor
	m.cancel = cancel
	m.done = done
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()
	go m.run(ctx, actor, done)
}

// stop ends the run loop, if any, and waits for it.
func (m *Manager) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, actor domain.Actor, done chan struct{}) {
	defer close(done)
	failures := 0
	for {
		conn, err := m.dialer.Dial(ctx, actor)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			failures++
			m.metrics.ConnectAttempt("error")
			m.log.WarnContext(ctx, "connection - dial - failed", logging.Actor(actor.ID), logging.Attempt(failures), logging.Err(err))
			m.bus.DispatchEvent(m.bus.Generation(), domain.EventConnectError, errorData(err))
			if failures >= m.backoff.MaxAttempts {
				m.fail(ctx, actor, err)
				return
			}
			m.setState(StateReconnecting, err)
			if m.sleep(ctx, m.backoff.Delay(failures)) != nil {
				return
			}
			continue
		}

		failures = 0
		m.metrics.ConnectAttempt("ok")
		// Cancelling the run loop closes the connection, which ends ReadLoop.
		stopClose := context.AfterFunc(ctx, conn.Close)
		gen := m.bus.Attach(conn)
		m.mu.Lock()
		m.conn = conn
		m.setStateLocked(StateConnected, nil)
		m.mu.Unlock()
		m.log.InfoContext(ctx, "connection - dial - connected", logging.Actor(actor.ID), logging.Role(string(actor.Role)))

		// Re-register on every (re)connect so the server never loses the
		// actor from its online set after a transient drop.
		if err := m.bus.Emit(ctx, domain.EventRegisterActor, domain.RegisterActorPayload{ActorID: actor.ID, Role: actor.Role}); err != nil {
			m.log.ErrorContext(ctx, "connection - register actor - emit failed", logging.Actor(actor.ID), logging.Err(err))
		}
		m.bus.DispatchEvent(gen, domain.EventConnect, nil)
		m.alerts.Alert(ctx, domain.Alert{Level: domain.AlertSuccess, Message: "Connected to chat server"})

		readErr := conn.ReadLoop(func(frame []byte) {
			m.bus.Dispatch(gen, frame)
		})
		stopClose()
		m.bus.Detach(gen)
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		m.log.WarnContext(ctx, "connection - read loop - disconnected", logging.Actor(actor.ID), logging.Err(readErr))
		m.bus.DispatchEvent(gen, domain.EventDisconnect, errorData(readErr))
		m.alerts.Alert(ctx, domain.Alert{Level: domain.AlertWarning, Code: domain.CodeTransport, Message: "Disconnected from chat server, reconnecting"})
		m.setState(StateReconnecting, readErr)
		if m.sleep(ctx, m.backoff.Delay(1)) != nil {
			return
		}
	}
}

func (m *Manager) fail(ctx context.Context, actor domain.Actor, cause error) {
	err := domain.Transport("connection retries exhausted", cause)
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.done = nil
	m.setStateLocked(StateFailed, err)
	m.mu.Unlock()
	m.log.ErrorContext(ctx, "connection - reconnect - retries exhausted", logging.Actor(actor.ID), slog.Int("max_attempts", m.backoff.MaxAttempts), logging.Err(cause))
	m.alerts.Alert(ctx, domain.Alert{Level: domain.AlertError, Code: domain.CodeTransport, Message: "Unable to reach chat server, reconnect manually"})
}

func (m *Manager) setState(s State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s, err)
}

func (m *Manager) setStateLocked(s State, err error) {
	m.state = s
	m.lastErr = err
	m.metrics.ConnectionState(string(s), allStates)
}

func errorData(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	return data
}
