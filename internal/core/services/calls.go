package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/metrics"
	"tutorlink/pkg/logging"
)

const DefaultAcceptTimeout = 60 * time.Second

type ICallController interface {
	InitiateCall(ctx context.Context, req CallRequest) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context, reason string) error
	Hangup(ctx context.Context) error
	Session() domain.CallSession
	Reset(ctx context.Context)
}

// CallRequest describes an outgoing call.
type CallRequest struct {
	CalleeID string
	RoomID   string
	CallType domain.CallType
	Metadata domain.CallMetadata
}

// CallController holds the single call session of the actor and performs
// the effects returned by Transition.
type CallController struct {
	mu      sync.Mutex
	log     *slog.Logger
	sock    contracts.Socket
	video   contracts.VideoRoom
	alerts  contracts.Alerter
	metrics *metrics.Metrics
	timeout time.Duration

	self      domain.Actor
	session   domain.CallSession
	timer     *time.Timer
	timerGen  uint64
	joinGen   uint64
	observers map[uint64]func(domain.CallSession)
	nextObs   uint64
}

var _ ICallController = (*CallController)(nil)

func NewCallController(
	log *slog.Logger,
	sock contracts.Socket,
	video contracts.VideoRoom,
	alerts contracts.Alerter,
	m *metrics.Metrics,
	timeout time.Duration,
) *CallController {
	if alerts == nil {
		alerts = contracts.NopAlerter{}
	}
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	return &CallController{
		log:       log,
		sock:      sock,
		video:     video,
		alerts:    alerts,
		metrics:   m,
		timeout:   timeout,
		session:   domain.IdleCall(),
		observers: make(map[uint64]func(domain.CallSession)),
	}
}

func (c *CallController) Bind(actor domain.Actor) {
	c.mu.Lock()
	c.self = actor
	c.mu.Unlock()
}

func (c *CallController) Attach(subs *contracts.Subscriptions) {
	subs.On(domain.EventIncomingCall, c.handleIncoming)
	subs.On(domain.EventCallAccepted, c.handleAccepted)
	subs.On(domain.EventCallRejected, c.handleRejected)
	subs.On(domain.EventPeerLeft, c.handlePeerLeft)
}

// Observe registers fn for every session change. A finished call is
// reported once with phase ended, then the session is idle again.
func (c *CallController) Observe(fn func(domain.CallSession)) (off func()) {
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *CallController) Session() domain.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *CallController) InitiateCall(ctx context.Context, req CallRequest) error {
	ctx, span := tracer.Start(ctx, "CallController.InitiateCall", trace.WithAttributes(
		attribute.String("callee.id", req.CalleeID),
		attribute.String("room.id", req.RoomID),
	))
	defer span.End()

	if !c.sock.Connected() {
		err := domain.ErrNotConnected
		span.RecordError(err)
		span.SetStatus(codes.Error, "not connected")
		c.log.WarnContext(ctx, "calls - initiate - not connected", logging.Peer(req.CalleeID))
		c.alerts.Alert(ctx, domain.Alert{Level: domain.AlertError, Code: domain.CodeNotConnected, Message: "Cannot start a call while offline"})
		return err
	}
	err := c.apply(ctx, CallEvent{
		Kind:     CallInitiate,
		Peer:     req.CalleeID,
		RoomID:   req.RoomID,
		CallType: req.CallType,
		Metadata: req.Metadata,
		At:       time.Now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initiate rejected")
	}
	return err
}

func (c *CallController) Accept(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "CallController.Accept")
	defer span.End()
	if err := c.apply(ctx, CallEvent{Kind: CallAccept}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "accept rejected")
		return err
	}
	return nil
}

// Reject declines an incoming call or cancels an outgoing one. It is a
// no-op when there is no call.
func (c *CallController) Reject(ctx context.Context, reason string) error {
	ctx, span := tracer.Start(ctx, "CallController.Reject")
	defer span.End()
	if err := c.apply(ctx, CallEvent{Kind: CallReject, Reason: reason}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reject rejected")
		return err
	}
	return nil
}

func (c *CallController) Hangup(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "CallController.Hangup")
	defer span.End()
	if err := c.apply(ctx, CallEvent{Kind: CallHangup}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hangup rejected")
		return err
	}
	return nil
}

// Reset drops the session without signaling, used on logout when the
// connection is going away anyway.
func (c *CallController) Reset(ctx context.Context) {
	c.mu.Lock()
	prev := c.session
	c.stopTimerLocked()
	c.joinGen++
	c.session = domain.IdleCall()
	c.self = domain.Actor{}
	c.mu.Unlock()
	if (prev.Phase == domain.PhaseAccepted || prev.Phase == domain.PhaseInRoom) && c.video != nil {
		if err := c.video.Leave(ctx); err != nil {
			c.log.WarnContext(ctx, "calls - reset - leave video room failed", logging.Room(prev.RoomID), logging.Err(err))
		}
	}
}

// apply runs one transition. State and timer changes happen under the lock,
// network and video effects after it is released.
func (c *CallController) apply(ctx context.Context, ev CallEvent) error {
	c.mu.Lock()
	if (ev.TimerGen != 0 && ev.TimerGen != c.timerGen) || (ev.JoinGen != 0 && ev.JoinGen != c.joinGen) {
		c.mu.Unlock()
		c.log.DebugContext(ctx, "calls - transition - stale event dropped", slog.String("event", string(ev.Kind)))
		return nil
	}
	ev.Self = c.self
	prev := c.session
	next, effects, err := Transition(prev, ev)
	if err != nil {
		c.mu.Unlock()
		c.log.WarnContext(ctx, "calls - transition - rejected", slog.String("event", string(ev.Kind)), logging.CallPhase(string(prev.Phase)), logging.Err(err))
		c.alerts.Alert(ctx, domain.Alert{Level: domain.AlertError, Code: domain.CodeOf(err), Message: err.Error()})
		return err
	}

	// Leaving accepted invalidates a video join still in flight.
	if prev.Phase == domain.PhaseAccepted && next.Phase != domain.PhaseAccepted {
		c.joinGen++
	}
	var joinGen uint64
	for _, e := range effects {
		switch e.Kind {
		case EffectStartTimer:
			c.startTimerLocked()
		case EffectStopTimer:
			c.stopTimerLocked()
		case EffectJoinRoom:
			c.joinGen++
			joinGen = c.joinGen
		}
	}
	finished := next.Phase == domain.PhaseEnded
	if finished {
		c.session = domain.IdleCall()
	} else {
		c.session = next
	}
	var observers []func(domain.CallSession)
	if next != prev {
		for _, fn := range c.observers {
			observers = append(observers, fn)
		}
	}
	self := c.self
	c.mu.Unlock()

	if next != prev {
		c.log.InfoContext(ctx, "calls - transition - applied",
			slog.String("event", string(ev.Kind)),
			slog.String("from", string(prev.Phase)),
			logging.CallPhase(string(next.Phase)),
			logging.Room(next.RoomID),
		)
	}
	if finished {
		c.metrics.CallFinished(next.Outcome)
	}
	for _, fn := range observers {
		fn(next)
	}

	for _, e := range effects {
		switch e.Kind {
		case EffectEmit:
			if err := c.sock.Emit(ctx, e.Event, e.Payload); err != nil {
				c.log.ErrorContext(ctx, "calls - emit - failed", logging.Event(e.Event), logging.Err(err))
				if ev.Kind == CallInitiate {
					c.rollback(ctx, next)
					return err
				}
			}
		case EffectAlert:
			c.alerts.Alert(ctx, e.Alert)
		case EffectJoinRoom:
			// The provider round trip stays off the socket read loop.
			go c.join(context.WithoutCancel(ctx), e.RoomID, self, joinGen)
		case EffectLeaveRoom:
			if c.video != nil {
				if err := c.video.Leave(ctx); err != nil {
					c.log.WarnContext(ctx, "calls - leave video room - failed", logging.Room(e.RoomID), logging.Err(err))
				}
			}
		}
	}
	return nil
}

// rollback returns an outgoing call that never reached the server to idle.
func (c *CallController) rollback(ctx context.Context, attempted domain.CallSession) {
	c.mu.Lock()
	if c.session != attempted {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.session = domain.IdleCall()
	observers := make([]func(domain.CallSession), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()
	failed := attempted
	failed.Phase = domain.PhaseEnded
	failed.Outcome = "failed"
	for _, fn := range observers {
		fn(failed)
	}
	c.alerts.Alert(ctx, domain.Alert{Level: domain.AlertError, Code: domain.CodeTransport, Message: "Call could not be placed"})
}

// join enters the video room for the accepted call of generation gen. A
// call that ended while joining leaves the room again.
func (c *CallController) join(ctx context.Context, roomID string, self domain.Actor, gen uint64) {
	if c.video == nil {
		_ = c.apply(ctx, CallEvent{Kind: CallJoined, JoinGen: gen})
		return
	}
	if err := c.video.Join(ctx, roomID, self); err != nil {
		c.log.ErrorContext(ctx, "calls - join video room - failed", logging.Room(roomID), logging.Err(err))
		c.alerts.Alert(ctx, domain.Alert{Level: domain.AlertError, Code: domain.CodeTransport, Message: "Could not join the call room"})
		_ = c.apply(ctx, CallEvent{Kind: CallHangup, JoinGen: gen})
		return
	}

	c.mu.Lock()
	current := gen == c.joinGen && c.session.Phase == domain.PhaseAccepted && c.session.RoomID == roomID
	c.mu.Unlock()
	if !current {
		c.log.InfoContext(ctx, "calls - join video room - call ended while joining, leaving", logging.Room(roomID))
		if err := c.video.Leave(ctx); err != nil {
			c.log.WarnContext(ctx, "calls - leave video room - failed", logging.Room(roomID), logging.Err(err))
		}
		return
	}
	_ = c.apply(ctx, CallEvent{Kind: CallJoined, JoinGen: gen})
}

func (c *CallController) startTimerLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = time.AfterFunc(c.timeout, func() { c.onTimeout(gen) })
}

// stopTimerLocked also bumps the generation so a fire already in flight is
// ignored.
func (c *CallController) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// onTimeout fires the acceptance timeout of timer generation gen. The
// generation is checked under the same lock as the transition.
func (c *CallController) onTimeout(gen uint64) {
	ctx := context.Background()
	c.log.DebugContext(ctx, "calls - accept timeout - fired", slog.Duration("timeout", c.timeout))
	_ = c.apply(ctx, CallEvent{Kind: CallTimeout, TimerGen: gen})
}

func (c *CallController) handleIncoming(data json.RawMessage) {
	ctx := context.Background()
	var ev domain.IncomingCallEvent
	if err := domain.DecodeEvent(domain.EventIncomingCall, data, &ev); err != nil {
		c.log.ErrorContext(ctx, "calls - incoming call - malformed payload dropped", logging.Err(err))
		c.alerts.Alert(ctx, domain.Alert{Level: domain.AlertError, Code: domain.CodeMalformedPayload, Message: "Received an invalid call request"})
		return
	}
	_ = c.apply(ctx, CallEvent{
		Kind:       CallIncoming,
		Peer:       ev.From,
		Target:     ev.To,
		TargetRole: ev.TargetRole,
		RoomID:     ev.RoomID,
		CallType:   ev.CallType,
		Metadata:   ev.Metadata,
		At:         time.Now(),
	})
}

func (c *CallController) handleAccepted(data json.RawMessage) {
	ctx := context.Background()
	var ev domain.CallAcceptedEvent
	if err := domain.DecodeEvent(domain.EventCallAccepted, data, &ev); err != nil {
		c.log.ErrorContext(ctx, "calls - call accepted - malformed payload dropped", logging.Err(err))
		return
	}
	_ = c.apply(ctx, CallEvent{Kind: CallRemoteAccepted, RoomID: ev.RoomID})
}

func (c *CallController) handleRejected(data json.RawMessage) {
	ctx := context.Background()
	var ev domain.CallRejectedEvent
	if err := domain.DecodeEvent(domain.EventCallRejected, data, &ev); err != nil {
		c.log.ErrorContext(ctx, "calls - call rejected - malformed payload dropped", logging.Err(err))
		return
	}
	_ = c.apply(ctx, CallEvent{Kind: CallRemoteRejected, Reason: ev.Reason})
}

func (c *CallController) handlePeerLeft(data json.RawMessage) {
	_ = c.apply(context.Background(), CallEvent{Kind: CallPeerLeft})
}
