package services

import (
	"time"

	"tutorlink/internal/core/domain"
)

type CallEventKind string

const (
	CallInitiate       CallEventKind = "initiate"
	CallIncoming       CallEventKind = "incoming"
	CallAccept         CallEventKind = "accept"
	CallRemoteAccepted CallEventKind = "remote-accepted"
	CallJoined         CallEventKind = "joined"
	CallReject         CallEventKind = "reject"
	CallRemoteRejected CallEventKind = "remote-rejected"
	CallTimeout        CallEventKind = "timeout"
	CallHangup         CallEventKind = "hangup"
	CallPeerLeft       CallEventKind = "peer-left"
)

// CallEvent is one input of the call state machine. Self is the current
// actor; the other fields are read according to Kind.
type CallEvent struct {
	Kind       CallEventKind
	Self       domain.Actor
	Peer       string
	Target     string
	TargetRole domain.Role
	RoomID     string
	CallType   domain.CallType
	Metadata   domain.CallMetadata
	Reason     string
	At         time.Time
	// TimerGen and JoinGen, when set, must still match the controller's
	// current timer and video join, else the event is dropped.
	TimerGen uint64
	JoinGen  uint64
}

type EffectKind string

const (
	EffectEmit       EffectKind = "emit"
	EffectStartTimer EffectKind = "start-timer"
	EffectStopTimer  EffectKind = "stop-timer"
	EffectJoinRoom   EffectKind = "join-room"
	EffectLeaveRoom  EffectKind = "leave-room"
	EffectAlert      EffectKind = "alert"
)

// Effect is work the controller performs after a transition.
type Effect struct {
	Kind    EffectKind
	Event   string
	Payload any
	RoomID  string
	Alert   domain.Alert
}

func emit(event string, payload any) Effect {
	return Effect{Kind: EffectEmit, Event: event, Payload: payload}
}

func alert(level domain.AlertLevel, msg string) Effect {
	return Effect{Kind: EffectAlert, Alert: domain.Alert{Level: level, Message: msg}}
}

var (
	stopTimer  = Effect{Kind: EffectStopTimer}
	startTimer = Effect{Kind: EffectStartTimer}
)

// Transition is the call state machine. It never mutates s. A finished call
// comes back with phase ended and its outcome; events that do not apply to
// the current phase return s unchanged with no effects.
func Transition(s domain.CallSession, ev CallEvent) (domain.CallSession, []Effect, error) {
	if s.Phase == "" || s.Phase == domain.PhaseEnded {
		s = domain.IdleCall()
	}
	self := ev.Self.ID

	switch ev.Kind {
	case CallInitiate:
		if s.Active() {
			return s, nil, domain.ErrCallAlreadyInProgress
		}
		if ev.Peer == "" || ev.RoomID == "" {
			return s, nil, domain.MissingParticipant("a call needs a callee and a room")
		}
		callType := ev.CallType
		if callType == "" {
			callType = domain.CallVideo
		}
		next := domain.CallSession{
			Phase:     domain.PhaseOutgoing,
			CallerID:  self,
			CalleeID:  ev.Peer,
			RoomID:    ev.RoomID,
			CallType:  callType,
			Metadata:  ev.Metadata,
			StartedAt: ev.At,
		}
		return next, []Effect{
			emit(domain.EventInitiateCall, domain.InitiateCallPayload{
				To:       ev.Peer,
				From:     self,
				RoomID:   ev.RoomID,
				CallType: callType,
				Metadata: ev.Metadata,
			}),
			startTimer,
		}, nil

	case CallIncoming:
		addressed := ev.Target == self && ev.Peer != "" && ev.Peer != self &&
			ev.RoomID != "" && ev.CallType != ""
		if addressed && ev.TargetRole != "" && ev.TargetRole != ev.Self.Role {
			addressed = false
		}
		if !addressed {
			// A broadcast meant for someone else clears any stale incoming display.
			if s.Phase == domain.PhaseIncoming {
				return ended(s, "superseded"), []Effect{stopTimer}, nil
			}
			return s, nil, nil
		}
		if s.Active() {
			if s.Phase == domain.PhaseIncoming && s.CallerID == ev.Peer && s.RoomID == ev.RoomID {
				return s, nil, nil
			}
			return s, []Effect{
				emit(domain.EventRejectCall, domain.RejectCallPayload{To: ev.Peer, From: self, Sender: self, Reason: domain.ReasonBusy}),
			}, nil
		}
		next := domain.CallSession{
			Phase:     domain.PhaseIncoming,
			CallerID:  ev.Peer,
			CalleeID:  self,
			RoomID:    ev.RoomID,
			CallType:  ev.CallType,
			Metadata:  ev.Metadata,
			StartedAt: ev.At,
		}
		name := ev.Metadata.CallerName
		if name == "" {
			name = ev.Peer
		}
		return next, []Effect{alert(domain.AlertInfo, "Incoming call from "+name)}, nil

	case CallAccept:
		if s.Phase != domain.PhaseIncoming {
			return s, nil, domain.ErrNoActiveCall
		}
		next := s
		next.Phase = domain.PhaseAccepted
		return next, []Effect{
			stopTimer,
			emit(domain.EventAcceptCall, domain.AcceptCallPayload{To: s.CallerID, From: self, RoomID: s.RoomID}),
			{Kind: EffectJoinRoom, RoomID: s.RoomID},
		}, nil

	case CallRemoteAccepted:
		if s.Phase != domain.PhaseOutgoing {
			return s, nil, nil
		}
		next := s
		next.Phase = domain.PhaseAccepted
		if ev.RoomID != "" {
			next.RoomID = ev.RoomID
		}
		return next, []Effect{stopTimer, {Kind: EffectJoinRoom, RoomID: next.RoomID}}, nil

	case CallJoined:
		if s.Phase != domain.PhaseAccepted {
			return s, nil, nil
		}
		next := s
		next.Phase = domain.PhaseInRoom
		return next, nil, nil

	case CallReject:
		switch s.Phase {
		case domain.PhaseIdle:
			return s, nil, nil
		case domain.PhaseOutgoing, domain.PhaseIncoming:
		default:
			return s, nil, domain.New(domain.CodeCallInProgress, "call already accepted, hang up instead")
		}
		reason := ev.Reason
		if reason == "" {
			reason = domain.ReasonRejected
			if s.Phase == domain.PhaseOutgoing {
				reason = domain.ReasonCancelled
			}
		}
		other := s.Other(self)
		return ended(s, reason), []Effect{
			stopTimer,
			emit(domain.EventRejectCall, domain.RejectCallPayload{To: other, From: self, Sender: self, Reason: reason}),
		}, nil

	case CallTimeout:
		if s.Phase != domain.PhaseOutgoing {
			return s, nil, nil
		}
		return ended(s, domain.ReasonTimeout), []Effect{
			stopTimer,
			emit(domain.EventRejectCall, domain.RejectCallPayload{To: s.CalleeID, From: self, Sender: self, Reason: domain.ReasonTimeout}),
			alert(domain.AlertWarning, "No answer, call cancelled"),
		}, nil

	case CallRemoteRejected:
		switch s.Phase {
		case domain.PhaseOutgoing, domain.PhaseIncoming:
			msg := "Call ended"
			if s.Phase == domain.PhaseOutgoing {
				msg = "Call was declined"
			}
			reason := ev.Reason
			if reason == "" {
				reason = "remote-" + domain.ReasonRejected
			}
			return ended(s, reason), []Effect{stopTimer, alert(domain.AlertInfo, msg)}, nil
		case domain.PhaseAccepted, domain.PhaseInRoom:
			return ended(s, "remote-left"), []Effect{{Kind: EffectLeaveRoom, RoomID: s.RoomID}}, nil
		}
		return s, nil, nil

	case CallHangup:
		if s.Phase != domain.PhaseAccepted && s.Phase != domain.PhaseInRoom {
			return s, nil, domain.ErrNoActiveCall
		}
		return ended(s, "hangup"), []Effect{
			emit(domain.EventLeaveRoom, domain.LeaveRoomPayload{To: s.Other(self)}),
			{Kind: EffectLeaveRoom, RoomID: s.RoomID},
		}, nil

	case CallPeerLeft:
		if s.Phase != domain.PhaseAccepted && s.Phase != domain.PhaseInRoom {
			return s, nil, nil
		}
		return ended(s, "remote-left"), []Effect{
			{Kind: EffectLeaveRoom, RoomID: s.RoomID},
			alert(domain.AlertInfo, "The other participant left the call"),
		}, nil
	}
	return s, nil, domain.InvalidArguments("unknown call event " + string(ev.Kind))
}

func ended(s domain.CallSession, outcome string) domain.CallSession {
	s.Phase = domain.PhaseEnded
	s.Outcome = outcome
	return s
}
