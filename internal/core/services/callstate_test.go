package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlink/internal/core/domain"
)

var (
	caller = domain.Actor{ID: "u1", Role: domain.RoleUser}
	callee = domain.Actor{ID: "t1", Role: domain.RoleTutor}
)

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func outgoing(t *testing.T) domain.CallSession {
	t.Helper()
	s, _, err := Transition(domain.IdleCall(), CallEvent{Kind: CallInitiate, Self: caller, Peer: "t1", RoomID: "r1"})
	require.NoError(t, err)
	return s
}

func incoming(t *testing.T) domain.CallSession {
	t.Helper()
	s, _, err := Transition(domain.IdleCall(), CallEvent{
		Kind: CallIncoming, Self: callee, Peer: "u1", Target: "t1", TargetRole: domain.RoleTutor,
		RoomID: "r1", CallType: domain.CallVideo,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIncoming, s.Phase)
	return s
}

func TestTransitionInitiate(t *testing.T) {
	s, effects, err := Transition(domain.IdleCall(), CallEvent{
		Kind: CallInitiate, Self: caller, Peer: "t1", RoomID: "r1",
		Metadata: domain.CallMetadata{CallerName: "Uma"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseOutgoing, s.Phase)
	assert.Equal(t, "u1", s.CallerID)
	assert.Equal(t, "t1", s.CalleeID)
	assert.Equal(t, domain.CallVideo, s.CallType)
	assert.Equal(t, []EffectKind{EffectEmit, EffectStartTimer}, kinds(effects))
	assert.Equal(t, domain.InitiateCallPayload{
		To: "t1", From: "u1", RoomID: "r1", CallType: domain.CallVideo,
		Metadata: domain.CallMetadata{CallerName: "Uma"},
	}, effects[0].Payload)

	again, effects, err := Transition(s, CallEvent{Kind: CallInitiate, Self: caller, Peer: "t2", RoomID: "r2"})
	assert.ErrorIs(t, err, domain.ErrCallAlreadyInProgress)
	assert.Equal(t, s, again)
	assert.Empty(t, effects)
}

func TestTransitionInitiateMissingParticipant(t *testing.T) {
	s, effects, err := Transition(domain.IdleCall(), CallEvent{Kind: CallInitiate, Self: caller, RoomID: "r1"})
	assert.ErrorIs(t, err, domain.ErrMissingParticipant)
	assert.Equal(t, domain.PhaseIdle, s.Phase)
	assert.Empty(t, effects)
}

func TestTransitionIncomingAddressing(t *testing.T) {
	tests := []struct {
		name  string
		ev    CallEvent
		phase domain.CallPhase
	}{
		{"addressed", CallEvent{Target: "t1", TargetRole: domain.RoleTutor}, domain.PhaseIncoming},
		{"no role given", CallEvent{Target: "t1"}, domain.PhaseIncoming},
		{"other id", CallEvent{Target: "t9", TargetRole: domain.RoleTutor}, domain.PhaseIdle},
		{"other role", CallEvent{Target: "t1", TargetRole: domain.RoleAdmin}, domain.PhaseIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tt.ev
			ev.Kind, ev.Self, ev.Peer, ev.RoomID, ev.CallType = CallIncoming, callee, "u1", "r1", domain.CallAudio
			s, _, err := Transition(domain.IdleCall(), ev)
			require.NoError(t, err)
			assert.Equal(t, tt.phase, s.Phase)
		})
	}
}

func TestTransitionMismatchedIncomingClearsStaleDisplay(t *testing.T) {
	s := incoming(t)
	next, effects, err := Transition(s, CallEvent{Kind: CallIncoming, Self: callee, Peer: "u2", Target: "t7", RoomID: "r7", CallType: domain.CallVideo})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseEnded, next.Phase)
	assert.Equal(t, []EffectKind{EffectStopTimer}, kinds(effects))
}

func TestTransitionBusyAutoReject(t *testing.T) {
	s := incoming(t)
	next, effects, err := Transition(s, CallEvent{Kind: CallIncoming, Self: callee, Peer: "u2", Target: "t1", RoomID: "r2", CallType: domain.CallVideo})
	require.NoError(t, err)
	assert.Equal(t, s, next)
	require.Len(t, effects, 1)
	assert.Equal(t, domain.RejectCallPayload{To: "u2", From: "t1", Sender: "t1", Reason: domain.ReasonBusy}, effects[0].Payload)

	// The same call delivered twice is not a second call.
	dup, effects, err := Transition(s, CallEvent{Kind: CallIncoming, Self: callee, Peer: "u1", Target: "t1", RoomID: "r1", CallType: domain.CallVideo})
	require.NoError(t, err)
	assert.Equal(t, s, dup)
	assert.Empty(t, effects)
}

func TestTransitionAcceptPaths(t *testing.T) {
	s := incoming(t)
	next, effects, err := Transition(s, CallEvent{Kind: CallAccept, Self: callee})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAccepted, next.Phase)
	assert.Equal(t, []EffectKind{EffectStopTimer, EffectEmit, EffectJoinRoom}, kinds(effects))
	assert.Equal(t, domain.AcceptCallPayload{To: "u1", From: "t1", RoomID: "r1"}, effects[1].Payload)

	inRoom, _, err := Transition(next, CallEvent{Kind: CallJoined, Self: callee})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInRoom, inRoom.Phase)

	out := outgoing(t)
	accepted, effects, err := Transition(out, CallEvent{Kind: CallRemoteAccepted, Self: caller, RoomID: "video-r1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAccepted, accepted.Phase)
	assert.Equal(t, "video-r1", accepted.RoomID)
	assert.Equal(t, []EffectKind{EffectStopTimer, EffectJoinRoom}, kinds(effects))

	_, _, err = Transition(domain.IdleCall(), CallEvent{Kind: CallAccept, Self: callee})
	assert.ErrorIs(t, err, domain.ErrNoActiveCall)
}

func TestTransitionRejectIsIdempotent(t *testing.T) {
	s, effects, err := Transition(domain.IdleCall(), CallEvent{Kind: CallReject, Self: caller})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, s.Phase)
	assert.Empty(t, effects)

	s, effects, err = Transition(domain.IdleCall(), CallEvent{Kind: CallRemoteRejected, Self: caller})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, s.Phase)
	assert.Empty(t, effects)

	cancelled, effects, err := Transition(outgoing(t), CallEvent{Kind: CallReject, Self: caller})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseEnded, cancelled.Phase)
	assert.Equal(t, domain.RejectCallPayload{To: "t1", From: "u1", Sender: "u1", Reason: domain.ReasonCancelled}, effects[1].Payload)

	declined, effects, err := Transition(incoming(t), CallEvent{Kind: CallReject, Self: callee})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseEnded, declined.Phase)
	assert.Equal(t, domain.RejectCallPayload{To: "u1", From: "t1", Sender: "t1", Reason: domain.ReasonRejected}, effects[1].Payload)
}

func TestTransitionTimeoutOnlyFromOutgoing(t *testing.T) {
	s, effects, err := Transition(outgoing(t), CallEvent{Kind: CallTimeout, Self: caller})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseEnded, s.Phase)
	assert.Equal(t, domain.ReasonTimeout, s.Outcome)
	assert.Equal(t, []EffectKind{EffectStopTimer, EffectEmit, EffectAlert}, kinds(effects))

	s, effects, err = Transition(incoming(t), CallEvent{Kind: CallTimeout, Self: callee})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIncoming, s.Phase)
	assert.Empty(t, effects)
}

func TestTransitionHangupAndPeerLeft(t *testing.T) {
	s := outgoing(t)
	s, _, _ = Transition(s, CallEvent{Kind: CallRemoteAccepted, Self: caller, RoomID: "r1"})
	s, _, _ = Transition(s, CallEvent{Kind: CallJoined, Self: caller})
	require.Equal(t, domain.PhaseInRoom, s.Phase)

	ended, effects, err := Transition(s, CallEvent{Kind: CallHangup, Self: caller})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseEnded, ended.Phase)
	assert.Equal(t, domain.LeaveRoomPayload{To: "t1"}, effects[0].Payload)
	assert.Equal(t, EffectLeaveRoom, effects[1].Kind)

	left, effects, err := Transition(s, CallEvent{Kind: CallPeerLeft, Self: caller})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseEnded, left.Phase)
	for _, e := range effects {
		assert.NotEqual(t, EffectEmit, e.Kind)
	}

	_, _, err = Transition(domain.IdleCall(), CallEvent{Kind: CallHangup, Self: caller})
	assert.ErrorIs(t, err, domain.ErrNoActiveCall)
}
