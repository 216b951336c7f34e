package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActor(t *testing.T) {
	a, err := NewActor("u1", RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "user:u1", a.String())

	_, err = NewActor("", RoleTutor)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = NewActor("u1", Role("guest"))
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestRoomOtherParticipant(t *testing.T) {
	r := Room{ID: "r1", Participants: []string{"u1", "t1"}}
	other, err := r.OtherParticipant("u1")
	require.NoError(t, err)
	assert.Equal(t, "t1", other)

	_, err = Room{ID: "r2", Participants: []string{"u1"}}.OtherParticipant("u1")
	assert.ErrorIs(t, err, ErrMalformedRoom)

	_, err = Room{ID: "r3", Participants: []string{"u1", "u1"}}.OtherParticipant("u1")
	assert.ErrorIs(t, err, ErrMalformedRoom)
}

func TestAppErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("send: %w", New(CodeNotConnected, "socket is down"))
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, CodeNotConnected, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
}

func TestDecodeIncomingCall(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var ev IncomingCallEvent
		raw := json.RawMessage(`{"from":"u1","to":"t1","roomId":"r1","callType":"video","metadata":{"callerName":"Uma"}}`)
		require.NoError(t, DecodeEvent(EventIncomingCall, raw, &ev))
		assert.Equal(t, "Uma", ev.Metadata.CallerName)
	})

	missing := map[string]string{
		"from":     `{"to":"t1","roomId":"r1","callType":"video"}`,
		"to":       `{"from":"u1","roomId":"r1","callType":"video"}`,
		"roomId":   `{"from":"u1","to":"t1","callType":"video"}`,
		"callType": `{"from":"u1","to":"t1","roomId":"r1"}`,
	}
	for field, raw := range missing {
		t.Run("missing "+field, func(t *testing.T) {
			var ev IncomingCallEvent
			err := DecodeEvent(EventIncomingCall, json.RawMessage(raw), &ev)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}

	t.Run("not an object", func(t *testing.T) {
		var ev IncomingCallEvent
		err := DecodeEvent(EventIncomingCall, json.RawMessage(`["u1"]`), &ev)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestEncodeEnvelope(t *testing.T) {
	frame, err := Encode(EventMarkRoomRead, MarkRoomReadPayload{RoomID: "r1", ActorID: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mark-room-read","data":{"roomId":"r1","actorId":"u1"}}`, string(frame))
}

func TestMessageSummary(t *testing.T) {
	assert.Equal(t, "hi", Message{Type: MessageText, Payload: "hi"}.Summary())
	assert.Equal(t, "[image]", Message{Type: MessageImage, Payload: "https://cdn/x.png"}.Summary())
}
