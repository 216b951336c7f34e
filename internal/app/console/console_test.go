package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/services"
	"tutorlink/internal/platform/logger"
)

type stubSession struct{ actor domain.Actor }

func (s stubSession) Actor() domain.Actor { return s.actor }

type stubRooms struct{ resolved []string }

func (r *stubRooms) Resolve(_ context.Context, peerID, selfID string) (*domain.Room, error) {
	r.resolved = append(r.resolved, peerID)
	return &domain.Room{ID: "room-" + peerID, Participants: []string{selfID, peerID}}, nil
}

type stubConversation struct {
	room, peer string
	visible    bool
	messages   []domain.Message
	sent       []string
}

func (c *stubConversation) LoadRoom(_ context.Context, roomID, _ string, opts ...services.LoadOption) (*domain.Room, error) {
	c.room = roomID
	c.peer = strings.TrimPrefix(roomID, "room-")
	return &domain.Room{ID: roomID}, nil
}

func (c *stubConversation) SendMessage(_ context.Context, roomID, senderID, recipientID, payload string, typ domain.MessageType) (domain.Message, error) {
	if strings.TrimSpace(payload) == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}
	msg := domain.Message{RoomID: roomID, SenderID: senderID, RecipientID: recipientID, Payload: payload, Type: typ}
	c.sent = append(c.sent, roomID+":"+recipientID+":"+payload)
	c.messages = append(c.messages, msg)
	return msg, nil
}

func (c *stubConversation) VisibilityChanged(_ context.Context, visible bool) { c.visible = visible }

func (c *stubConversation) OpenRoom() (string, string, bool) { return c.room, c.peer, c.room != "" }

func (c *stubConversation) Messages() []domain.Message { return c.messages }

type stubContacts struct{}

func (stubContacts) Refresh(context.Context, string, string) ([]domain.ContactView, error) {
	return []domain.ContactView{{Contact: domain.Contact{ID: "t1", Name: "Ann", UnreadCount: 2}, IsOnline: true}}, nil
}

type stubCalls struct {
	requests []services.CallRequest
	accepted bool
}

func (c *stubCalls) InitiateCall(_ context.Context, req services.CallRequest) error {
	c.requests = append(c.requests, req)
	return nil
}
func (c *stubCalls) Accept(context.Context) error         { c.accepted = true; return nil }
func (c *stubCalls) Reject(context.Context, string) error { return domain.ErrNoActiveCall }
func (c *stubCalls) Hangup(context.Context) error         { return domain.ErrNoActiveCall }
func (c *stubCalls) Session() domain.CallSession          { return domain.IdleCall() }

type stubNotifications struct{ read []string }

func (n *stubNotifications) Items() []domain.Notification {
	return []domain.Notification{{ID: "n1", Heading: "Lesson", Message: "starts soon"}}
}

func (n *stubNotifications) MarkRead(_ context.Context, id string) error {
	n.read = append(n.read, id)
	return nil
}

type rig struct {
	console *Console
	out     *bytes.Buffer
	rooms   *stubRooms
	conv    *stubConversation
	calls   *stubCalls
	notes   *stubNotifications
}

func newRig(actor domain.Actor) *rig {
	r := &rig{
		out:   &bytes.Buffer{},
		rooms: &stubRooms{},
		conv:  &stubConversation{visible: true},
		calls: &stubCalls{},
		notes: &stubNotifications{},
	}
	r.console = New(logger.Discard(), Deps{
		Session:       stubSession{actor: actor},
		Rooms:         r.rooms,
		Conversation:  r.conv,
		Contacts:      stubContacts{},
		Calls:         r.calls,
		Notifications: r.notes,
	}, r.out)
	return r
}

var student = domain.Actor{ID: "u1", Role: domain.RoleUser}

func TestOpenThenSend(t *testing.T) {
	r := newRig(student)
	ctx := context.Background()

	assert.False(t, r.console.Exec(ctx, "open t1"))
	assert.Equal(t, []string{"t1"}, r.rooms.resolved)
	assert.False(t, r.console.Exec(ctx, "send hello there"))
	assert.Equal(t, []string{"room-t1:t1:hello there"}, r.conv.sent)

	r.out.Reset()
	r.console.Exec(ctx, "history")
	assert.Contains(t, r.out.String(), "me: hello there (sending)")
}

func TestSendWithoutOpenRoom(t *testing.T) {
	r := newRig(student)
	r.console.Exec(context.Background(), "send hi")
	assert.Contains(t, r.out.String(), "error:")
	assert.Empty(t, r.conv.sent)
}

func TestCommandsRequireActor(t *testing.T) {
	r := newRig(domain.Actor{})
	r.console.Exec(context.Background(), "open t1")
	assert.Empty(t, r.rooms.resolved)
	assert.Contains(t, r.out.String(), "error:")
}

func TestCallResolvesRoom(t *testing.T) {
	r := newRig(student)
	r.console.Exec(context.Background(), "call t1 audio")
	require.Len(t, r.calls.requests, 1)
	assert.Equal(t, services.CallRequest{CalleeID: "t1", RoomID: "room-t1", CallType: domain.CallAudio}, r.calls.requests[0])

	r.console.Exec(context.Background(), "accept")
	assert.True(t, r.calls.accepted)
}

func TestVisibilityAndNotifications(t *testing.T) {
	r := newRig(student)
	ctx := context.Background()

	r.console.Exec(ctx, "hidden")
	assert.False(t, r.conv.visible)
	r.console.Exec(ctx, "visible")
	assert.True(t, r.conv.visible)

	r.console.Exec(ctx, "notifications")
	assert.Contains(t, r.out.String(), "Lesson: starts soon")
	r.console.Exec(ctx, "read n1")
	assert.Equal(t, []string{"n1"}, r.notes.read)
}

func TestRunStopsOnQuit(t *testing.T) {
	r := newRig(student)
	in := strings.NewReader("contacts\nquit\nopen t1\n")

	done := make(chan error, 1)
	go func() { done <- r.console.Run(context.Background(), in) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop")
	}
	assert.Contains(t, r.out.String(), "online")
	assert.Empty(t, r.rooms.resolved)
}

func TestCallObserverOutput(t *testing.T) {
	r := newRig(student)
	r.console.CallObserver(domain.CallSession{Phase: domain.PhaseIncoming, CallerID: "t1", CallType: domain.CallVideo})
	r.console.CallObserver(domain.CallSession{Phase: domain.PhaseEnded, Outcome: "rejected"})
	assert.Contains(t, r.out.String(), "incoming video call from t1")
	assert.Contains(t, r.out.String(), "call ended: rejected")
}

func TestRunWaitsForContextAfterInputEnds(t *testing.T) {
	r := newRig(student)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.console.Run(ctx, strings.NewReader("visible\n")) }()

	select {
	case <-done:
		t.Fatal("console stopped before cancel")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop on cancel")
	}
}
