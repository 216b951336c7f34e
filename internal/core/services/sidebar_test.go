package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlink/internal/core/domain"
)

func TestSidebarRefreshDerivesPresence(t *testing.T) {
	c := newChat("u1")
	c.contacts.contacts = []domain.Contact{
		{ID: "t1", Name: "Tutor One", RoomID: "r1", UnreadCount: 2, Avatar: "https://cdn/t1.png"},
		{ID: "t2", Name: "Tutor Two", RoomID: "r2", UnreadCount: -3},
		{Name: "no id"},
	}
	c.presence.Apply([]byte(`["t2"]`))

	views, err := c.sidebar.Refresh(context.Background(), "u1", "")
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.False(t, views[0].IsOnline)
	assert.Equal(t, "https://cdn/t1.png", views[0].Avatar)
	assert.True(t, views[1].IsOnline)
	assert.Equal(t, domain.DefaultAvatar, views[1].Avatar)
	assert.Zero(t, views[1].UnreadCount)
	assert.Equal(t, 2, c.sidebar.TotalUnread())

	peer, ok := c.sidebar.PeerForRoom("r2")
	assert.True(t, ok)
	assert.Equal(t, "t2", peer)

	// Presence is read at view time, not copied on refresh.
	c.presence.Apply([]byte(`["t1"]`))
	v, _ := c.sidebar.Contact("t1")
	assert.True(t, v.IsOnline)
}

func TestSidebarRefreshErrors(t *testing.T) {
	c := newChat("u1")
	_, err := c.sidebar.Refresh(context.Background(), "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)

	c.contacts.err = errors.New("unavailable")
	_, err = c.sidebar.Refresh(context.Background(), "u1", "")
	assert.Error(t, err)
}

func TestReadDirectionsStayIndependent(t *testing.T) {
	c := newChat("u1")
	msg := domain.Message{RoomID: "r1", SenderID: "u1", Payload: "mine"}

	c.sidebar.OutgoingMessage("t1", msg)
	c.sidebar.IncomingMessage("t1", domain.Message{RoomID: "r1", SenderID: "t1", Payload: "theirs"})
	c.sidebar.PeerRead("t1")

	v, _ := c.sidebar.Contact("t1")
	assert.True(t, v.LastMessageRead)
	assert.Equal(t, 1, v.UnreadCount)

	c.sidebar.ClearUnread("t1")
	v, _ = c.sidebar.Contact("t1")
	assert.Zero(t, v.UnreadCount)
	assert.True(t, v.LastMessageRead)
}

func TestSidebarReset(t *testing.T) {
	c := newChat("u1")
	c.sidebar.IncomingMessage("t1", domain.Message{RoomID: "r1", SenderID: "t1", Payload: "x"})
	c.sidebar.Reset()
	assert.Empty(t, c.sidebar.Contacts())
	assert.Zero(t, c.sidebar.TotalUnread())
}
