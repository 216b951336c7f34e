package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/logger"
)

func newFeed() (*NotificationFeed, *fakeNotificationAPI) {
	api := &fakeNotificationAPI{items: []domain.Notification{
		{ID: "n1", Heading: "Course approved", Message: "Go basics is live"},
		{ID: "n2", Heading: "Payout", Message: "Sent", IsRead: true},
		{ID: "n3", Heading: "New review", Message: "5 stars", URL: "/reviews/3"},
	}}
	return NewNotificationFeed(logger.Discard(), api, nil), api
}

func TestFeedFetchAndCount(t *testing.T) {
	feed, _ := newFeed()
	items, err := feed.Fetch(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, 2, feed.UnreadCount())

	_, err = feed.Fetch(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestFeedMarkReadFlipsOne(t *testing.T) {
	feed, _ := newFeed()
	_, err := feed.Fetch(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, feed.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 1, feed.UnreadCount())
	for _, n := range feed.Items() {
		if n.ID == "n3" {
			assert.False(t, n.IsRead)
		}
	}

	err = feed.MarkRead(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, feed.UnreadCount())
}

func TestFeedRefetchesOnEvents(t *testing.T) {
	feed, api := newFeed()
	sock := newFakeSocket()
	feed.Attach(contracts.NewSubscriptions(sock))

	// Unbound feed ignores events.
	require.NoError(t, feed.Refresh(context.Background()))
	assert.Zero(t, api.fetchCount())

	feed.Bind("t1")
	sock.deliver(domain.EventNewNotification, `{"id":"n4"}`)
	require.Eventually(t, func() bool { return api.fetchCount() == 1 }, timeout, tick)
	sock.deliver(domain.EventConnect, nil)
	require.Eventually(t, func() bool { return api.fetchCount() == 2 }, timeout, tick)
	require.Eventually(t, func() bool { return feed.UnreadCount() == 2 }, timeout, tick)

	feed.Reset()
	assert.Zero(t, feed.UnreadCount())
	assert.Empty(t, feed.Items())
}

func TestFeedRefreshDroppedAfterActorSwitch(t *testing.T) {
	feed, api := newFeed()
	api.started = make(chan struct{})
	api.block = make(chan struct{})
	feed.Bind("t1")

	done := make(chan error, 1)
	go func() { done <- feed.Refresh(context.Background()) }()
	<-api.started

	feed.Bind("u2")
	close(api.block)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrStaleResult)
	case <-time.After(timeout):
		t.Fatal("refresh did not return")
	}
	assert.Empty(t, feed.Items())
	assert.Zero(t, feed.UnreadCount())
}
