package contracts

import (
	"context"
	"tutorlink/internal/core/domain"
)

// Alerter surfaces notices to the user, the toast layer of a UI client.
type Alerter interface {
	Alert(ctx context.Context, a domain.Alert)
}

// VideoRoom is the external call-room provider that carries the media once
// signaling has agreed on a room.
type VideoRoom interface {
	Join(ctx context.Context, roomID string, actor domain.Actor) error
	Leave(ctx context.Context) error
}

// NopAlerter drops every alert.
type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, domain.Alert) {}
