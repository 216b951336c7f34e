package contracts

import (
	"context"
	"tutorlink/internal/core/domain"
)

// Dialer opens the physical connection for an actor.
type Dialer interface {
	Dial(ctx context.Context, actor domain.Actor) (Conn, error)
}

// Conn is one physical socket connection.
type Conn interface {
	// ReadLoop blocks delivering frames in arrival order until the
	// connection fails or is closed, and returns the cause.
	ReadLoop(onFrame func([]byte)) error
	WriteMessage(data []byte) error
	Close()
}
