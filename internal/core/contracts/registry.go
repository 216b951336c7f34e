package contracts

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

// Socket is the view every component gets of the single connection owned by
// the connection manager. Components emit and listen through it and never
// dial their own.
type Socket interface {
	// Emit writes event on the live connection. It fails with
	// domain.ErrNotConnected when there is none.
	Emit(ctx context.Context, event string, payload any) error
	// On registers h for event and returns the matching off func. Calling
	// off more than once is safe.
	On(event string, h Handler) (off func())
	Connected() bool
}

// Subscriptions pairs every On with an off so a component can release all
// of its listeners at once when it becomes inactive.
type Subscriptions struct {
	mu   sync.Mutex
	sock Socket
	offs []func()
}

func NewSubscriptions(sock Socket) *Subscriptions {
	return &Subscriptions{sock: sock}
}

func (s *Subscriptions) On(event string, h Handler) {
	off := s.sock.On(event, h)
	s.mu.Lock()
	s.offs = append(s.offs, off)
	s.mu.Unlock()
}

// Close releases every listener registered through s.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offs)
}
