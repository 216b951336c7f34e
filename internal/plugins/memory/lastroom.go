package memory

import (
	"context"
	"sync"

	"tutorlink/internal/core/domain"
)

// LastRoomStore keeps last rooms for the life of the process.
type LastRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]string
}

var _ domain.LastRoomStore = (*LastRoomStore)(nil)

func NewLastRoomStore() *LastRoomStore {
	return &LastRoomStore{rooms: make(map[string]string)}
}

func (s *LastRoomStore) LastRoom(_ context.Context, actorID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[actorID], nil
}

func (s *LastRoomStore) SaveLastRoom(_ context.Context, actorID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[actorID] = roomID
	return nil
}

func (s *LastRoomStore) ClearLastRoom(_ context.Context, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, actorID)
	return nil
}
