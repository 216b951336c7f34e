package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tutorlink/internal/core/domain"
)

const lastRoomPrefix = "tutorlink:last-room:"

// LastRoomStore keeps the last opened room per actor as a plain key. The
// key expires after ttl so abandoned actors do not accumulate.
type LastRoomStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.LastRoomStore = (*LastRoomStore)(nil)

func NewLastRoomStore(rdb *redis.Client, ttl time.Duration) *LastRoomStore {
	return &LastRoomStore{rdb: rdb, ttl: ttl}
}

func (s *LastRoomStore) LastRoom(ctx context.Context, actorID string) (string, error) {
	roomID, err := s.rdb.Get(ctx, lastRoomPrefix+actorID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", domain.Transport("redis get last room", err)
	}
	return roomID, nil
}

// SaveLastRoom overwrites the key and refreshes its expiry.
func (s *LastRoomStore) SaveLastRoom(ctx context.Context, actorID, roomID string) error {
	if err := s.rdb.Set(ctx, lastRoomPrefix+actorID, roomID, s.ttl).Err(); err != nil {
		return domain.Transport("redis set last room", err)
	}
	return nil
}

func (s *LastRoomStore) ClearLastRoom(ctx context.Context, actorID string) error {
	if err := s.rdb.Del(ctx, lastRoomPrefix+actorID).Err(); err != nil {
		return domain.Transport("redis del last room", err)
	}
	return nil
}
