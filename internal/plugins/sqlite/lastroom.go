package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"tutorlink/internal/core/domain"
)

type LastRoomRepo struct {
	db *sql.DB
}

var _ domain.LastRoomStore = (*LastRoomRepo)(nil)

func NewLastRoomRepository(db *sql.DB) *LastRoomRepo {
	return &LastRoomRepo{db: db}
}

func (r *LastRoomRepo) LastRoom(ctx context.Context, actorID string) (string, error) {
	if actorID == "" {
		return "", domain.InvalidArguments("actor id is required")
	}
	var roomID string
	query := `SELECT room_id FROM last_rooms WHERE actor_id = ?`
	err := r.db.QueryRowContext(ctx, query, actorID).Scan(&roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return roomID, nil
}

func (r *LastRoomRepo) SaveLastRoom(ctx context.Context, actorID, roomID string) error {
	if actorID == "" || roomID == "" {
		return domain.InvalidArguments("actor id and room id are required")
	}
	query :=
		`INSERT INTO last_rooms (actor_id, room_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (actor_id) DO UPDATE SET
			room_id = excluded.room_id,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query, actorID, roomID)
	return err
}

func (r *LastRoomRepo) ClearLastRoom(ctx context.Context, actorID string) error {
	query := `DELETE FROM last_rooms WHERE actor_id = ?`
	_, err := r.db.ExecContext(ctx, query, actorID)
	return err
}
