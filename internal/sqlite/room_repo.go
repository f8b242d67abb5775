package sqlite

import (
	"context"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/pagination"
	"github.com/cwrk-planet/mainroom-service/internal/repository"

	"github.com/google/uuid"
)

type RoomRepository struct {
	q querier
}

func NewRoomRepository(q querier) *RoomRepository {
	return &RoomRepository{q: q}
}

var _ repository.RoomRepository = (*RoomRepository)(nil)

func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	room.ID = uuid.NewString()
	room.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	room.CurrentParticipants = 0

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO main_rooms (id, name, capacity, is_active, current_participants, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		room.ID, room.Name, room.Capacity, boolToInt(room.IsActive), toMillis(room.CreatedAt))
	return mapSQLiteError(err)
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	return scanRoom(r.q.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM main_rooms WHERE id = ?`, id))
}

func (r *RoomRepository) List(ctx context.Context, limit int, cursorStr string) ([]domain.Room, string, error) {
	cur, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", err
	}

	var createdAt, id any
	if cur != nil {
		createdAt = toMillis(cur.CreatedAt)
		id = cur.ID
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+roomColumns+`
		FROM main_rooms
		WHERE (?1 IS NULL OR created_at < ?1 OR (created_at = ?1 AND id < ?2))
		ORDER BY created_at DESC, id DESC
		LIMIT ?3`, createdAt, id, limit)
	if err != nil {
		return nil, "", mapSQLiteError(err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, "", err
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapSQLiteError(err)
	}

	next, err := pagination.Next(len(rooms), limit, func() pagination.Cursor {
		last := rooms[len(rooms)-1]
		return pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	})
	if err != nil {
		return nil, "", err
	}
	return rooms, next, nil
}

func (r *RoomRepository) CountRoles(ctx context.Context, roomID string) (int, int, error) {
	var pubs, viewers int
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN role = 'publisher' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN role = 'viewer' THEN 1 ELSE 0 END), 0)
		FROM room_participants
		WHERE room_id = ? AND left_at IS NULL AND was_kicked = 0`, roomID).Scan(&pubs, &viewers)
	if err != nil {
		return 0, 0, mapSQLiteError(err)
	}
	return pubs, viewers, nil
}
