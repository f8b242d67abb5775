package postgres

import (
	"context"

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
	err := r.q.QueryRow(ctx, queryCreateRoom, room.Name, room.Capacity, room.IsActive).
		Scan(&room.ID, &room.CurrentParticipants, &room.CreatedAt)
	return mapPgError(err)
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrRoomNotFound
	}
	return scanRoom(r.q.QueryRow(ctx, queryGetRoom, id))
}

func (r *RoomRepository) List(ctx context.Context, limit int, cursorStr string) ([]domain.Room, string, error) {
	cur, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", err
	}

	var createdAt, id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.q.Query(ctx, queryListRooms, createdAt, id, limit)
	if err != nil {
		return nil, "", mapPgError(err)
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
		return nil, "", mapPgError(err)
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
	if err := r.q.QueryRow(ctx, queryCountRolesInRoom, roomID).Scan(&pubs, &viewers); err != nil {
		return 0, 0, mapPgError(err)
	}
	return pubs, viewers, nil
}
