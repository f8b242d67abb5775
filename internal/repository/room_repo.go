package repository

import (
	"context"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

type RoomRepository interface {
	// Создаёт комнату, заполняет ID и CreatedAt
	Create(ctx context.Context, room *domain.Room) error
	// Комната по ID или domain.ErrRoomNotFound
	Get(ctx context.Context, id string) (*domain.Room, error)
	// Курсорная пагинация (created_at, id DESC)
	List(ctx context.Context, limit int, cursor string) ([]domain.Room, string, error)
	// Число активных publisher и viewer; для витрины, не для допуска
	CountRoles(ctx context.Context, roomID string) (publishers, viewers int, err error)
}
