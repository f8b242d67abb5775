package repository

import (
	"context"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

type EventRepository interface {
	Append(ctx context.Context, ev domain.RoomEvent) error
	// Курсорная пагинация (created_at, id DESC)
	ListByRoom(ctx context.Context, roomID string, limit int, cursor string) ([]domain.RoomEvent, string, error)
}
