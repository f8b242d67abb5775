package repository

import (
	"context"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

type ParticipantRepository interface {
	// Активные участники комнаты по joined_at ASC
	ListActive(ctx context.Context, roomID string, publishersOnly bool) ([]domain.Participant, error)
}
