package postgres

import (
	"context"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/repository"
)

type ParticipantRepository struct {
	q querier
}

func NewParticipantRepository(q querier) *ParticipantRepository {
	return &ParticipantRepository{q: q}
}

var _ repository.ParticipantRepository = (*ParticipantRepository)(nil)

func (r *ParticipantRepository) ListActive(ctx context.Context, roomID string, publishersOnly bool) ([]domain.Participant, error) {
	rows, err := r.q.Query(ctx, queryListActiveParticipants, roomID, publishersOnly)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectParticipants(rows)
}
