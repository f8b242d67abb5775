package sqlite

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
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM room_participants
		WHERE room_id = ?1 AND left_at IS NULL AND was_kicked = 0
		  AND (?2 = 0 OR role = 'publisher')
		ORDER BY joined_at ASC, id ASC`, roomID, boolToInt(publishersOnly))
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	return collectParticipants(rows)
}
