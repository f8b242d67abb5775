package service

import (
	"context"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/repository"
)

type MemberService struct {
	roomRepo        repository.RoomRepository
	participantRepo repository.ParticipantRepository
}

func NewMemberService(roomRepo repository.RoomRepository, participantRepo repository.ParticipantRepository) *MemberService {
	return &MemberService{
		roomRepo:        roomRepo,
		participantRepo: participantRepo,
	}
}

// ListParticipants: активные участники комнаты; publishersOnly оставляет только Publisher.
func (s *MemberService) ListParticipants(ctx context.Context, roomID string, publishersOnly bool) ([]domain.Participant, error) {
	if _, err := s.roomRepo.Get(ctx, roomID); err != nil {
		return nil, err
	}
	return s.participantRepo.ListActive(ctx, roomID, publishersOnly)
}
