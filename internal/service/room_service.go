package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/repository"
)

const DefaultCapacity = 50

type RoomService struct {
	roomRepo  repository.RoomRepository
	eventRepo repository.EventRepository
	locker    repository.RoomLocker
	cache     SummaryCache
}

func NewRoomService(roomRepo repository.RoomRepository, eventRepo repository.EventRepository, locker repository.RoomLocker) *RoomService {
	return &RoomService{roomRepo: roomRepo, eventRepo: eventRepo, locker: locker}
}

func (s *RoomService) SetCache(cache SummaryCache) {
	s.cache = cache
}

// CreateRoom создаёт активную комнату. capacity <= 0: значение по умолчанию.
func (s *RoomService) CreateRoom(ctx context.Context, name string, capacity int) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", domain.ErrInvalidInput)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	room := &domain.Room{
		Name:     name,
		Capacity: capacity,
		IsActive: true,
	}

	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("roomRepo.Create: %w", err)
	}
	return room, nil
}

// GetRoom возвращает витрину комнаты, сначала пробуя кэш.
func (s *RoomService) GetRoom(ctx context.Context, id string) (*domain.RoomSummary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: room id is required", domain.ErrInvalidInput)
	}

	// версия читается до БД: если между чтением и Set прошёл join, Set уйдёт в старую версию
	var (
		version   int64
		cacheable bool
	)
	if s.cache != nil {
		sum, v, err := s.cache.Get(ctx, id)
		switch {
		case err == nil:
			return sum, nil
		case errors.Is(err, ErrCacheMiss):
			version, cacheable = v, true
		default:
			slog.Warn("roomService.GetRoom: cache get", slog.String("room_id", id), slog.Any("err", err))
		}
	}

	room, err := s.roomRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sum, err := s.summarize(ctx, *room)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.Set(ctx, *sum, version); err != nil {
			slog.Warn("roomService.GetRoom: cache set", slog.String("room_id", id), slog.Any("err", err))
		}
	}
	return sum, nil
}

// ListRooms возвращает список комнат с курсорной пагинацией.
func (s *RoomService) ListRooms(ctx context.Context, limit int, cursor string) ([]domain.RoomSummary, string, error) {
	limit = clampLimit(limit)

	rooms, nextCursor, err := s.roomRepo.List(ctx, limit, cursor)
	if err != nil {
		return nil, "", err
	}

	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		sum, err := s.summarize(ctx, r)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *sum)
	}
	return out, nextCursor, nil
}

// SetActive включает или выключает комнату. Выключенная комната отклоняет join.
func (s *RoomService) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.UpdateRoom(ctx, id, domain.RoomPatch{IsActive: &active})
	return err
}

// UpdateRoom меняет имя, вместимость и активность комнаты под той же блокировкой,
// что и join. Пустой патч ничего не пишет и возвращает текущую комнату.
// Вместимость нельзя опустить ниже числа активных публикаторов.
func (s *RoomService) UpdateRoom(ctx context.Context, id string, patch domain.RoomPatch) (*domain.RoomSummary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: room id is required", domain.ErrInvalidInput)
	}
	if patch.IsEmpty() {
		return s.GetRoom(ctx, id)
	}

	err := s.locker.WithRoomLock(ctx, id, func(ctx context.Context, tx repository.RoomTx) error {
		cur := tx.Room()
		next, err := patch.Apply(cur)
		if err != nil {
			return err
		}
		if next.Capacity < cur.Capacity {
			pubs, err := tx.CountActivePublishers(ctx)
			if err != nil {
				return fmt.Errorf("count publishers: %w", err)
			}
			if next.Capacity < pubs {
				return fmt.Errorf("%w: %d publishers, capacity %d", domain.ErrCapacityBelowPublishers, pubs, next.Capacity)
			}
		}
		if next == cur {
			return nil
		}
		return tx.UpdateSettings(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			slog.Warn("roomService.UpdateRoom: cache invalidate", slog.String("room_id", id), slog.Any("err", err))
		}
	}
	return s.GetRoom(ctx, id)
}

// ListEvents: журнал событий комнаты, новые первыми.
func (s *RoomService) ListEvents(ctx context.Context, roomID string, limit int, cursor string) ([]domain.RoomEvent, string, error) {
	if _, err := s.roomRepo.Get(ctx, roomID); err != nil {
		return nil, "", err
	}
	return s.eventRepo.ListByRoom(ctx, roomID, clampLimit(limit), cursor)
}

func (s *RoomService) summarize(ctx context.Context, room domain.Room) (*domain.RoomSummary, error) {
	pubs, viewers, err := s.roomRepo.CountRoles(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.CountRoles: %w", err)
	}
	return &domain.RoomSummary{Room: room, Publishers: pubs, Viewers: viewers}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
