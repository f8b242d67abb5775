package repository

import (
	"context"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

// RoomTx: транзакция, держащая эксклюзивную блокировку строки комнаты.
// Все записи current_participants и role идут только через неё.
type RoomTx interface {
	// Room: состояние комнаты, прочитанное под блокировкой
	Room() domain.Room
	// ActiveParticipants: активные (left_at IS NULL, не кикнутые) записи пользователя
	ActiveParticipants(ctx context.Context, userID string) ([]domain.Participant, error)
	CountActivePublishers(ctx context.Context) (int, error)
	// IncrementParticipants увеличивает счётчик на 1 и возвращает новое значение
	IncrementParticipants(ctx context.Context) (int, error)
	InsertParticipant(ctx context.Context, p *domain.Participant) error
	UpdateRole(ctx context.Context, participantID string, role domain.Role) error
	// UpdateSettings пишет name, capacity и is_active комнаты
	UpdateSettings(ctx context.Context, room domain.Room) error
}

// RoomLocker открывает транзакцию, блокирует строку комнаты и вызывает fn.
// nil из fn означает commit, любая ошибка означает rollback. Блокировка снимается на любом пути выхода.
// Отсутствующая комната: domain.ErrRoomNotFound, fn не вызывается.
type RoomLocker interface {
	WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx RoomTx) error) error
}
