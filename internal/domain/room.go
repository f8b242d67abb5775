package domain

import (
	"fmt"
	"strings"
	"time"
)

type Room struct {
	ID   string `db:"id"`
	Name string `db:"name"`
	// Capacity ограничивает только число Publisher, не общее число участников.
	Capacity            int       `db:"capacity"`
	IsActive            bool      `db:"is_active"`
	CurrentParticipants int       `db:"current_participants"`
	CreatedAt           time.Time `db:"created_at"`
}

// RoomSummary: витринное представление комнаты. Может быть устаревшим,
// решения о допуске по нему не принимаются.
type RoomSummary struct {
	Room       Room `json:"room"`
	Publishers int  `json:"publishers"`
	Viewers    int  `json:"viewers"`
}

func (s RoomSummary) IsFull() bool {
	return s.Publishers >= s.Room.Capacity
}

// RoomPatch: частичное изменение настроек комнаты; nil-поле не меняется.
type RoomPatch struct {
	Name     *string
	Capacity *int
	IsActive *bool
}

func (p RoomPatch) IsEmpty() bool {
	return p.Name == nil && p.Capacity == nil && p.IsActive == nil
}

// Apply возвращает комнату с применённым патчем. Проверка числа публикаторов
// против новой вместимости делается под блокировкой, не здесь.
func (p RoomPatch) Apply(r Room) (Room, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return r, fmt.Errorf("%w: room name must not be empty", ErrInvalidInput)
		}
		r.Name = name
	}
	if p.Capacity != nil {
		if *p.Capacity <= 0 {
			return r, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
		}
		r.Capacity = *p.Capacity
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	return r, nil
}
