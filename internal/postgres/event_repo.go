package postgres

import (
	"context"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/pagination"
	"github.com/cwrk-planet/mainroom-service/internal/repository"
)

type EventRepository struct {
	q querier
}

func NewEventRepository(q querier) *EventRepository {
	return &EventRepository{q: q}
}

var _ repository.EventRepository = (*EventRepository)(nil)

// Append идемпотентен по ev.ID: повторная доставка из очереди не дублирует запись.
func (r *EventRepository) Append(ctx context.Context, ev domain.RoomEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := r.q.Exec(ctx, queryInsertEvent,
		ev.ID, ev.RoomID, string(ev.Type), ev.InitiatorID, ev.TargetUserID, meta, ev.CreatedAt)
	return mapPgError(err)
}

func (r *EventRepository) ListByRoom(ctx context.Context, roomID string, limit int, cursorStr string) ([]domain.RoomEvent, string, error) {
	cur, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", err
	}

	var createdAt, id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.q.Query(ctx, queryListEvents, roomID, createdAt, id, limit)
	if err != nil {
		return nil, "", mapPgError(err)
	}
	defer rows.Close()

	var list []domain.RoomEvent
	for rows.Next() {
		var (
			ev  domain.RoomEvent
			typ string
		)
		if err := rows.Scan(&ev.ID, &ev.RoomID, &typ, &ev.InitiatorID, &ev.TargetUserID, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, "", mapPgError(err)
		}
		ev.Type = domain.EventType(typ)
		list = append(list, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapPgError(err)
	}

	next, err := pagination.Next(len(list), limit, func() pagination.Cursor {
		last := list[len(list)-1]
		return pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	})
	if err != nil {
		return nil, "", err
	}
	return list, next, nil
}
