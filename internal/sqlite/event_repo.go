package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

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

func (r *EventRepository) Append(ctx context.Context, ev domain.RoomEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = nowUTC()
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_events (id, room_id, event_type, initiator_user_id, target_user_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RoomID, string(ev.Type), ev.InitiatorID, ev.TargetUserID, string(raw), toMillis(ev.CreatedAt))
	return mapSQLiteError(err)
}

func (r *EventRepository) ListByRoom(ctx context.Context, roomID string, limit int, cursorStr string) ([]domain.RoomEvent, string, error) {
	cur, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", err
	}

	var createdAt, id any
	if cur != nil {
		createdAt = toMillis(cur.CreatedAt)
		id = cur.ID
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, room_id, event_type, initiator_user_id, target_user_id, metadata, created_at
		FROM room_events
		WHERE room_id = ?1
		  AND (?2 IS NULL OR created_at < ?2 OR (created_at = ?2 AND id < ?3))
		ORDER BY created_at DESC, id DESC
		LIMIT ?4`, roomID, createdAt, id, limit)
	if err != nil {
		return nil, "", mapSQLiteError(err)
	}
	defer rows.Close()

	var list []domain.RoomEvent
	for rows.Next() {
		var (
			ev        domain.RoomEvent
			typ       string
			initiator sql.NullString
			meta      string
			created   int64
		)
		if err := rows.Scan(&ev.ID, &ev.RoomID, &typ, &initiator, &ev.TargetUserID, &meta, &created); err != nil {
			return nil, "", mapSQLiteError(err)
		}
		ev.Type = domain.EventType(typ)
		if initiator.Valid {
			s := initiator.String
			ev.InitiatorID = &s
		}
		if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
			return nil, "", fmt.Errorf("unmarshal metadata: %w", err)
		}
		ev.CreatedAt = fromMillis(created)
		list = append(list, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapSQLiteError(err)
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

func nowUTC() time.Time {
	return time.Now().UTC()
}
