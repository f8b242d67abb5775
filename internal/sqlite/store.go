package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/repository"
)

const roomColumns = `id, name, capacity, is_active, current_participants, created_at`

const participantColumns = `id, room_id, user_id, user_name, role, joined_at, left_at, was_kicked`

// Store сериализует join через единственное соединение пула: пока транзакция открыта,
// остальные вызовы ждут соединение (или истечения ctx).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ repository.RoomLocker = (*Store)(nil)

func (s *Store) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx repository.RoomTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError(err)
	}
	defer tx.Rollback()

	room, err := scanRoom(tx.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM main_rooms WHERE id = ?`, roomID))
	if err != nil {
		return err
	}

	if err := fn(ctx, &roomTx{q: tx, room: *room}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapSQLiteError(err)
	}
	return nil
}

type roomTx struct {
	q    querier
	room domain.Room
}

func (t *roomTx) Room() domain.Room { return t.room }

func (t *roomTx) ActiveParticipants(ctx context.Context, userID string) ([]domain.Participant, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM room_participants
		WHERE room_id = ? AND user_id = ? AND left_at IS NULL AND was_kicked = 0`,
		t.room.ID, userID)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	return collectParticipants(rows)
}

func (t *roomTx) CountActivePublishers(ctx context.Context) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM room_participants
		WHERE room_id = ? AND role = 'publisher' AND left_at IS NULL AND was_kicked = 0`,
		t.room.ID).Scan(&n)
	if err != nil {
		return 0, mapSQLiteError(err)
	}
	return n, nil
}

func (t *roomTx) IncrementParticipants(ctx context.Context) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		`UPDATE main_rooms SET current_participants = current_participants + 1 WHERE id = ? RETURNING current_participants`,
		t.room.ID).Scan(&n)
	if err != nil {
		return 0, mapSQLiteError(err)
	}
	t.room.CurrentParticipants = n
	return n, nil
}

func (t *roomTx) InsertParticipant(ctx context.Context, p *domain.Participant) error {
	if p.RoomID == "" {
		p.RoomID = t.room.ID
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO room_participants (id, room_id, user_id, user_name, role, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.RoomID, p.UserID, p.UserName, p.Role.String(), toMillis(p.JoinedAt))
	return mapSQLiteError(err)
}

func (t *roomTx) UpdateRole(ctx context.Context, participantID string, role domain.Role) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE room_participants SET role = ?
		WHERE id = ? AND left_at IS NULL AND was_kicked = 0`,
		role.String(), participantID)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update role: participant %s is not active", participantID)
	}
	return nil
}

func (t *roomTx) UpdateSettings(ctx context.Context, room domain.Room) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE main_rooms SET name = ?, capacity = ?, is_active = ? WHERE id = ?`,
		room.Name, room.Capacity, boolToInt(room.IsActive), t.room.ID)
	if err != nil {
		return mapSQLiteError(err)
	}
	t.room.Name, t.room.Capacity, t.room.IsActive = room.Name, room.Capacity, room.IsActive
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*domain.Room, error) {
	var (
		rm        domain.Room
		active    int
		createdAt int64
	)
	err := row.Scan(&rm.ID, &rm.Name, &rm.Capacity, &active, &rm.CurrentParticipants, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, mapSQLiteError(err)
	}
	rm.IsActive = active != 0
	rm.CreatedAt = fromMillis(createdAt)
	return &rm, nil
}

func collectParticipants(rows *sql.Rows) ([]domain.Participant, error) {
	defer rows.Close()

	var list []domain.Participant
	for rows.Next() {
		var (
			p        domain.Participant
			role     string
			joinedAt int64
			leftAt   sql.NullInt64
			kicked   int
		)
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.UserName, &role, &joinedAt, &leftAt, &kicked); err != nil {
			return nil, mapSQLiteError(err)
		}
		r, err := domain.ParseRole(role)
		if err != nil {
			return nil, err
		}
		p.Role = r
		p.JoinedAt = fromMillis(joinedAt)
		if leftAt.Valid {
			t := fromMillis(leftAt.Int64)
			p.LeftAt = &t
		}
		p.WasKicked = kicked != 0
		list = append(list, p)
	}
	return list, mapSQLiteError(rows.Err())
}
