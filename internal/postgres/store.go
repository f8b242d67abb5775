package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store сериализует join транзакцией с FOR UPDATE на строке комнаты.
type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

var _ repository.RoomLocker = (*Store)(nil)

func (s *Store) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx repository.RoomTx) error) error {
	if _, err := uuid.Parse(roomID); err != nil {
		return domain.ErrRoomNotFound
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	// после Commit это no-op; отменённый ctx не должен мешать откату
	defer tx.Rollback(context.WithoutCancel(ctx))

	if s.lockTimeout > 0 {
		// SET LOCAL не принимает параметры
		q := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, q); err != nil {
			return mapPgError(err)
		}
	}

	room, err := scanRoom(tx.QueryRow(ctx, queryLockRoom, roomID))
	if err != nil {
		return err
	}

	if err := fn(ctx, &roomTx{q: tx, room: *room}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

type roomTx struct {
	q    querier
	room domain.Room
}

func (t *roomTx) Room() domain.Room { return t.room }

func (t *roomTx) ActiveParticipants(ctx context.Context, userID string) ([]domain.Participant, error) {
	rows, err := t.q.Query(ctx, queryActiveParticipantsByUser, t.room.ID, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectParticipants(rows)
}

func (t *roomTx) CountActivePublishers(ctx context.Context) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, queryCountActivePublishers, t.room.ID).Scan(&n); err != nil {
		return 0, mapPgError(err)
	}
	return n, nil
}

func (t *roomTx) IncrementParticipants(ctx context.Context) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, queryIncrementRoomCount, t.room.ID).Scan(&n); err != nil {
		return 0, mapPgError(err)
	}
	t.room.CurrentParticipants = n
	return n, nil
}

func (t *roomTx) InsertParticipant(ctx context.Context, p *domain.Participant) error {
	if p.RoomID == "" {
		p.RoomID = t.room.ID
	}
	_, err := t.q.Exec(ctx, queryInsertParticipant,
		p.ID, p.RoomID, p.UserID, p.UserName, p.Role.String(), p.JoinedAt)
	return mapPgError(err)
}

func (t *roomTx) UpdateRole(ctx context.Context, participantID string, role domain.Role) error {
	cmd, err := t.q.Exec(ctx, queryUpdateParticipantRole, participantID, role.String())
	if err != nil {
		return mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("update role: participant %s is not active", participantID)
	}
	return nil
}

func (t *roomTx) UpdateSettings(ctx context.Context, room domain.Room) error {
	if _, err := t.q.Exec(ctx, queryUpdateRoomSettings, t.room.ID, room.Name, room.Capacity, room.IsActive); err != nil {
		return mapPgError(err)
	}
	t.room.Name, t.room.Capacity, t.room.IsActive = room.Name, room.Capacity, room.IsActive
	return nil
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var rm domain.Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Capacity, &rm.IsActive, &rm.CurrentParticipants, &rm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, mapPgError(err)
	}
	return &rm, nil
}

func collectParticipants(rows pgx.Rows) ([]domain.Participant, error) {
	defer rows.Close()

	var list []domain.Participant
	for rows.Next() {
		var (
			p    domain.Participant
			role string
		)
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.UserName, &role, &p.JoinedAt, &p.LeftAt, &p.WasKicked); err != nil {
			return nil, mapPgError(err)
		}
		r, err := domain.ParseRole(role)
		if err != nil {
			return nil, err
		}
		p.Role = r
		list = append(list, p)
	}
	return list, mapPgError(rows.Err())
}
