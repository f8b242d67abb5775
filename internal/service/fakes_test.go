package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/repository"

	"github.com/google/uuid"
)

// memStore: хранилище в памяти с блокировкой на комнату и применением изменений только при commit.
type memStore struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	rooms map[string]domain.Room
	parts map[string][]domain.Participant
	evs   []domain.RoomEvent

	// lockDelay имитирует ожидание блокировки
	lockDelay time.Duration
	// afterGet вызывается после чтения комнаты в Get, вне мьютекса
	afterGet func()
}

func newMemStore() *memStore {
	return &memStore{
		locks: map[string]*sync.Mutex{},
		rooms: map[string]domain.Room{},
		parts: map[string][]domain.Participant{},
	}
}

func (s *memStore) addRoom(capacity int, active bool) domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := domain.Room{
		ID:        uuid.NewString(),
		Name:      "main",
		Capacity:  capacity,
		IsActive:  active,
		CreatedAt: time.Now().UTC(),
	}
	s.rooms[r.ID] = r
	return r
}

func (s *memStore) room(id string) domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

func (s *memStore) participants(roomID string) []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Participant(nil), s.parts[roomID]...)
}

func (s *memStore) markLeft(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.parts[roomID] {
		p := &s.parts[roomID][i]
		if p.UserID == userID && p.LeftAt == nil {
			p.LeftAt = &now
		}
	}
}

func (s *memStore) kick(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.parts[roomID] {
		p := &s.parts[roomID][i]
		if p.UserID == userID && p.IsActive() {
			p.WasKicked = true
		}
	}
}

func (s *memStore) roomLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *memStore) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx repository.RoomTx) error) error {
	l := s.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	if s.lockDelay > 0 {
		select {
		case <-time.After(s.lockDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	room, ok := s.rooms[roomID]
	parts := append([]domain.Participant(nil), s.parts[roomID]...)
	s.mu.Unlock()
	if !ok {
		return domain.ErrRoomNotFound
	}

	tx := &memTx{room: room, parts: parts}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.rooms[roomID] = tx.room
	s.parts[roomID] = tx.parts
	s.mu.Unlock()
	return nil
}

// RoomRepository

func (s *memStore) Create(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.ID = uuid.NewString()
	room.CreatedAt = time.Now().UTC()
	s.rooms[room.ID] = *room
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Room, error) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if s.afterGet != nil {
		s.afterGet()
	}
	return &r, nil
}

func (s *memStore) List(_ context.Context, limit int, _ string) ([]domain.Room, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, "", nil
}

func (s *memStore) CountRoles(_ context.Context, roomID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pubs, viewers int
	for _, p := range s.parts[roomID] {
		if !p.IsActive() {
			continue
		}
		if p.IsPublisher() {
			pubs++
		} else {
			viewers++
		}
	}
	return pubs, viewers, nil
}

// ParticipantRepository

func (s *memStore) ListActive(_ context.Context, roomID string, publishersOnly bool) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Participant
	for _, p := range s.parts[roomID] {
		if !p.IsActive() || (publishersOnly && !p.IsPublisher()) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// EventRepository

func (s *memStore) Append(_ context.Context, ev domain.RoomEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *memStore) ListByRoom(_ context.Context, roomID string, limit int, _ string) ([]domain.RoomEvent, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RoomEvent
	for i := len(s.evs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.evs[i].RoomID == roomID {
			out = append(out, s.evs[i])
		}
	}
	return out, "", nil
}

type memTx struct {
	room  domain.Room
	parts []domain.Participant
}

func (t *memTx) Room() domain.Room { return t.room }

func (t *memTx) ActiveParticipants(_ context.Context, userID string) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range t.parts {
		if p.UserID == userID && p.IsActive() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) CountActivePublishers(_ context.Context) (int, error) {
	n := 0
	for _, p := range t.parts {
		if p.IsActive() && p.IsPublisher() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) IncrementParticipants(_ context.Context) (int, error) {
	t.room.CurrentParticipants++
	return t.room.CurrentParticipants, nil
}

func (t *memTx) InsertParticipant(_ context.Context, p *domain.Participant) error {
	// тот же предикат, что у частичного уникального индекса: left_at IS NULL AND NOT was_kicked
	for _, cur := range t.parts {
		if cur.UserID == p.UserID && cur.IsActive() {
			return domain.ErrDuplicateMembership
		}
	}
	t.parts = append(t.parts, *p)
	return nil
}

func (t *memTx) UpdateRole(_ context.Context, participantID string, role domain.Role) error {
	for i := range t.parts {
		if t.parts[i].ID == participantID {
			t.parts[i].Role = role
			return nil
		}
	}
	return errors.New("participant not found")
}

func (t *memTx) UpdateSettings(_ context.Context, room domain.Room) error {
	t.room.Name, t.room.Capacity, t.room.IsActive = room.Name, room.Capacity, room.IsActive
	return nil
}

// flakyLocker отдаёт err первые failures вызовов, потом делегирует.
type flakyLocker struct {
	next     repository.RoomLocker
	err      error
	failures int32
	calls    atomic.Int32
}

func (f *flakyLocker) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx repository.RoomTx) error) error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return f.next.WithRoomLock(ctx, roomID, fn)
}

type fakeIssuer struct {
	calls atomic.Int32
	err   error
	// block: ждать отмены контекста
	block bool
	ttl   time.Duration
}

func (f *fakeIssuer) Issue(ctx context.Context, roomID, userID string, role domain.Role) (domain.Credential, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return domain.Credential{}, ctx.Err()
	}
	if f.err != nil {
		return domain.Credential{}, f.err
	}
	return domain.Credential{
		Token:     "tok-" + roomID + "-" + userID + "-" + role.String(),
		UID:       userID,
		Role:      role,
		ExpiresAt: time.Now().Add(f.ttl),
	}, nil
}

type recEvents struct {
	mu  sync.Mutex
	evs []domain.RoomEvent
	err error
}

func (r *recEvents) Append(_ context.Context, ev domain.RoomEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recEvents) all() []domain.RoomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RoomEvent(nil), r.evs...)
}

type cachedSummary struct {
	sum     domain.RoomSummary
	version int64
}

type memCache struct {
	mu          sync.Mutex
	items       map[string]cachedSummary
	versions    map[string]int64
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{items: map[string]cachedSummary{}, versions: map[string]int64{}}
}

func (c *memCache) Get(_ context.Context, roomID string) (*domain.RoomSummary, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.versions[roomID]
	it, ok := c.items[roomID]
	if !ok || it.version != v {
		return nil, v, ErrCacheMiss
	}
	return &it.sum, v, nil
}

func (c *memCache) Set(_ context.Context, s domain.RoomSummary, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.Room.ID] = cachedSummary{sum: s, version: version}
	return nil
}

func (c *memCache) Invalidate(_ context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[roomID]++
	c.invalidated = append(c.invalidated, roomID)
	return nil
}
