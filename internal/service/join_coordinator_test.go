package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

type joinEnv struct {
	store  *memStore
	issuer *fakeIssuer
	events *recEvents
	coord  *JoinCoordinator
}

func newJoinEnv(t *testing.T) *joinEnv {
	t.Helper()
	env := &joinEnv{
		store:  newMemStore(),
		issuer: &fakeIssuer{ttl: time.Hour},
		events: &recEvents{},
	}
	env.coord = NewJoinCoordinator(env.store, env.issuer, env.events, JoinConfig{
		Timeout:      2 * time.Second,
		IssueTimeout: time.Second,
	})
	return env
}

func (e *joinEnv) join(t *testing.T, roomID, userID string, publisher bool) (*JoinResult, error) {
	t.Helper()
	return e.coord.Join(context.Background(), JoinRequest{
		RoomID:         roomID,
		UserID:         userID,
		UserName:       "name-" + userID,
		WantsPublisher: publisher,
	})
}

func countPublishers(parts []domain.Participant) int {
	n := 0
	for _, p := range parts {
		if p.IsActive() && p.IsPublisher() {
			n++
		}
	}
	return n
}

func TestJoin_ConcurrentPublishersNeverOversell(t *testing.T) {
	cases := []struct {
		capacity, users int
	}{
		{capacity: 2, users: 3},
		{capacity: 3, users: 25},
		{capacity: 1, users: 10},
	}

	for _, c := range cases {
		t.Run(fmt.Sprintf("cap%d_users%d", c.capacity, c.users), func(t *testing.T) {
			env := newJoinEnv(t)
			room := env.store.addRoom(c.capacity, true)

			var (
				wg             sync.WaitGroup
				mu             sync.Mutex
				success, fulls int
			)
			for i := 0; i < c.users; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := env.join(t, room.ID, fmt.Sprintf("u%d", i), true)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil && res.IsPublisher:
						success++
					case errors.Is(err, domain.ErrRoomFull):
						fulls++
					default:
						t.Errorf("unexpected result: %+v, %v", res, err)
					}
				}(i)
			}
			wg.Wait()

			if success != c.capacity {
				t.Fatalf("successes = %d, want %d", success, c.capacity)
			}
			if fulls != c.users-c.capacity {
				t.Fatalf("room full = %d, want %d", fulls, c.users-c.capacity)
			}
			if got := countPublishers(env.store.participants(room.ID)); got != c.capacity {
				t.Fatalf("active publishers = %d, want %d", got, c.capacity)
			}
			if got := env.store.room(room.ID).CurrentParticipants; got != c.capacity {
				t.Fatalf("counter = %d, want %d", got, c.capacity)
			}
			if got := len(env.events.all()); got != c.capacity {
				t.Fatalf("events = %d, want %d", got, c.capacity)
			}
		})
	}
}

func TestJoin_IdempotentRejoin(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(5, true)

	first, err := env.join(t, room.ID, "alice", false)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	if first.AlreadyJoined || first.Upgraded || first.IsPublisher {
		t.Fatalf("unexpected first result: %+v", first)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.join(t, room.ID, "alice", false)
			if err != nil {
				t.Errorf("rejoin: %v", err)
				return
			}
			if !res.AlreadyJoined || res.Upgraded || res.Token == "" {
				t.Errorf("unexpected rejoin result: %+v", res)
			}
		}()
	}
	wg.Wait()

	if got := env.store.room(room.ID).CurrentParticipants; got != 1 {
		t.Fatalf("counter = %d, want 1", got)
	}
	if got := len(env.store.participants(room.ID)); got != 1 {
		t.Fatalf("participant rows = %d, want 1", got)
	}
	evs := env.events.all()
	if len(evs) != 1 || evs[0].Type != domain.EventJoinedViewer {
		t.Fatalf("events = %+v, want single JOINED_VIEWER", evs)
	}
}

func TestJoin_ConcurrentFirstJoinSameUser(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(5, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.join(t, room.ID, "bob", true); err != nil {
				t.Errorf("join: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := env.store.room(room.ID).CurrentParticipants; got != 1 {
		t.Fatalf("counter = %d, want 1", got)
	}
	if got := len(env.events.all()); got != 1 {
		t.Fatalf("events = %d, want 1", got)
	}
}

// Сценарий: зритель становится публикатором, счётчик не меняется.
func TestJoin_ViewerUpgrade(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(2, true)

	res, err := env.join(t, room.ID, "A", false)
	if err != nil {
		t.Fatalf("join viewer: %v", err)
	}
	if res.AlreadyJoined || res.IsPublisher || res.CurrentParticipants != 1 {
		t.Fatalf("unexpected viewer result: %+v", res)
	}

	res, err = env.join(t, room.ID, "A", true)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if !res.AlreadyJoined || !res.Upgraded || !res.IsPublisher || res.Role != domain.RolePublisher {
		t.Fatalf("unexpected upgrade result: %+v", res)
	}
	if got := env.store.room(room.ID).CurrentParticipants; got != 1 {
		t.Fatalf("counter = %d, want 1", got)
	}

	// повторный запрос publisher: уже no-op
	res, err = env.join(t, room.ID, "A", true)
	if err != nil {
		t.Fatalf("repeat upgrade: %v", err)
	}
	if !res.AlreadyJoined || res.Upgraded || !res.IsPublisher {
		t.Fatalf("unexpected repeat result: %+v", res)
	}

	evs := env.events.all()
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].Type != domain.EventJoinedViewer || evs[1].Type != domain.EventPublishGranted {
		t.Fatalf("unexpected event order: %s, %s", evs[0].Type, evs[1].Type)
	}
	if evs[1].Metadata["previous_role"] != "viewer" {
		t.Fatalf("previous_role = %v", evs[1].Metadata["previous_role"])
	}
	if evs[1].InitiatorID != nil || evs[1].TargetUserID != "A" {
		t.Fatalf("unexpected event actors: %+v", evs[1])
	}
}

func TestJoin_ConcurrentUpgradeOnlyOnce(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(3, true)
	if _, err := env.join(t, room.ID, "A", false); err != nil {
		t.Fatalf("join viewer: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		upgrades int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.join(t, room.ID, "A", true)
			if err != nil {
				t.Errorf("upgrade: %v", err)
				return
			}
			if res.Upgraded {
				mu.Lock()
				upgrades++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if upgrades != 1 {
		t.Fatalf("upgrades = %d, want 1", upgrades)
	}
	granted := 0
	for _, ev := range env.events.all() {
		if ev.Type == domain.EventPublishGranted {
			granted++
		}
	}
	if granted != 1 {
		t.Fatalf("PUBLISH_GRANTED events = %d, want 1", granted)
	}
}

func TestJoin_PublisherAskingViewerStaysPublisher(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(1, true)
	if _, err := env.join(t, room.ID, "P", true); err != nil {
		t.Fatalf("join publisher: %v", err)
	}

	res, err := env.join(t, room.ID, "P", false)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !res.AlreadyJoined || !res.IsPublisher || res.Upgraded {
		t.Fatalf("publisher must stay publisher: %+v", res)
	}
	if got := len(env.events.all()); got != 1 {
		t.Fatalf("events = %d, want 1", got)
	}
}

func TestJoin_UpgradeRejectedWhenFull(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(1, true)
	if _, err := env.join(t, room.ID, "P", true); err != nil {
		t.Fatalf("join publisher: %v", err)
	}
	if _, err := env.join(t, room.ID, "V", false); err != nil {
		t.Fatalf("join viewer: %v", err)
	}

	_, err := env.join(t, room.ID, "V", true)
	if !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	for _, p := range env.store.participants(room.ID) {
		if p.UserID == "V" && p.Role != domain.RoleViewer {
			t.Fatalf("V must stay viewer, got %s", p.Role)
		}
	}
	if got := len(env.events.all()); got != 2 {
		t.Fatalf("events = %d, want 2", got)
	}
}

// Вместимость ограничивает только publisher: зрители проходят в полную комнату.
func TestJoin_ViewersIgnoreCapacity(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(1, true)
	if _, err := env.join(t, room.ID, "P", true); err != nil {
		t.Fatalf("join publisher: %v", err)
	}
	if _, err := env.join(t, room.ID, "P2", true); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}

	for i := 0; i < 5; i++ {
		res, err := env.join(t, room.ID, fmt.Sprintf("v%d", i), false)
		if err != nil {
			t.Fatalf("viewer %d: %v", i, err)
		}
		if res.IsPublisher || res.AlreadyJoined {
			t.Fatalf("unexpected viewer result: %+v", res)
		}
	}
	if got := env.store.room(room.ID).CurrentParticipants; got != 6 {
		t.Fatalf("counter = %d, want 6", got)
	}
}

func TestJoin_RejectionsLeaveNoTrace(t *testing.T) {
	env := newJoinEnv(t)
	inactive := env.store.addRoom(5, false)

	cases := []struct {
		name   string
		roomID string
		userID string
		want   error
	}{
		{name: "inactive", roomID: inactive.ID, userID: "u", want: domain.ErrRoomInactive},
		{name: "missing", roomID: "no-such-room", userID: "u", want: domain.ErrRoomNotFound},
		{name: "empty user", roomID: inactive.ID, userID: "  ", want: domain.ErrInvalidInput},
		{name: "empty room", roomID: "", userID: "u", want: domain.ErrInvalidInput},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			for _, publisher := range []bool{false, true} {
				_, err := env.join(t, c.roomID, c.userID, publisher)
				if !errors.Is(err, c.want) {
					t.Fatalf("expected %v, got %v", c.want, err)
				}
			}
		})
	}

	if got := len(env.store.participants(inactive.ID)); got != 0 {
		t.Fatalf("participants = %d, want 0", got)
	}
	if got := env.store.room(inactive.ID).CurrentParticipants; got != 0 {
		t.Fatalf("counter = %d, want 0", got)
	}
	if got := len(env.events.all()); got != 0 {
		t.Fatalf("events = %d, want 0", got)
	}
	if got := env.issuer.calls.Load(); got != 0 {
		t.Fatalf("issuer calls = %d, want 0", got)
	}
}

func TestJoin_CredentialFailureRollsBack(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(2, true)
	env.issuer.err = errors.New("livekit down")

	_, err := env.join(t, room.ID, "A", true)
	if !errors.Is(err, domain.ErrCredentialIssuance) {
		t.Fatalf("expected ErrCredentialIssuance, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Fatalf("issuer failure must not be retryable: %v", err)
	}
	if got := len(env.store.participants(room.ID)); got != 0 {
		t.Fatalf("participants = %d, want 0", got)
	}
	if got := env.store.room(room.ID).CurrentParticipants; got != 0 {
		t.Fatalf("counter = %d, want 0", got)
	}
	if got := len(env.events.all()); got != 0 {
		t.Fatalf("events = %d, want 0", got)
	}

	// после восстановления issuer тот же вызов проходит как первый вход
	env.issuer.err = nil
	res, err := env.join(t, room.ID, "A", true)
	if err != nil {
		t.Fatalf("join after recovery: %v", err)
	}
	if res.AlreadyJoined {
		t.Fatalf("expected fresh join: %+v", res)
	}
}

func TestJoin_UpgradeCredentialFailureKeepsViewer(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(2, true)
	if _, err := env.join(t, room.ID, "A", false); err != nil {
		t.Fatalf("join viewer: %v", err)
	}

	env.issuer.err = errors.New("boom")
	if _, err := env.join(t, room.ID, "A", true); !errors.Is(err, domain.ErrCredentialIssuance) {
		t.Fatalf("expected ErrCredentialIssuance, got %v", err)
	}
	parts := env.store.participants(room.ID)
	if len(parts) != 1 || parts[0].Role != domain.RoleViewer {
		t.Fatalf("expected single viewer row, got %+v", parts)
	}
}

func TestJoin_IssuerTimeoutIsRetryable(t *testing.T) {
	store := newMemStore()
	room := store.addRoom(2, true)
	issuer := &fakeIssuer{block: true}
	events := &recEvents{}
	coord := NewJoinCoordinator(store, issuer, events, JoinConfig{
		Timeout:      time.Second,
		IssueTimeout: 20 * time.Millisecond,
	})

	_, err := coord.Join(context.Background(), JoinRequest{RoomID: room.ID, UserID: "A", WantsPublisher: true})
	if !errors.Is(err, domain.ErrJoinTimeout) {
		t.Fatalf("expected ErrJoinTimeout, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("timeout must be retryable: %v", err)
	}
	if got := len(store.participants(room.ID)); got != 0 {
		t.Fatalf("participants = %d, want 0", got)
	}
	if got := len(events.all()); got != 0 {
		t.Fatalf("events = %d, want 0", got)
	}
}

func TestJoin_LockWaitTimeout(t *testing.T) {
	store := newMemStore()
	store.lockDelay = 200 * time.Millisecond
	room := store.addRoom(2, true)
	coord := NewJoinCoordinator(store, &fakeIssuer{}, &recEvents{}, JoinConfig{Timeout: 20 * time.Millisecond})

	_, err := coord.Join(context.Background(), JoinRequest{RoomID: room.ID, UserID: "A"})
	if !errors.Is(err, domain.ErrJoinTimeout) {
		t.Fatalf("expected ErrJoinTimeout, got %v", err)
	}
}

func TestJoin_RejoinAfterLeaveIsFresh(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(2, true)
	if _, err := env.join(t, room.ID, "A", true); err != nil {
		t.Fatalf("join: %v", err)
	}
	env.store.markLeft(room.ID, "A")

	res, err := env.join(t, room.ID, "A", false)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if res.AlreadyJoined || res.IsPublisher {
		t.Fatalf("expected fresh viewer join, got %+v", res)
	}
	if got := env.store.room(room.ID).CurrentParticipants; got != 2 {
		t.Fatalf("counter = %d, want 2", got)
	}
}

func TestJoin_RejoinAfterKickIsFresh(t *testing.T) {
	env := newJoinEnv(t)
	room := env.store.addRoom(1, true)
	if _, err := env.join(t, room.ID, "A", true); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.join(t, room.ID, "B", true); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("B before kick: want ErrRoomFull, got %v", err)
	}
	env.store.kick(room.ID, "A")

	res, err := env.join(t, room.ID, "A", false)
	if err != nil {
		t.Fatalf("rejoin after kick: %v", err)
	}
	if res.AlreadyJoined || res.Upgraded || res.IsPublisher {
		t.Fatalf("expected fresh viewer join, got %+v", res)
	}
	if got := env.store.room(room.ID).CurrentParticipants; got != 2 {
		t.Fatalf("counter = %d, want 2", got)
	}

	// место кикнутого публикатора освободилось
	res, err = env.join(t, room.ID, "B", true)
	if err != nil {
		t.Fatalf("B after kick: %v", err)
	}
	if !res.IsPublisher {
		t.Fatalf("B must become publisher, got %+v", res)
	}

	evs := env.events.all()
	if got := evs[len(evs)-2].Type; got != domain.EventJoinedViewer {
		t.Fatalf("re-entry event = %s, want %s", got, domain.EventJoinedViewer)
	}
}

func TestJoin_EventFailureDoesNotFailJoin(t *testing.T) {
	env := newJoinEnv(t)
	env.events.err = errors.New("queue down")
	room := env.store.addRoom(2, true)

	res, err := env.join(t, room.ID, "A", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected token")
	}
	if got := len(env.store.participants(room.ID)); got != 1 {
		t.Fatalf("participants = %d, want 1", got)
	}
}

func TestJoin_InvalidatesCacheOnlyOnMutation(t *testing.T) {
	env := newJoinEnv(t)
	cache := newMemCache()
	env.coord.SetCache(cache)
	room := env.store.addRoom(2, true)

	if _, err := env.join(t, room.ID, "A", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.join(t, room.ID, "A", false); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if _, err := env.join(t, room.ID, "A", true); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	if got := len(cache.invalidated); got != 2 {
		t.Fatalf("invalidations = %d, want 2", got)
	}
}

func TestJoinWithRetry(t *testing.T) {
	t.Run("transient errors are retried", func(t *testing.T) {
		store := newMemStore()
		room := store.addRoom(2, true)
		locker := &flakyLocker{next: store, err: domain.ErrLockTimeout, failures: 2}
		coord := NewJoinCoordinator(locker, &fakeIssuer{}, &recEvents{}, JoinConfig{RetryAttempts: 3})

		res, err := coord.JoinWithRetry(context.Background(), JoinRequest{RoomID: room.ID, UserID: "A"})
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		if res.Token == "" {
			t.Fatal("expected token")
		}
		if got := locker.calls.Load(); got != 3 {
			t.Fatalf("calls = %d, want 3", got)
		}
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		store := newMemStore()
		room := store.addRoom(2, true)
		locker := &flakyLocker{next: store, err: domain.ErrServiceUnavailable, failures: 10}
		coord := NewJoinCoordinator(locker, &fakeIssuer{}, &recEvents{}, JoinConfig{RetryAttempts: 2})

		_, err := coord.JoinWithRetry(context.Background(), JoinRequest{RoomID: room.ID, UserID: "A"})
		if !errors.Is(err, domain.ErrServiceUnavailable) {
			t.Fatalf("expected ErrServiceUnavailable, got %v", err)
		}
		if got := locker.calls.Load(); got != 2 {
			t.Fatalf("calls = %d, want 2", got)
		}
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		store := newMemStore()
		room := store.addRoom(1, true)
		coord := NewJoinCoordinator(store, &fakeIssuer{}, &recEvents{}, JoinConfig{RetryAttempts: 5})
		if _, err := coord.Join(context.Background(), JoinRequest{RoomID: room.ID, UserID: "A", WantsPublisher: true}); err != nil {
			t.Fatalf("join: %v", err)
		}
		locker := &flakyLocker{next: store}
		coord = NewJoinCoordinator(locker, &fakeIssuer{}, &recEvents{}, JoinConfig{RetryAttempts: 5})

		_, err := coord.JoinWithRetry(context.Background(), JoinRequest{RoomID: room.ID, UserID: "B", WantsPublisher: true})
		if !errors.Is(err, domain.ErrRoomFull) {
			t.Fatalf("expected ErrRoomFull, got %v", err)
		}
		if got := locker.calls.Load(); got != 1 {
			t.Fatalf("calls = %d, want 1", got)
		}
	})
}
