package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/repository"
	"github.com/cwrk-planet/mainroom-service/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type JoinRequest struct {
	RoomID         string
	UserID         string
	UserName       string
	WantsPublisher bool
}

type JoinResult struct {
	RoomID              string
	Token               string
	UID                 string
	Role                domain.Role
	IsPublisher         bool
	ExpiresAt           time.Time
	CurrentParticipants int
	AlreadyJoined       bool
	Upgraded            bool
}

type JoinConfig struct {
	// Timeout ограничивает весь join: ожидание блокировки, запросы, выпуск токена
	Timeout time.Duration
	// IssueTimeout ограничивает только CredentialIssuer, чтобы строка не висела под медленным issuer
	IssueTimeout time.Duration
	// RetryAttempts: попытки JoinWithRetry для транзиентных ошибок
	RetryAttempts uint
	Now           func() time.Time
}

type JoinCoordinator struct {
	rooms  repository.RoomLocker
	issuer CredentialIssuer
	events EventLog
	cache  SummaryCache

	timeout       time.Duration
	issueTimeout  time.Duration
	retryAttempts uint
	now           func() time.Time
	tracer        trace.Tracer
}

func NewJoinCoordinator(rooms repository.RoomLocker, issuer CredentialIssuer, events EventLog, cfg JoinConfig) *JoinCoordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}

	return &JoinCoordinator{
		rooms:         rooms,
		issuer:        issuer,
		events:        events,
		timeout:       cfg.Timeout,
		issueTimeout:  cfg.IssueTimeout,
		retryAttempts: cfg.RetryAttempts,
		now:           cfg.Now,
		tracer:        otel.Tracer("github.com/cwrk-planet/mainroom-service/internal/service"),
	}
}

// SetCache подключает витринный кэш; после успешного commit запись комнаты в нём сбрасывается.
func (c *JoinCoordinator) SetCache(cache SummaryCache) {
	c.cache = cache
}

// outcome: решение, принятое под блокировкой. event == nil для no-op веток.
type outcome struct {
	result JoinResult
	event  *domain.RoomEvent
}

// Join впускает пользователя в комнату зрителем или публикатором.
//
// Всё решение принимается в одной транзакции под блокировкой строки комнаты:
// новый вход, идемпотентный повторный вход, апгрейд Viewer→Publisher или отказ.
// Токен выпускается внутри транзакции; если выпуск не удался, откатывается всё.
// Событие аудита отправляется после commit и только для веток с мутацией.
func (c *JoinCoordinator) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	req.RoomID = strings.TrimSpace(req.RoomID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.UserName = strings.TrimSpace(req.UserName)
	if req.RoomID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: room id and user id are required", domain.ErrInvalidInput)
	}

	ctx, span := c.tracer.Start(ctx, "JoinCoordinator.Join", trace.WithAttributes(
		attribute.String("room.id", req.RoomID),
		attribute.String("user.id", req.UserID),
		attribute.Bool("join.wants_publisher", req.WantsPublisher),
	))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	want := domain.RequestedRole(req.WantsPublisher)

	var out outcome
	err := c.rooms.WithRoomLock(ctx, req.RoomID, func(ctx context.Context, tx repository.RoomTx) error {
		o, err := c.decide(ctx, tx, req, want)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logFailure(ctx, req, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("join.already_joined", out.result.AlreadyJoined),
		attribute.Bool("join.upgraded", out.result.Upgraded),
	)

	if out.event != nil {
		c.emit(ctx, *out.event)
		c.invalidate(ctx, req.RoomID)
	}

	return &out.result, nil
}

// JoinWithRetry повторяет Join при транзиентных ошибках с экспоненциальной паузой.
// Это безопасно: join идемпотентен по построению.
func (c *JoinCoordinator) JoinWithRetry(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	return backoff.Retry(ctx, func() (*JoinResult, error) {
		res, err := c.Join(ctx, req)
		if err != nil && !domain.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.retryAttempts))
}

func (c *JoinCoordinator) decide(ctx context.Context, tx repository.RoomTx, req JoinRequest, want domain.Role) (outcome, error) {
	room := tx.Room()
	if !room.IsActive {
		return outcome{}, domain.ErrRoomInactive
	}

	existing, err := c.activeRecord(ctx, tx, req)
	if err != nil {
		return outcome{}, err
	}

	switch {
	case existing == nil:
		return c.admit(ctx, tx, room, req, want)
	case existing.Role.NeedsUpgrade(want):
		return c.upgrade(ctx, tx, room, req, existing)
	default:
		return c.rejoin(ctx, room, req, existing)
	}
}

// activeRecord: текущая активная запись участника или nil.
func (c *JoinCoordinator) activeRecord(ctx context.Context, tx repository.RoomTx, req JoinRequest) (*domain.Participant, error) {
	rows, err := tx.ActiveParticipants(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("active participants: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows) > 1 {
		// уникальный индекс не должен такого допускать
		logger.FromCtx(ctx).ErrorContext(ctx, "join.activeRecord: multiple active rows",
			slog.String("room_id", req.RoomID),
			slog.String("user_id", req.UserID),
			slog.Int("rows", len(rows)))
	}

	best := rows[0]
	for _, p := range rows[1:] {
		if p.Role > best.Role {
			best = p
		}
	}
	return &best, nil
}

// admit (ветка A): активной записи нет.
func (c *JoinCoordinator) admit(ctx context.Context, tx repository.RoomTx, room domain.Room, req JoinRequest, want domain.Role) (outcome, error) {
	role, err := domain.RoleNone.Transition(want)
	if err != nil {
		return outcome{}, err
	}
	if role == domain.RolePublisher {
		if err := c.ensurePublisherSlot(ctx, tx, room); err != nil {
			return outcome{}, err
		}
	}

	count, err := tx.IncrementParticipants(ctx)
	if err != nil {
		return outcome{}, fmt.Errorf("increment participants: %w", err)
	}

	now := c.now().UTC()
	p := &domain.Participant{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		UserID:   req.UserID,
		UserName: req.UserName,
		Role:     role,
		JoinedAt: now,
	}
	if err := tx.InsertParticipant(ctx, p); err != nil {
		return outcome{}, fmt.Errorf("insert participant: %w", err)
	}

	cred, err := c.issue(ctx, room.ID, req.UserID, role)
	if err != nil {
		return outcome{}, err
	}

	ev := c.newEvent(room.ID, domain.JoinEventType(role), req, now)
	return outcome{
		result: newResult(room.ID, cred, role, count, false, false),
		event:  &ev,
	}, nil
}

// upgrade (ветка C): Viewer просит Publisher. Счётчик участников не трогаем.
func (c *JoinCoordinator) upgrade(ctx context.Context, tx repository.RoomTx, room domain.Room, req JoinRequest, existing *domain.Participant) (outcome, error) {
	if err := c.ensurePublisherSlot(ctx, tx, room); err != nil {
		return outcome{}, err
	}

	prev := existing.Role
	if err := existing.Promote(domain.RolePublisher); err != nil {
		return outcome{}, err
	}
	if err := tx.UpdateRole(ctx, existing.ID, existing.Role); err != nil {
		return outcome{}, fmt.Errorf("update role: %w", err)
	}

	cred, err := c.issue(ctx, room.ID, req.UserID, existing.Role)
	if err != nil {
		return outcome{}, err
	}

	ev := c.newEvent(room.ID, domain.EventPublishGranted, req, c.now().UTC())
	ev.Metadata["previous_role"] = prev.String()
	return outcome{
		result: newResult(room.ID, cred, existing.Role, room.CurrentParticipants, true, true),
		event:  &ev,
	}, nil
}

// rejoin (ветка B): запись уже есть, роль не меняется, мутаций нет.
func (c *JoinCoordinator) rejoin(ctx context.Context, room domain.Room, req JoinRequest, existing *domain.Participant) (outcome, error) {
	cred, err := c.issue(ctx, room.ID, req.UserID, existing.Role)
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		result: newResult(room.ID, cred, existing.Role, room.CurrentParticipants, true, false),
	}, nil
}

// ensurePublisherSlot проверяет capacity. Capacity ограничивает только publisher:
// зрители по вместимости не отсекаются никогда.
func (c *JoinCoordinator) ensurePublisherSlot(ctx context.Context, tx repository.RoomTx, room domain.Room) error {
	n, err := tx.CountActivePublishers(ctx)
	if err != nil {
		return fmt.Errorf("count publishers: %w", err)
	}
	if n >= room.Capacity {
		return domain.ErrRoomFull
	}
	return nil
}

func (c *JoinCoordinator) issue(ctx context.Context, roomID, userID string, role domain.Role) (domain.Credential, error) {
	ictx := ctx
	if c.issueTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, c.issueTimeout)
		defer cancel()
	}

	cred, err := c.issuer.Issue(ictx, roomID, userID, role)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return domain.Credential{}, fmt.Errorf("%w: %w", domain.ErrCredentialIssuance, domain.ErrJoinTimeout)
		}
		return domain.Credential{}, fmt.Errorf("%w: %v", domain.ErrCredentialIssuance, err)
	}
	if cred.Token == "" {
		return domain.Credential{}, fmt.Errorf("%w: empty token", domain.ErrCredentialIssuance)
	}
	if cred.UID == "" {
		cred.UID = userID
	}
	return cred, nil
}

func (c *JoinCoordinator) newEvent(roomID string, typ domain.EventType, req JoinRequest, at time.Time) domain.RoomEvent {
	return domain.RoomEvent{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		Type:         typ,
		TargetUserID: req.UserID,
		Metadata:     map[string]any{"user_name": req.UserName},
		CreatedAt:    at,
	}
}

// emit: после commit, ошибки только логируются.
func (c *JoinCoordinator) emit(ctx context.Context, ev domain.RoomEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.Append(context.WithoutCancel(ctx), ev); err != nil {
		logger.FromCtx(ctx).WarnContext(ctx, "join.emit failed",
			slog.String("room_id", ev.RoomID),
			slog.String("event_type", string(ev.Type)),
			slog.Any("err", err))
	}
}

func (c *JoinCoordinator) invalidate(ctx context.Context, roomID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(context.WithoutCancel(ctx), roomID); err != nil {
		slog.Debug("join.invalidate cache failed", slog.String("room_id", roomID), slog.Any("err", err))
	}
}

func (c *JoinCoordinator) logFailure(ctx context.Context, req JoinRequest, err error) {
	attrs := []any{
		slog.String("room_id", req.RoomID),
		slog.String("user_id", req.UserID),
		slog.Bool("wants_publisher", req.WantsPublisher),
		slog.Any("err", err),
	}
	l := logger.FromCtx(ctx)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrRoomInactive),
		errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrInvalidInput):
		l.InfoContext(ctx, "join rejected", attrs...)
	case domain.IsRetryable(err):
		l.WarnContext(ctx, "join transient failure", attrs...)
	default:
		l.ErrorContext(ctx, "join failed", attrs...)
	}
}

// classify приводит таймауты контекста к domain.ErrJoinTimeout.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrCredentialIssuance), domain.IsRetryable(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrJoinTimeout, err)
	default:
		return err
	}
}

func newResult(roomID string, cred domain.Credential, role domain.Role, count int, already, upgraded bool) JoinResult {
	return JoinResult{
		RoomID:              roomID,
		Token:               cred.Token,
		UID:                 cred.UID,
		Role:                role,
		IsPublisher:         role == domain.RolePublisher,
		ExpiresAt:           cred.ExpiresAt,
		CurrentParticipants: count,
		AlreadyJoined:       already,
		Upgraded:            upgraded,
	}
}
