package service

import (
	"context"
	"errors"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

// CredentialIssuer выпускает транспортный токен. Может быть медленным и не идемпотентен,
// поэтому в рамках одной ветки join вызывается не больше одного раза.
type CredentialIssuer interface {
	Issue(ctx context.Context, roomID, userID string, role domain.Role) (domain.Credential, error)
}

// EventLog: best-effort аудит, не транзакционен с БД.
type EventLog interface {
	Append(ctx context.Context, ev domain.RoomEvent) error
}

// SummaryCache: витринный кэш комнат. Только для чтения, не для решений о допуске.
//
// Значения версионированы по комнате. Get отдаёт текущую версию даже при промахе;
// Set пишет под версией, прочитанной до похода в БД. Invalidate поднимает версию,
// поэтому запись, опоздавшая за инвалидацией, уже никогда не читается.
type SummaryCache interface {
	Get(ctx context.Context, roomID string) (*domain.RoomSummary, int64, error)
	Set(ctx context.Context, s domain.RoomSummary, version int64) error
	Invalidate(ctx context.Context, roomID string) error
}

// ErrCacheMiss возвращают реализации SummaryCache при отсутствии ключа.
var ErrCacheMiss = errors.New("cache: miss")
