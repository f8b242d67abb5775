package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cwrk-planet/mainroom-service/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapPgError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "lock timeout", in: &pgconn.PgError{Code: codeLockNotAvailable}, want: domain.ErrLockTimeout},
		{name: "deadlock", in: &pgconn.PgError{Code: codeDeadlockDetected}, want: domain.ErrLockTimeout},
		{name: "unique", in: &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "room_participants_active_uq"}, want: domain.ErrDuplicateMembership},
		{name: "statement canceled", in: &pgconn.PgError{Code: codeQueryCanceled}, want: domain.ErrJoinTimeout},
		{name: "bad uuid", in: &pgconn.PgError{Code: codeInvalidText}, want: domain.ErrInvalidInput},
		{name: "deadline", in: fmt.Errorf("query: %w", context.DeadlineExceeded), want: domain.ErrJoinTimeout},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := mapPgError(c.in); !errors.Is(got, c.want) {
				t.Fatalf("mapPgError(%v) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestMapPgError_Passthrough(t *testing.T) {
	if mapPgError(nil) != nil {
		t.Fatal("nil must stay nil")
	}

	other := &pgconn.PgError{Code: "42P01"}
	if got := mapPgError(other); got != other {
		t.Fatalf("unknown pg error must pass through, got %v", got)
	}

	plain := errors.New("boom")
	if got := mapPgError(plain); got != plain {
		t.Fatalf("plain error must pass through, got %v", got)
	}
}

func TestMapPgError_RetryableClassification(t *testing.T) {
	if !domain.IsRetryable(mapPgError(&pgconn.PgError{Code: codeLockNotAvailable})) {
		t.Fatal("lock timeout must be retryable")
	}
	if domain.IsRetryable(mapPgError(&pgconn.PgError{Code: codeUniqueViolation})) {
		t.Fatal("duplicate membership must not be retryable")
	}
}
