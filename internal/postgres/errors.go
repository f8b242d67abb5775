package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwrk-planet/mainroom-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

/*
абстрактный слой над *pgxpool.Pool / pgx.Tx
чтобы репозитории работали и с пулом, и внутри транзакции
*/
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInvalidText          = "22P02"
)

// mapPgError переводит ошибки драйвера в доменную таксономию.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %v", domain.ErrLockTimeout, err)
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrDuplicateMembership, pgErr.ConstraintName)
		case codeQueryCanceled:
			return fmt.Errorf("%w: %v", domain.ErrJoinTimeout, err)
		case codeInvalidText:
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrJoinTimeout, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}

	return err
}
