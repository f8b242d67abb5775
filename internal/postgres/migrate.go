package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/mainroom-service/internal/migrate"
	"github.com/cwrk-planet/mainroom-service/internal/postgres/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ключ advisory-lock, чтобы несколько инстансов не накатывали схему одновременно
const migrationLockKey = 0x6d61696e726f6f6d

// Migrate применяет встроенные миграции, каждую не больше одного раза.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := migrate.Load(migrations.FS)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrate.Table+` (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", mapPgError(err))
	}

	for _, f := range files {
		if err := applyOne(ctx, pool, f); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, f migrate.File) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", f.Name, mapPgError(err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockKey)); err != nil {
		return fmt.Errorf("migration lock: %w", mapPgError(err))
	}

	var applied bool
	err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+migrate.Table+` WHERE name = $1)`, f.Name).Scan(&applied)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", f.Name, mapPgError(err))
	}
	if applied {
		return nil
	}

	// несколько statement'ов за раз: только через simple protocol
	if _, err := tx.Exec(ctx, f.Up, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("exec migration %s: %w", f.Name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+migrate.Table+` (name) VALUES ($1)`, f.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", f.Name, mapPgError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", f.Name, mapPgError(err))
	}

	slog.Info("postgres.Migrate: applied", slog.String("file", f.Name))
	return nil
}
