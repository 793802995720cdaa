package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	applog "dbprov/internal/log"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_followers",
		SQL: `CREATE TABLE IF NOT EXISTS followers (
  id           UUID        PRIMARY KEY,
  ident        TEXT        NOT NULL,
  backend      TEXT        NOT NULL,
  host_key     TEXT        NOT NULL,
  main_url     TEXT        NOT NULL,
  follower_url TEXT        NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (ident, backend, host_key, follower_url)
);`,
	},
	{
		Name: "create_index_followers_ident",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_followers_ident ON followers (ident);`,
	},
	{
		Name: "create_index_followers_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_followers_created_at ON followers (created_at);`,
	},
}

// EnsureMigrated checks if the 'followers' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger zerolog.Logger, hostKey string) error {
	start := time.Now()
	logger = logger.With().
		Str(applog.FieldComponent, "database").
		Str(applog.FieldHostKey, hostKey).
		Logger()

	logger.Info().Str(applog.FieldEvent, "db_migration_check").Msg("checking schema")

	var exists bool
	query := "SELECT to_regclass('public.followers') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		logger.Error().
			Err(err).
			Str(applog.FieldEvent, "db_migration_failed").
			Int64(applog.FieldDuration, time.Since(start).Milliseconds()).
			Msg("failed to check sentinel table")
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logger.Info().
			Str(applog.FieldEvent, "db_migration_skip").
			Int64(applog.FieldDuration, time.Since(start).Milliseconds()).
			Msg("schema already exists, skipping migration")
		return nil
	}

	logger.Info().Str(applog.FieldEvent, "db_migration_start").Msg("migrating schema")

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			logger.Error().
				Err(err).
				Str(applog.FieldEvent, "db_migration_failed").
				Str("migration_step", step.Name).
				Int64(applog.FieldDuration, time.Since(start).Milliseconds()).
				Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
				Msg("migration step failed")
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logger.Info().
			Str(applog.FieldEvent, "db_migration_step").
			Str("migration_step", step.Name).
			Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
			Msg("migration step applied")
	}

	logger.Info().
		Str(applog.FieldEvent, "db_migration_success").
		Int64(applog.FieldDuration, time.Since(start).Milliseconds()).
		Msg("schema migrated")

	return nil
}
