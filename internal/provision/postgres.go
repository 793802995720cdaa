package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"dbprov/internal/database"
	"dbprov/internal/dburl"
	"dbprov/internal/dialect"
	applog "dbprov/internal/log"
)

const (
	// sqlstateObjectInUse is raised while another session uses the template.
	sqlstateObjectInUse = "55006"
	maxCreateAttempts   = 5
)

// Postgres provisions followers with CREATE DATABASE ... TEMPLATE <main>.
type Postgres struct {
	BaseProvider

	open       func(ctx context.Context, u *dburl.URL) (*sql.DB, error)
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewPostgres returns a provider that reaches the server through dialects.
// Maintenance statements always go through database/sql, whatever driver
// the main URL names.
func NewPostgres(dialects *dialect.Registry) *Postgres {
	return &Postgres{
		open: func(ctx context.Context, u *dburl.URL) (*sql.DB, error) {
			u = u.Set(dburl.WithDrivername("postgresql+pgx"))
			return dialects.OpenDB(ctx, u, database.Pool{MaxOpenConns: 1})
		},
		retryDelay: time.Second,
		logger:     applog.WithComponent("provision.postgresql"),
	}
}

func (*Postgres) Backend() string { return "postgresql" }

func (p *Postgres) CreateDB(ctx context.Context, main *dburl.URL, ident string) error {
	db, err := p.open(ctx, main)
	if err != nil {
		return err
	}
	defer db.Close()

	stmt := "CREATE DATABASE " + pgx.Identifier{ident}.Sanitize()
	if main.Database != "" {
		stmt += " TEMPLATE " + pgx.Identifier{main.Database}.Sanitize()
	}

	for attempt := 1; ; attempt++ {
		_, err := db.ExecContext(ctx, stmt)
		if err == nil {
			return nil
		}
		if !isObjectInUse(err) || attempt >= maxCreateAttempts {
			return fmt.Errorf("create database %s: %w", ident, err)
		}

		p.logger.Warn().
			Err(err).
			Str(applog.FieldIdent, ident).
			Int("attempt", attempt).
			Msg("template database in use, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelay):
		}
	}
}

func (p *Postgres) DropDB(ctx context.Context, main *dburl.URL, ident string) error {
	db, err := p.open(ctx, main)
	if err != nil {
		return err
	}
	defer db.Close()
	return dropDatabase(ctx, db, ident)
}

func (p *Postgres) UpdateDBOpts(u *dburl.URL, opts url.Values) {
	opts.Set("application_name", "dbprov")
}

// Reap drops every ident over a single maintenance connection.
func (p *Postgres) Reap(ctx context.Context, main *dburl.URL, idents []string) error {
	if len(idents) == 0 {
		return nil
	}
	db, err := p.open(ctx, main)
	if err != nil {
		return err
	}
	defer db.Close()

	var errs []error
	for _, ident := range idents {
		if err := dropDatabase(ctx, db, ident); err != nil {
			errs = append(errs, err)
			continue
		}
		p.logger.Info().Str(applog.FieldIdent, ident).Msg("reaped database")
	}
	return errors.Join(errs...)
}

func dropDatabase(ctx context.Context, db *sql.DB, ident string) error {
	const terminate = `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`
	if _, err := db.ExecContext(ctx, terminate, ident); err != nil {
		return fmt.Errorf("terminate sessions on %s: %w", ident, err)
	}
	if _, err := db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{ident}.Sanitize()); err != nil {
		return fmt.Errorf("drop database %s: %w", ident, err)
	}
	return nil
}

func isObjectInUse(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateObjectInUse
}
