package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"dbprov/internal/database"
	"dbprov/internal/dburl"
)

const postgresDefaultPort = 5432

// PGX is postgresql+pgx: database/sql through the pgx stdlib driver.
type PGX struct{}

func (PGX) Backend() string  { return "postgresql" }
func (PGX) Driver() string   { return "pgx" }
func (PGX) DefaultPort() int { return postgresDefaultPort }

// DSN renders a libpq keyword/value string. Multihost endpoints become
// parallel host and port lists, which pgx tries in order.
func (PGX) DSN(u *dburl.URL) (string, error) {
	return postgresDSN(u)
}

func (d PGX) Open(ctx context.Context, u *dburl.URL) (Conn, error) {
	db, err := d.OpenDB(ctx, u, database.Pool{})
	if err != nil {
		return nil, err
	}
	return SQLConn{DB: db}, nil
}

func (d PGX) OpenDB(ctx context.Context, u *dburl.URL, pool database.Pool) (*sql.DB, error) {
	dsn, err := d.DSN(u)
	if err != nil {
		return nil, err
	}
	return database.Open(ctx, "pgx", dsn, pool, semconv.DBSystemPostgreSQL)
}

// PGXPool is postgresql+pgxpool: the native pgx connection pool.
type PGXPool struct{}

func (PGXPool) Backend() string  { return "postgresql" }
func (PGXPool) Driver() string   { return "pgxpool" }
func (PGXPool) DefaultPort() int { return postgresDefaultPort }

func (PGXPool) DSN(u *dburl.URL) (string, error) {
	return postgresDSN(u)
}

func (d PGXPool) Open(ctx context.Context, u *dburl.URL) (Conn, error) {
	dsn, err := d.DSN(u)
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	return poolConn{pool}, nil
}

type poolConn struct {
	*pgxpool.Pool
}

func (c poolConn) Close() error {
	c.Pool.Close()
	return nil
}

func postgresDSN(u *dburl.URL) (string, error) {
	eps, err := u.Endpoints()
	if err != nil {
		return "", err
	}

	var parts []string
	add := func(k, v string) {
		parts = append(parts, k+"="+quoteValue(v))
	}

	if len(eps) > 0 {
		hosts := make([]string, 0, len(eps))
		ports := make([]string, 0, len(eps))
		for _, ep := range eps {
			hosts = append(hosts, ep.Host)
			ports = append(ports, strconv.Itoa(ep.WithDefaultPort(postgresDefaultPort).Port))
		}
		if strings.Join(hosts, "") != "" {
			add("host", strings.Join(hosts, ","))
		}
		add("port", strings.Join(ports, ","))
	}
	if u.Username != "" {
		add("user", u.Username)
	}
	if u.Password != "" {
		add("password", u.Password)
	}
	if u.Database != "" {
		add("dbname", u.Database)
	}

	rest := u.WithoutQueryKeys("host", "port").Query
	keys := make([]string, 0, len(rest))
	for k := range rest {
		if !validKeyword(k) {
			return "", fmt.Errorf("%w: %q", ErrInvalidQueryOption, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := rest[k]
		if len(vals) == 0 {
			continue
		}
		// Keyword strings are single valued; the last occurrence wins.
		add(k, vals[len(vals)-1])
	}

	return strings.Join(parts, " "), nil
}

var libpqEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quoteValue applies libpq keyword/value quoting.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\n\r'\\") {
		return v
	}
	return "'" + libpqEscaper.Replace(v) + "'"
}

func validKeyword(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
