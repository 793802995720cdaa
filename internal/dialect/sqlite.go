package dialect

import (
	"context"
	"database/sql"
	"fmt"

	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	_ "modernc.org/sqlite" // Pure Go driver

	"dbprov/internal/database"
	"dbprov/internal/dburl"
)

const sqliteMemory = ":memory:"

// SQLite is sqlite+modernc. The URL database is the file path.
type SQLite struct{}

func (SQLite) Backend() string  { return "sqlite" }
func (SQLite) Driver() string   { return "modernc" }
func (SQLite) DefaultPort() int { return 0 }

// IsMemory reports whether u names an in-memory database.
func IsMemory(u *dburl.URL) bool {
	return u.Database == "" || u.Database == sqliteMemory
}

// DSN renders file:<path>?<query>. modernc.org/sqlite reads _pragma and
// friends from the query string.
func (SQLite) DSN(u *dburl.URL) (string, error) {
	eps, err := u.Endpoints()
	if err != nil {
		return "", err
	}
	if len(eps) > 0 {
		return "", fmt.Errorf("%w: sqlite got %s", ErrHostsNotSupported, u.HostKey())
	}
	if IsMemory(u) {
		return sqliteMemory, nil
	}
	dsn := "file:" + u.Database
	if len(u.Query) > 0 {
		dsn += "?" + u.Query.Encode()
	}
	return dsn, nil
}

func (d SQLite) Open(ctx context.Context, u *dburl.URL) (Conn, error) {
	db, err := d.OpenDB(ctx, u, database.Pool{})
	if err != nil {
		return nil, err
	}
	return SQLConn{DB: db}, nil
}

func (d SQLite) OpenDB(ctx context.Context, u *dburl.URL, pool database.Pool) (*sql.DB, error) {
	dsn, err := d.DSN(u)
	if err != nil {
		return nil, err
	}
	if IsMemory(u) {
		// Every connection to :memory: is a separate database.
		pool.MaxOpenConns = 1
	}
	return database.Open(ctx, "sqlite", dsn, pool, semconv.DBSystemSqlite)
}
