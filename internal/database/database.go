package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"

	"dbprov/internal/config"
	"dbprov/internal/dburl"
)

var (
	sqlOpen = sql.Open

	registerMu sync.Mutex
	registered = map[string]string{}
)

// Pool holds database/sql pooling settings. Zero values keep the driver defaults.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PoolFromConfig converts the registry pool settings.
func PoolFromConfig(c config.DatabaseConfig) Pool {
	return Pool{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.ConnMaxLifetimeSec) * time.Second,
	}
}

// BuildPostgresURL constructs the registry database URL from its config.
// A single host goes into the authority; several hosts use the
// host=h1,h2&port=p1,p2 query format.
// Example: postgresql+pgx://user:pass@/dbname?host=db1,db2&port=5432,5433&sslmode=disable
func BuildPostgresURL(c config.DatabaseConfig) (*dburl.URL, error) {
	if c.Host == "" || c.Port == "" || c.User == "" || c.Name == "" {
		return nil, fmt.Errorf("invalid database config: host, port, user, and name are required")
	}

	u := &dburl.URL{
		Drivername: "postgresql+pgx",
		Username:   c.User,
		Password:   c.Password,
		Database:   c.Name,
		Query:      url.Values{},
	}

	if strings.Contains(c.Host, ",") || strings.Contains(c.Port, ",") {
		u.Query.Set("host", c.Host)
		u.Query.Set("port", c.Port)
	} else {
		u.Query.Set("host", c.Host+":"+c.Port)
	}
	if c.SSLMode != "" {
		u.Query.Set("sslmode", c.SSLMode)
	}
	if c.TargetSessionAttrs != "" {
		u.Query.Set("target_session_attrs", c.TargetSessionAttrs)
	}

	if _, err := u.Endpoints(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	return u, nil
}

// Open opens a database/sql handle for an already registered driver,
// wraps it with otelsql, applies pool settings and verifies connectivity.
func Open(ctx context.Context, driverName, dsn string, pool Pool, attrs ...attribute.KeyValue) (*sql.DB, error) {
	name, err := instrumentedDriver(driverName, attrs)
	if err != nil {
		return nil, err
	}

	db, err := sqlOpen(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	// Verify connectivity with a short timeout
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

// instrumentedDriver registers the otelsql wrapper once per driver.
func instrumentedDriver(driverName string, attrs []attribute.KeyValue) (string, error) {
	registerMu.Lock()
	defer registerMu.Unlock()

	if name, ok := registered[driverName]; ok {
		return name, nil
	}
	name, err := otelsql.Register(driverName,
		otelsql.WithAttributes(attrs...),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return "", fmt.Errorf("failed to register otelsql: %w", err)
	}
	registered[driverName] = name
	return name, nil
}
