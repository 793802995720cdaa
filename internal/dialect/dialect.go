// Package dialect maps parsed database URLs onto concrete Go drivers.
package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"dbprov/internal/database"
	"dbprov/internal/dburl"
)

var (
	ErrNoSuchDialect      = errors.New("no such dialect")
	ErrNotSQL             = errors.New("dialect does not speak database/sql")
	ErrHostsNotSupported  = errors.New("dialect does not take hosts")
	ErrInvalidDatabase    = errors.New("invalid database name")
	ErrInvalidQueryOption = errors.New("invalid query option")
)

// Conn is an open connection handle of any dialect.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// Dialect knows how to turn a URL into connect arguments for one driver.
type Dialect interface {
	Backend() string
	Driver() string
	DefaultPort() int
	// DSN renders the driver specific connect string.
	DSN(u *dburl.URL) (string, error)
	Open(ctx context.Context, u *dburl.URL) (Conn, error)
}

// SQLDialect is a Dialect backed by database/sql.
type SQLDialect interface {
	Dialect
	OpenDB(ctx context.Context, u *dburl.URL, pool database.Pool) (*sql.DB, error)
}

// SQLConn adapts *sql.DB to Conn.
type SQLConn struct {
	DB *sql.DB
}

func (c SQLConn) Ping(ctx context.Context) error { return c.DB.PingContext(ctx) }
func (c SQLConn) Close() error                   { return c.DB.Close() }

// Registry holds dialects keyed by backend and driver.
type Registry struct {
	mu       sync.RWMutex
	dialects map[string]Dialect
	defaults map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		dialects: make(map[string]Dialect),
		defaults: make(map[string]string),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in dialects.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		r.Register(PGX{}, true)
		r.Register(PGXPool{}, false)
		r.Register(SQLite{}, true)
		r.Register(Redis{}, true)
		defaultRegistry = r
	})
	return defaultRegistry
}

// Register adds d. The first dialect registered for a backend, or one
// registered with asDefault, serves URLs that name no driver.
func (r *Registry) Register(d Dialect, asDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dialects[key(d.Backend(), d.Driver())] = d
	if _, ok := r.defaults[d.Backend()]; asDefault || !ok {
		r.defaults[d.Backend()] = d.Driver()
	}
}

// Get returns the dialect for backend and driver. An empty driver selects
// the backend default.
func (r *Registry) Get(backend, driver string) (Dialect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if driver == "" {
		def, ok := r.defaults[backend]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchDialect, backend)
		}
		driver = def
	}
	d, ok := r.dialects[key(backend, driver)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDialect, key(backend, driver))
	}
	return d, nil
}

// Lookup returns the dialect serving u.
func (r *Registry) Lookup(u *dburl.URL) (Dialect, error) {
	return r.Get(u.Backend(), u.Driver())
}

// DefaultDriver returns the driver used when a URL of backend names none.
func (r *Registry) DefaultDriver(backend string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defaults[backend]
	return d, ok
}

// Drivers lists the registered drivers of backend, sorted.
func (r *Registry) Drivers(backend string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, d := range r.dialects {
		if d.Backend() == backend {
			out = append(out, d.Driver())
		}
	}
	sort.Strings(out)
	return out
}

// Open looks up the dialect for u and opens a connection with it.
func (r *Registry) Open(ctx context.Context, u *dburl.URL) (Conn, error) {
	d, err := r.Lookup(u)
	if err != nil {
		return nil, err
	}
	return d.Open(ctx, u)
}

// OpenDB opens a *sql.DB for u. Non database/sql dialects yield ErrNotSQL.
func (r *Registry) OpenDB(ctx context.Context, u *dburl.URL, pool database.Pool) (*sql.DB, error) {
	d, err := r.Lookup(u)
	if err != nil {
		return nil, err
	}
	sd, ok := d.(SQLDialect)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSQL, key(d.Backend(), d.Driver()))
	}
	return sd.OpenDB(ctx, u, pool)
}

func key(backend, driver string) string {
	return backend + "+" + driver
}
