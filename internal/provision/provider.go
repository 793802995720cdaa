package provision

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"dbprov/internal/dburl"
	"dbprov/internal/dialect"
)

var (
	ErrNotImplemented = errors.New("no provisioning routine for backend")
	ErrInvalidIdent   = errors.New("invalid follower ident")
	ErrMalformedLine  = errors.New(`malformed line, want "<ident> <url>"`)

	ErrUnsupportedMultihost = errors.New("multihost url not supported for followers")
	ErrDatabaseNotFound     = errors.New("database does not exist")
)

// Provider holds the backend specific provisioning hooks.
type Provider interface {
	Backend() string
	// CreateDB creates the follower database ident next to main.
	CreateDB(ctx context.Context, main *dburl.URL, ident string) error
	// DropDB drops a follower database created by CreateDB.
	DropDB(ctx context.Context, main *dburl.URL, ident string) error
	// FollowerURL returns the URL of follower ident.
	FollowerURL(main *dburl.URL, ident string) (*dburl.URL, error)
	// UpdateDBOpts adds connect options for a database about to be opened.
	UpdateDBOpts(u *dburl.URL, opts url.Values)
	// PostConfigure runs after a connection to u has been opened.
	PostConfigure(ctx context.Context, u *dburl.URL, conn dialect.Conn, ident string) error
	// Reap removes leftover follower databases after a run has ended.
	Reap(ctx context.Context, main *dburl.URL, idents []string) error
}

// reapScoper is implemented by providers whose databases are not told apart
// by backend and host key alone. Reap groups entries by the returned scope
// as well.
type reapScoper interface {
	ReapScope(u *dburl.URL) string
}

// existenceChecker is implemented by providers whose driver creates a
// missing database on open. Setup calls it first.
type existenceChecker interface {
	CheckExists(u *dburl.URL) error
}

// BaseProvider supplies the defaults for backends without provisioning
// support. Providers embed it and override what they implement.
type BaseProvider struct{}

var _ Provider = BaseProvider{}

func (BaseProvider) Backend() string { return "*" }

func (BaseProvider) CreateDB(_ context.Context, main *dburl.URL, _ string) error {
	return fmt.Errorf("%w: create %s", ErrNotImplemented, main.Backend())
}

func (BaseProvider) DropDB(_ context.Context, main *dburl.URL, _ string) error {
	return fmt.Errorf("%w: drop %s", ErrNotImplemented, main.Backend())
}

func (BaseProvider) FollowerURL(main *dburl.URL, ident string) (*dburl.URL, error) {
	return main.Set(dburl.WithDatabase(ident)), nil
}

func (BaseProvider) UpdateDBOpts(*dburl.URL, url.Values) {}

func (BaseProvider) PostConfigure(context.Context, *dburl.URL, dialect.Conn, string) error {
	return nil
}

func (BaseProvider) Reap(context.Context, *dburl.URL, []string) error { return nil }

// Registry dispatches to providers by backend, falling back to BaseProvider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  Provider
}

// NewRegistry returns a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		fallback:  BaseProvider{},
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// DefaultRegistry wires the built-in providers to dialects.
func DefaultRegistry(dialects *dialect.Registry) *Registry {
	return NewRegistry(
		NewPostgres(dialects),
		NewSQLite(dialects),
		NewRedis(),
	)
}

// Register adds or replaces the provider for p.Backend().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Backend()] = p
}

// For returns the provider of u's backend.
func (r *Registry) For(u *dburl.URL) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[u.Backend()]; ok {
		return p
	}
	return r.fallback
}

// ValidateIdent checks that ident can serve as a database name on every
// backend.
func ValidateIdent(ident string) error {
	if ident == "" || len(ident) > 63 {
		return fmt.Errorf("%w: %q", ErrInvalidIdent, ident)
	}
	for _, r := range ident {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: %q", ErrInvalidIdent, ident)
		}
	}
	return nil
}
