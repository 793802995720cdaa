package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"dbprov/internal/dburl"
	"dbprov/internal/dialect"
)

// Redis maps followers onto numbered databases of the main server.
// Database 0 stays with the main URL; worker "gwN" gets database N+1.
type Redis struct {
	BaseProvider
	dialect dialect.Redis
}

func NewRedis() *Redis {
	return &Redis{}
}

func (*Redis) Backend() string { return "redis" }

// FollowerURL refuses several endpoints without master_name. Those select a
// cluster client, which has no numbered databases and would flush the
// main keyspace.
func (*Redis) FollowerURL(main *dburl.URL, ident string) (*dburl.URL, error) {
	eps, err := main.Endpoints()
	if err != nil {
		return nil, err
	}
	if len(eps) > 1 && main.Query.Get("master_name") == "" {
		return nil, fmt.Errorf("%w: redis cluster %s has only database 0", ErrUnsupportedMultihost, main.HostKey())
	}
	digits := len(ident) - len(strings.TrimRight(ident, "0123456789"))
	if digits == 0 {
		return nil, fmt.Errorf("%w: redis followers need a numbered ident, got %q", ErrInvalidIdent, ident)
	}
	n, err := strconv.Atoi(ident[len(ident)-digits:])
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdent, ident)
	}
	return main.Set(dburl.WithDatabase(strconv.Itoa(n + 1))), nil
}

// CreateDB starts the follower from an empty database.
func (r *Redis) CreateDB(ctx context.Context, main *dburl.URL, ident string) error {
	return r.flush(ctx, main, ident)
}

func (r *Redis) DropDB(ctx context.Context, main *dburl.URL, ident string) error {
	return r.flush(ctx, main, ident)
}

func (r *Redis) Reap(ctx context.Context, main *dburl.URL, idents []string) error {
	var errs []error
	for _, ident := range idents {
		if err := r.flush(ctx, main, ident); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Redis) flush(ctx context.Context, main *dburl.URL, ident string) error {
	fu, err := r.FollowerURL(main, ident)
	if err != nil {
		return err
	}
	client, err := r.dialect.Client(fu)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("flush redis db %s: %w", fu.Database, err)
	}
	return nil
}
