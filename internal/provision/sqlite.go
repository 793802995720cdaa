package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"dbprov/internal/dburl"
	"dbprov/internal/dialect"
)

// SQLite keeps each follower in its own file next to the main database.
type SQLite struct {
	BaseProvider
	dialects *dialect.Registry
}

var (
	_ reapScoper       = (*SQLite)(nil)
	_ existenceChecker = (*SQLite)(nil)
)

func NewSQLite(dialects *dialect.Registry) *SQLite {
	return &SQLite{dialects: dialects}
}

func (*SQLite) Backend() string { return "sqlite" }

// FollowerURL places the follower at <dir of main>/<ident>.db. In-memory
// databases are private to each process already and stay as they are.
func (*SQLite) FollowerURL(main *dburl.URL, ident string) (*dburl.URL, error) {
	if dialect.IsMemory(main) {
		return main.Clone(), nil
	}
	path := filepath.Join(filepath.Dir(main.Database), ident+".db")
	return main.Set(dburl.WithDatabase(path)), nil
}

func (s *SQLite) CreateDB(ctx context.Context, main *dburl.URL, ident string) error {
	fu, err := s.FollowerURL(main, ident)
	if err != nil {
		return err
	}
	if dialect.IsMemory(fu) {
		return nil
	}
	// Opening the file creates it.
	conn, err := s.dialects.Open(ctx, fu)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (s *SQLite) DropDB(_ context.Context, main *dburl.URL, ident string) error {
	fu, err := s.FollowerURL(main, ident)
	if err != nil {
		return err
	}
	if dialect.IsMemory(fu) {
		return nil
	}
	var errs []error
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(fu.Database + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (*SQLite) UpdateDBOpts(u *dburl.URL, opts url.Values) {
	opts.Add("_pragma", "busy_timeout(5000)")
	opts.Add("_pragma", "foreign_keys(1)")
}

// PostConfigure switches follower files to WAL so parallel workers do not
// block each other on reads. A main database opened directly is left as is.
func (*SQLite) PostConfigure(ctx context.Context, u *dburl.URL, conn dialect.Conn, ident string) error {
	sc, ok := conn.(dialect.SQLConn)
	if !ok || ident == "" || dialect.IsMemory(u) {
		return nil
	}
	if _, err := sc.DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	return nil
}

// CheckExists reports ErrDatabaseNotFound for a missing database file.
func (*SQLite) CheckExists(u *dburl.URL) error {
	if dialect.IsMemory(u) {
		return nil
	}
	if _, err := os.Stat(u.Database); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDatabaseNotFound, u.Database)
		}
		return err
	}
	return nil
}

// ReapScope is the directory followers of u live in.
func (*SQLite) ReapScope(u *dburl.URL) string {
	if dialect.IsMemory(u) {
		return ""
	}
	return filepath.Dir(u.Database)
}

func (s *SQLite) Reap(ctx context.Context, main *dburl.URL, idents []string) error {
	var errs []error
	for _, ident := range idents {
		if err := s.DropDB(ctx, main, ident); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
