// Package provision creates and drops per-worker follower databases for
// parallel test runs, and expands configured URLs across drivers.
package provision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dbprov/internal/dburl"
	"dbprov/internal/dialect"
	applog "dbprov/internal/log"
)

var tracer = otel.Tracer("dbprov/internal/provision")

// startSpan opens a span for one backend operation on u.
func startSpan(ctx context.Context, name string, u *dburl.URL, ident string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", u.Backend()),
		attribute.String("db.host_key", u.HostKey()),
		attribute.String("dbprov.ident", ident),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Follower is a follower database created from a main URL.
type Follower struct {
	Ident string
	Main  *dburl.URL
	URL   *dburl.URL
}

// Target is an opened, configured database ready for a test run.
type Target struct {
	URL   *dburl.URL
	Ident string
	Conn  dialect.Conn
}

// Close releases the target connection.
func (t *Target) Close() error {
	return t.Conn.Close()
}

// IdentEntry is one "<ident> <url>" line of an idents file.
type IdentEntry struct {
	Ident string
	URL   *dburl.URL
}

// Provisioner runs provisioning operations through the provider registry.
type Provisioner struct {
	dialects  *dialect.Registry
	providers *Registry
	logger    zerolog.Logger
}

// New constructs a Provisioner.
func New(dialects *dialect.Registry, providers *Registry, logger zerolog.Logger) *Provisioner {
	return &Provisioner{dialects: dialects, providers: providers, logger: logger}
}

// NewDefault wires the built-in dialects and providers.
func NewDefault() *Provisioner {
	d := dialect.Default()
	return New(d, DefaultRegistry(d), applog.WithComponent("provision"))
}

// Providers exposes the provider registry.
func (p *Provisioner) Providers() *Registry { return p.providers }

// GenerateDBURLs expands the configured URLs with extra driver names.
//
// Every URL keeps its own driver, or its backend's default driver when it
// names none. An extra driver is emitted once per backend, on the first URL
// of that backend whose dialect accepts it, unless one of the configured
// URLs already uses it. Extra drivers take the forms "driver",
// "backend+driver", and either with a "?query" suffix merged into the URL.
// Drivers without a registered dialect are skipped. The result is
// de-duplicated and keeps first-seen order.
func (p *Provisioner) GenerateDBURLs(rawURLs, extraDrivers []string) ([]string, error) {
	type entry struct {
		u *dburl.URL
		d dialect.Dialect
	}

	entries := make([]entry, 0, len(rawURLs))
	have := make(map[string]map[string]bool)
	for i, raw := range rawURLs {
		u, err := dburl.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("url #%d: %w", i+1, err)
		}
		d, err := p.dialects.Lookup(u)
		if err != nil {
			return nil, fmt.Errorf("url #%d: %w", i+1, err)
		}
		entries = append(entries, entry{u: u, d: d})
		if have[d.Backend()] == nil {
			have[d.Backend()] = make(map[string]bool)
		}
		have[d.Backend()][d.Driver()] = true
	}

	var (
		out  []string
		seen = make(map[string]bool)
		need = make(map[string][]string)
	)
	emit := func(u *dburl.URL) {
		s := u.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, e := range entries {
		backend := e.d.Backend()
		extra, ok := need[backend]
		if !ok {
			extra = extraDriversFor(backend, extraDrivers, have[backend])
		}

		main := e.u.Set(dburl.WithDrivername(backend + "+" + e.d.Driver()))
		emit(main)

		var remaining []string
		for _, drv := range extra {
			driverOnly, query, _ := strings.Cut(drv, "?")
			if driverOnly == e.d.Driver() {
				continue
			}
			nu, err := p.driverURL(main, driverOnly, query)
			if err != nil {
				return nil, err
			}
			if nu == nil {
				remaining = append(remaining, drv)
				continue
			}
			emit(nu)
		}
		need[backend] = remaining
	}
	return out, nil
}

// extraDriversFor selects the extra drivers that apply to backend and that
// no configured URL already uses. Entries are returned as "driver[?query]".
func extraDriversFor(backend string, extraDrivers []string, have map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range extraDrivers {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		name, query, hasQuery := strings.Cut(entry, "?")
		if b, drv, ok := strings.Cut(name, "+"); ok {
			if dburl.CanonicalBackend(b) != backend {
				continue
			}
			name = drv
		}
		name = strings.ToLower(name)
		if have[name] {
			continue
		}
		if hasQuery {
			name += "?" + query
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// driverURL returns u switched to driver with query merged in, or nil when
// no dialect serves that driver.
func (p *Provisioner) driverURL(u *dburl.URL, driver, query string) (*dburl.URL, error) {
	nu := u.Set(dburl.WithDrivername(u.Backend() + "+" + driver))
	nu, err := nu.UpdateQueryString(query, false)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", driver, err)
	}
	if _, err := p.dialects.Lookup(nu); err != nil {
		return nil, nil
	}
	return nu, nil
}

// ConfigsForDBOperation drops URLs that point at the same database as an
// earlier one: same backend, username, host key and database.
func ConfigsForDBOperation(urls []*dburl.URL) []*dburl.URL {
	seen := make(map[string]bool)
	var out []*dburl.URL
	for _, u := range urls {
		k := strings.Join([]string{u.Backend(), u.Username, u.HostKey(), u.Database}, "\x00")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, u)
	}
	return out
}

// CreateFollower creates follower ident on every distinct main database.
// When one creation fails, followers created so far are dropped again.
func (p *Provisioner) CreateFollower(ctx context.Context, mains []*dburl.URL, ident string) ([]Follower, error) {
	if err := ValidateIdent(ident); err != nil {
		return nil, err
	}

	var created []Follower
	for _, main := range ConfigsForDBOperation(mains) {
		prov := p.providers.For(main)
		start := time.Now()

		p.logger.Info().
			Str(applog.FieldEvent, "create_follower").
			Str(applog.FieldIdent, ident).
			Str(applog.FieldURL, main.Redacted()).
			Msg("CREATE database")

		spanCtx, span := startSpan(ctx, "provision.create_db", main, ident)
		fu, err := prov.FollowerURL(main, ident)
		if err == nil {
			err = prov.CreateDB(spanCtx, main, ident)
		}
		endSpan(span, err)
		if err != nil {
			err = fmt.Errorf("create follower %s on %s %s: %w", ident, main.Backend(), main.HostKey(), err)
			p.logger.Error().Err(err).Str(applog.FieldIdent, ident).Msg("create follower failed")
			if rbErr := p.dropAll(ctx, created); rbErr != nil {
				return nil, fmt.Errorf("%w; rollback drop failed: %v", err, rbErr)
			}
			return nil, err
		}

		p.logger.Debug().
			Str(applog.FieldIdent, ident).
			Str(applog.FieldBackend, main.Backend()).
			Int64(applog.FieldDuration, time.Since(start).Milliseconds()).
			Msg("follower created")
		created = append(created, Follower{Ident: ident, Main: main, URL: fu})
	}
	return created, nil
}

// DropFollower drops follower ident from every distinct main database.
// It keeps going after failures and reports them together.
func (p *Provisioner) DropFollower(ctx context.Context, mains []*dburl.URL, ident string) error {
	if err := ValidateIdent(ident); err != nil {
		return err
	}
	var followers []Follower
	for _, main := range ConfigsForDBOperation(mains) {
		followers = append(followers, Follower{Ident: ident, Main: main})
	}
	return p.dropAll(ctx, followers)
}

func (p *Provisioner) dropAll(ctx context.Context, followers []Follower) error {
	var errs []error
	for _, f := range followers {
		p.logger.Info().
			Str(applog.FieldEvent, "drop_follower").
			Str(applog.FieldIdent, f.Ident).
			Str(applog.FieldURL, f.Main.Redacted()).
			Msg("DROP database")
		spanCtx, span := startSpan(ctx, "provision.drop_db", f.Main, f.Ident)
		err := p.providers.For(f.Main).DropDB(spanCtx, f.Main, f.Ident)
		endSpan(span, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("drop follower %s on %s %s: %w", f.Ident, f.Main.Backend(), f.Main.HostKey(), err))
		}
	}
	return errors.Join(errs...)
}

// Setup opens the database a test run works against: the follower of raw
// when ident is set, raw itself otherwise. Provider options are merged into
// the URL without overriding options the URL already carries. A database
// that does not exist yet is not created.
func (p *Provisioner) Setup(ctx context.Context, raw, ident string) (*Target, error) {
	u, err := dburl.Parse(raw)
	if err != nil {
		return nil, err
	}
	prov := p.providers.For(u)

	if ident != "" {
		if err := ValidateIdent(ident); err != nil {
			return nil, err
		}
		if u, err = prov.FollowerURL(u, ident); err != nil {
			return nil, err
		}
	}

	opts := url.Values{}
	prov.UpdateDBOpts(u, opts)
	u = u.Clone()
	for k, v := range opts {
		if _, set := u.Query[k]; !set {
			u.Query[k] = v
		}
	}

	if ec, ok := prov.(existenceChecker); ok {
		if err := ec.CheckExists(u); err != nil {
			return nil, err
		}
	}
	conn, err := p.dialects.Open(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", u.Redacted(), err)
	}
	if err := prov.PostConfigure(ctx, u, conn, ident); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("post configure %s: %w", u.Redacted(), err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", u.Redacted(), err)
	}
	return &Target{URL: u, Ident: ident, Conn: conn}, nil
}

// Reap removes leftover follower databases. Entries are grouped by backend,
// host key and provider scope, and each group is reaped once through its
// first URL.
func (p *Provisioner) Reap(ctx context.Context, entries []IdentEntry) error {
	p.logger.Info().Int("entries", len(entries)).Msg("reaping databases")

	type group struct {
		u      *dburl.URL
		idents map[string]bool
	}
	var (
		order  []string
		groups = make(map[string]*group)
	)
	for _, e := range entries {
		k := e.URL.Backend() + "\x00" + e.URL.HostKey()
		if rs, ok := p.providers.For(e.URL).(reapScoper); ok {
			k += "\x00" + rs.ReapScope(e.URL)
		}
		g, ok := groups[k]
		if !ok {
			g = &group{u: e.URL, idents: make(map[string]bool)}
			groups[k] = g
			order = append(order, k)
		}
		g.idents[e.Ident] = true
	}

	var errs []error
	for _, k := range order {
		g := groups[k]
		idents := make([]string, 0, len(g.idents))
		for id := range g.idents {
			idents = append(idents, id)
		}
		sort.Strings(idents)

		spanCtx, span := startSpan(ctx, "provision.reap", g.u, strings.Join(idents, ","))
		err := p.providers.For(g.u).Reap(spanCtx, g.u, idents)
		endSpan(span, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("reap %s %s: %w", g.u.Backend(), g.u.HostKey(), err))
		}
	}
	return errors.Join(errs...)
}

// ReadIdents parses an idents file: one "<ident> <url>" pair per line.
// Blank lines are skipped.
func ReadIdents(r io.Reader) ([]IdentEntry, error) {
	var out []IdentEntry
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("idents line %d: %w", n, ErrMalformedLine)
		}
		u, err := dburl.Parse(fields[1])
		if err != nil {
			return nil, fmt.Errorf("idents line %d: %w", n, err)
		}
		out = append(out, IdentEntry{Ident: fields[0], URL: u})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
