package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dbprov/internal/dburl"
	"dbprov/internal/dialect"
	applog "dbprov/internal/log"
	"dbprov/internal/model"
	"dbprov/internal/provision"
	"dbprov/internal/repository"
)

var (
	ErrURLRequired    = errors.New("url is required")
	ErrNotFound       = errors.New("follower not found")
	ErrFollowerExists = errors.New("follower already exists")
	ErrNoMainURLs     = errors.New("no provisioning urls configured")
	ErrUnmanaged      = errors.New("follower records reference no configured main url")
)

// Provisioner is the subset of *provision.Provisioner the service drives.
type Provisioner interface {
	GenerateDBURLs(rawURLs, extraDrivers []string) ([]string, error)
	CreateFollower(ctx context.Context, mains []*dburl.URL, ident string) ([]provision.Follower, error)
	DropFollower(ctx context.Context, mains []*dburl.URL, ident string) error
	Setup(ctx context.Context, raw, ident string) (*provision.Target, error)
	Reap(ctx context.Context, entries []provision.IdentEntry) error
}

var _ Provisioner = (*provision.Provisioner)(nil)

// Options configures the main databases followers are provisioned from.
type Options struct {
	URLs    []string
	Drivers []string
}

// ReapResult summarizes a reap run.
type ReapResult struct {
	Idents  []string `json:"idents"`
	Skipped int      `json:"skipped"`
}

// ProvisionService defines the use cases around connection URLs and
// follower databases.
type ProvisionService interface {
	// ParseURL parses raw and resolves its endpoints and driver DSN.
	ParseURL(ctx context.Context, raw string) (*model.URLInfo, error)

	// ExpandURLs expands urls across drivers. Empty arguments fall back to
	// the configured values.
	ExpandURLs(ctx context.Context, urls, drivers []string) ([]model.URLInfo, error)

	// Check opens raw, or its follower ident when set, and pings it.
	Check(ctx context.Context, raw, ident string) (*model.CheckResult, error)

	// CreateFollower provisions ident on every configured main database and
	// records the result.
	CreateFollower(ctx context.Context, ident string) ([]model.Follower, error)

	// DropFollower drops a recorded follower and removes its records.
	DropFollower(ctx context.Context, ident string) error

	// ListFollowers returns recorded followers, all of them when ident is empty.
	ListFollowers(ctx context.Context, ident string) ([]model.Follower, error)

	// Reap drops every recorded follower.
	Reap(ctx context.Context) (*ReapResult, error)

	// ReapIdents drops the followers listed in an idents file.
	ReapIdents(ctx context.Context, r io.Reader) (*ReapResult, error)
}

type provisionService struct {
	prov     Provisioner
	dialects *dialect.Registry
	repo     repository.FollowerRepository
	opts     Options
	mains    []*dburl.URL
	logger   zerolog.Logger
}

// NewProvisionService constructs a ProvisionService. The configured URLs are
// expanded and de-duplicated once, up front.
func NewProvisionService(prov Provisioner, dialects *dialect.Registry, repo repository.FollowerRepository, opts Options) (ProvisionService, error) {
	s := &provisionService{
		prov:     prov,
		dialects: dialects,
		repo:     repo,
		opts:     opts,
		logger:   applog.WithComponent("service.provision"),
	}
	if len(opts.URLs) == 0 {
		return s, nil
	}

	expanded, err := prov.GenerateDBURLs(opts.URLs, opts.Drivers)
	if err != nil {
		return nil, fmt.Errorf("provisioning urls: %w", err)
	}
	parsed := make([]*dburl.URL, 0, len(expanded))
	for _, raw := range expanded {
		u, err := dburl.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("provisioning urls: %w", err)
		}
		parsed = append(parsed, u)
	}
	s.mains = provision.ConfigsForDBOperation(parsed)
	return s, nil
}

func (s *provisionService) ParseURL(_ context.Context, raw string) (*model.URLInfo, error) {
	if raw == "" {
		return nil, ErrURLRequired
	}
	u, err := dburl.Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.describe(u)
}

func (s *provisionService) describe(u *dburl.URL) (*model.URLInfo, error) {
	eps, err := u.Endpoints()
	if err != nil {
		return nil, err
	}
	if eps == nil {
		eps = []dburl.HostPort{}
	}
	info := &model.URLInfo{
		URL:       u.Redacted(),
		Backend:   u.Backend(),
		Username:  u.Username,
		Database:  u.Database,
		Endpoints: eps,
		HostKey:   u.HostKey(),
	}

	d, err := s.dialects.Lookup(u)
	if err != nil {
		return nil, err
	}
	info.Driver = d.Driver()

	shown := u
	if u.Password != "" {
		shown = u.Set(dburl.WithPassword("***"))
	}
	if shown.Query.Has("password") {
		shown = shown.Clone()
		shown.Query.Set("password", "***")
	}
	if info.DSN, err = d.DSN(shown); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *provisionService) ExpandURLs(_ context.Context, urls, drivers []string) ([]model.URLInfo, error) {
	if len(urls) == 0 {
		urls = s.opts.URLs
		if drivers == nil {
			drivers = s.opts.Drivers
		}
	}
	if len(urls) == 0 {
		return nil, ErrURLRequired
	}

	expanded, err := s.prov.GenerateDBURLs(urls, drivers)
	if err != nil {
		return nil, err
	}
	out := make([]model.URLInfo, 0, len(expanded))
	for _, raw := range expanded {
		u, err := dburl.Parse(raw)
		if err != nil {
			return nil, err
		}
		info, err := s.describe(u)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, nil
}

func (s *provisionService) Check(ctx context.Context, raw, ident string) (*model.CheckResult, error) {
	if raw == "" {
		return nil, ErrURLRequired
	}
	start := time.Now()
	target, err := s.prov.Setup(ctx, raw, ident)
	if err != nil {
		return nil, err
	}
	res := &model.CheckResult{
		URL:       target.URL.Redacted(),
		Ident:     ident,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err := target.Close(); err != nil {
		s.logger.Warn().Err(err).Str(applog.FieldURL, res.URL).Msg("close after check failed")
	}
	return res, nil
}

func (s *provisionService) CreateFollower(ctx context.Context, ident string) ([]model.Follower, error) {
	if err := provision.ValidateIdent(ident); err != nil {
		return nil, err
	}
	if len(s.mains) == 0 {
		return nil, ErrNoMainURLs
	}

	existing, err := s.repo.ListByIdent(ctx, ident)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrFollowerExists, ident)
	}

	created, err := s.prov.CreateFollower(ctx, s.mains, ident)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]model.Follower, 0, len(created))
	for _, f := range created {
		rec := &model.Follower{
			ID:          uuid.New().String(),
			Ident:       f.Ident,
			Backend:     f.Main.Backend(),
			HostKey:     f.Main.HostKey(),
			MainURL:     f.Main.Redacted(),
			FollowerURL: f.URL.Redacted(),
			CreatedAt:   now,
		}
		stored, err := s.repo.Create(ctx, rec)
		if err != nil {
			return nil, s.rollbackCreate(ctx, ident, err)
		}
		out = append(out, *stored)
	}

	s.logger.Info().
		Str(applog.FieldIdent, ident).
		Int("databases", len(out)).
		Msg("follower created")
	return out, nil
}

// rollbackCreate drops the freshly created follower after its records could
// not be saved.
func (s *provisionService) rollbackCreate(ctx context.Context, ident string, saveErr error) error {
	var errs []error
	if err := s.prov.DropFollower(ctx, s.mains, ident); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.repo.DeleteByIdent(ctx, ident); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("db save failed: %v; rollback drop failed: %v", saveErr, errors.Join(errs...))
	}
	return fmt.Errorf("db save failed: %w", saveErr)
}

func (s *provisionService) DropFollower(ctx context.Context, ident string) error {
	if err := provision.ValidateIdent(ident); err != nil {
		return err
	}
	records, err := s.repo.ListByIdent(ctx, ident)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrNotFound
	}

	mains, ids := s.matchMains(records)
	if len(mains) == 0 {
		return fmt.Errorf("%w: %s", ErrUnmanaged, ident)
	}
	if err := s.prov.DropFollower(ctx, mains, ident); err != nil {
		return fmt.Errorf("drop follower: %w", err)
	}
	if err := s.deleteRecords(ctx, ids); err != nil {
		return err
	}

	s.logger.Info().
		Str(applog.FieldIdent, ident).
		Int("databases", len(mains)).
		Int("kept_records", len(records)-len(ids)).
		Msg("follower dropped")
	return nil
}

func (s *provisionService) ListFollowers(ctx context.Context, ident string) ([]model.Follower, error) {
	if ident == "" {
		return s.repo.List(ctx)
	}
	if err := provision.ValidateIdent(ident); err != nil {
		return nil, err
	}
	return s.repo.ListByIdent(ctx, ident)
}

func (s *provisionService) Reap(ctx context.Context) (*ReapResult, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		entries []provision.IdentEntry
		ids     []string
		skipped int
	)
	for _, rec := range records {
		main := s.mainFor(rec)
		if main == nil {
			skipped++
			continue
		}
		entries = append(entries, provision.IdentEntry{Ident: rec.Ident, URL: main})
		ids = append(ids, rec.ID)
	}

	res, err := s.reap(ctx, entries)
	if err != nil {
		return nil, err
	}
	// Records that were skipped stay, even when they share an ident with
	// a reaped one.
	if err := s.deleteRecords(ctx, ids); err != nil {
		return nil, err
	}
	res.Skipped = skipped
	return res, nil
}

func (s *provisionService) ReapIdents(ctx context.Context, r io.Reader) (*ReapResult, error) {
	entries, err := provision.ReadIdents(r)
	if err != nil {
		return nil, err
	}
	return s.reap(ctx, entries)
}

func (s *provisionService) reap(ctx context.Context, entries []provision.IdentEntry) (*ReapResult, error) {
	res := &ReapResult{Idents: []string{}}
	if len(entries) == 0 {
		return res, nil
	}
	if err := s.prov.Reap(ctx, entries); err != nil {
		return nil, fmt.Errorf("reap: %w", err)
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		if !seen[e.Ident] {
			seen[e.Ident] = true
			res.Idents = append(res.Idents, e.Ident)
		}
	}
	sort.Strings(res.Idents)
	return res, nil
}

// matchMains returns the configured main URLs the records were created
// from, and the IDs of the records that matched one.
func (s *provisionService) matchMains(records []model.Follower) ([]*dburl.URL, []string) {
	var (
		out  []*dburl.URL
		ids  []string
		seen = make(map[*dburl.URL]bool)
	)
	for _, rec := range records {
		main := s.mainFor(rec)
		if main == nil {
			continue
		}
		ids = append(ids, rec.ID)
		if !seen[main] {
			seen[main] = true
			out = append(out, main)
		}
	}
	return out, ids
}

func (s *provisionService) deleteRecords(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete follower record %s: %w", id, err)
		}
	}
	return nil
}

func (s *provisionService) mainFor(rec model.Follower) *dburl.URL {
	for _, m := range s.mains {
		if m.Redacted() == rec.MainURL {
			return m
		}
	}
	s.logger.Warn().
		Str(applog.FieldIdent, rec.Ident).
		Str(applog.FieldURL, rec.MainURL).
		Msg("main url of follower record is no longer configured, skipping")
	return nil
}
