// Package dburl parses and renders database connection URLs of the form
// backend[+driver]://user:password@host:port/database?key=value.
package dburl

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// backendAliases maps alternate backend spellings onto their canonical name.
var backendAliases = map[string]string{
	"postgres": "postgresql",
	"pgsql":    "postgresql",
	"sqlite3":  "sqlite",
}

// URL is a parsed database connection URL.
// Query keeps every value of repeated keys in the order they were given.
type URL struct {
	Drivername string
	Username   string
	Password   string
	Host       string
	Port       int // 0 when absent
	Database   string
	Query      url.Values
}

// Parse parses raw into a URL. Errors never echo the password.
func Parse(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}

	pu, err := url.Parse(raw)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if pu.Scheme == "" {
		return nil, fmt.Errorf("%w: missing drivername", ErrInvalidURL)
	}
	if pu.Opaque != "" {
		return nil, fmt.Errorf("%w: expected %s://...", ErrInvalidURL, pu.Scheme)
	}

	u := &URL{
		Drivername: pu.Scheme,
		Host:       pu.Hostname(),
		Database:   strings.TrimPrefix(pu.Path, "/"),
	}
	if pu.User != nil {
		u.Username = pu.User.Username()
		u.Password, _ = pu.User.Password()
	}
	if p := pu.Port(); p != "" {
		n, err := parsePort(p)
		if err != nil {
			return nil, err
		}
		u.Port = n
	}

	q, err := url.ParseQuery(pu.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query string: %v", ErrInvalidURL, err)
	}
	u.Query = q

	return u, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level defaults.
func MustParse(raw string) *URL {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Backend returns the canonical backend name, e.g. "postgresql" for
// "postgres+pgx".
func (u *URL) Backend() string {
	name := u.Drivername
	if i := strings.IndexByte(name, '+'); i >= 0 {
		name = name[:i]
	}
	return CanonicalBackend(name)
}

// CanonicalBackend resolves backend aliases such as "postgres".
func CanonicalBackend(name string) string {
	name = strings.ToLower(name)
	if alias, ok := backendAliases[name]; ok {
		return alias
	}
	return name
}

// Driver returns the driver part of the drivername, or "" when none is given.
func (u *URL) Driver() string {
	if i := strings.IndexByte(u.Drivername, '+'); i >= 0 {
		return strings.ToLower(u.Drivername[i+1:])
	}
	return ""
}

// SetOption replaces one component in URL.Set.
type SetOption func(*URL)

func WithDrivername(name string) SetOption { return func(u *URL) { u.Drivername = name } }
func WithUsername(name string) SetOption   { return func(u *URL) { u.Username = name } }
func WithPassword(pw string) SetOption     { return func(u *URL) { u.Password = pw } }
func WithHost(host string) SetOption       { return func(u *URL) { u.Host = host } }
func WithPort(port int) SetOption          { return func(u *URL) { u.Port = port } }
func WithDatabase(db string) SetOption     { return func(u *URL) { u.Database = db } }

// Set returns a copy of u with the given components replaced.
func (u *URL) Set(opts ...SetOption) *URL {
	c := u.Clone()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clone returns a deep copy of u.
func (u *URL) Clone() *URL {
	c := *u
	c.Query = make(url.Values, len(u.Query))
	for k, v := range u.Query {
		c.Query[k] = append([]string(nil), v...)
	}
	return &c
}

// UpdateQueryString merges the raw query string q into a copy of u.
// Keys in q replace existing keys unless appendValues is set.
func (u *URL) UpdateQueryString(q string, appendValues bool) (*URL, error) {
	c := u.Clone()
	if q == "" {
		return c, nil
	}
	vals, err := url.ParseQuery(strings.TrimPrefix(q, "?"))
	if err != nil {
		return nil, fmt.Errorf("%w: query string: %v", ErrInvalidURL, err)
	}
	for k, v := range vals {
		if appendValues {
			c.Query[k] = append(c.Query[k], v...)
		} else {
			c.Query[k] = v
		}
	}
	return c, nil
}

// WithoutQueryKeys returns a copy of u with the given query keys removed.
func (u *URL) WithoutQueryKeys(keys ...string) *URL {
	c := u.Clone()
	for _, k := range keys {
		delete(c.Query, k)
	}
	return c
}

// Endpoints resolves the hosts and ports the URL points at, taking the
// authority and the multihost query keys into account.
// A URL with neither yields no endpoints.
func (u *URL) Endpoints() ([]HostPort, error) {
	fromQuery, err := SplitMultihost(u.Query)
	if err != nil {
		return nil, err
	}
	if u.Host != "" || u.Port != 0 {
		if len(fromQuery) > 0 {
			return nil, ErrAmbiguousHost
		}
		return []HostPort{{Host: u.Host, Port: u.Port}}, nil
	}
	return fromQuery, nil
}

// HostKey renders the endpoint list as "h1:p1,h2:p2". URLs pointing at the
// same servers share a host key.
func (u *URL) HostKey() string {
	eps, err := u.Endpoints()
	if err != nil {
		return strings.Join(u.Query["host"], ",")
	}
	parts := make([]string, len(eps))
	for i, ep := range eps {
		parts[i] = ep.String()
	}
	return strings.Join(parts, ",")
}

// String renders the URL, password included.
func (u *URL) String() string {
	return u.render(false)
}

// Redacted renders the URL with the password masked, including a password
// query option.
func (u *URL) Redacted() string {
	return u.render(true)
}

var queryUnescaper = strings.NewReplacer("%2C", ",", "%3A", ":", "%2F", "/")

func (u *URL) render(hidePassword bool) string {
	var b strings.Builder
	b.WriteString(u.Drivername)
	b.WriteString("://")

	if u.Username != "" || u.Password != "" {
		switch {
		case u.Password == "":
			b.WriteString(url.User(u.Username).String())
		case hidePassword:
			b.WriteString(url.User(u.Username).String())
			b.WriteString(":***")
		default:
			b.WriteString(url.UserPassword(u.Username, u.Password).String())
		}
		b.WriteByte('@')
	}

	b.WriteString(HostPort{Host: u.Host, Port: u.Port}.String())

	if u.Database != "" {
		b.WriteByte('/')
		b.WriteString((&url.URL{Path: u.Database}).EscapedPath())
	}

	if len(u.Query) > 0 {
		keys := make([]string, 0, len(u.Query))
		for k := range u.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sep := byte('?')
		for _, k := range keys {
			for _, v := range u.Query[k] {
				b.WriteByte(sep)
				sep = '&'
				b.WriteString(queryUnescaper.Replace(url.QueryEscape(k)))
				b.WriteByte('=')
				if hidePassword && k == "password" {
					b.WriteString("***")
					continue
				}
				b.WriteString(queryUnescaper.Replace(url.QueryEscape(v)))
			}
		}
	}
	return b.String()
}

// HostPort is one server endpoint. Port 0 means the driver's default port.
type HostPort struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
}

// String renders host[:port], bracketing IPv6 literals.
func (hp HostPort) String() string {
	host := hp.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "/") {
		host = "[" + host + "]"
	}
	if hp.Port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(hp.Port)
}

// WithDefaultPort returns hp with Port set to def when it is unspecified.
func (hp HostPort) WithDefaultPort(def int) HostPort {
	if hp.Port == 0 {
		hp.Port = def
	}
	return hp
}
