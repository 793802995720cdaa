package dburl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	hostKey = "host"
	portKey = "port"
)

// SplitMultihost resolves the endpoints named by the "host" and "port"
// query keys. Two formats are accepted:
//
//	host=h1:p1&host=h2:p2    integrated: repeated host keys with embedded ports
//	host=h1,h2&port=p1,p2    lists: comma separated hosts and ports
//
// Combining an embedded port with a "port" key is ErrMixedMultihost.
// Ports left empty come back as 0. A single port applies to every host.
func SplitMultihost(q url.Values) ([]HostPort, error) {
	hostVals, hasHost := q[hostKey]
	portVals, hasPort := q[portKey]
	if !hasHost && !hasPort {
		return nil, nil
	}

	var (
		hosts      []HostPort
		integrated bool
	)
	switch {
	case len(hostVals) > 1:
		integrated = true
		for _, v := range hostVals {
			if strings.Contains(v, ",") {
				return nil, fmt.Errorf("%w: repeated host key %q also holds a comma list", ErrMixedMultihost, v)
			}
			hp, _, err := splitHostPort(v)
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, hp)
		}
	case len(hostVals) == 1:
		for _, tok := range strings.Split(hostVals[0], ",") {
			hp, embedded, err := splitHostPort(tok)
			if err != nil {
				return nil, err
			}
			integrated = integrated || embedded
			hosts = append(hosts, hp)
		}
	}

	if !hasPort {
		return hosts, nil
	}
	if integrated {
		return nil, fmt.Errorf(`%w: use "host=h1,h2&port=p1,p2" or "host=h1:p1&host=h2:p2" separately`, ErrMixedMultihost)
	}

	rawPorts := portVals
	if len(portVals) == 1 {
		rawPorts = strings.Split(portVals[0], ",")
	}
	ports := make([]int, len(rawPorts))
	for i, p := range rawPorts {
		n, err := parsePort(p)
		if err != nil {
			return nil, err
		}
		ports[i] = n
	}

	switch {
	case len(hosts) == 0:
		if len(ports) > 1 {
			return nil, fmt.Errorf("%w: %d ports given without hosts", ErrHostPortMismatch, len(ports))
		}
		if ports[0] == 0 {
			return nil, nil
		}
		return []HostPort{{Port: ports[0]}}, nil
	case len(ports) == 1:
		for i := range hosts {
			hosts[i].Port = ports[0]
		}
	case len(ports) != len(hosts):
		return nil, fmt.Errorf("%w: %d hosts, %d ports", ErrHostPortMismatch, len(hosts), len(ports))
	default:
		for i := range hosts {
			hosts[i].Port = ports[i]
		}
	}
	return hosts, nil
}

// splitHostPort splits one host token. embedded reports whether the token
// used the host:port syntax, even with an empty port.
func splitHostPort(tok string) (hp HostPort, embedded bool, err error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return hp, false, ErrEmptyHost
	}

	// Unix socket directory.
	if strings.HasPrefix(tok, "/") {
		return HostPort{Host: tok}, false, nil
	}

	if strings.HasPrefix(tok, "[") {
		end := strings.IndexByte(tok, ']')
		if end < 0 {
			return hp, false, fmt.Errorf("%w: unterminated IPv6 literal %q", ErrInvalidHost, tok)
		}
		hp.Host = tok[1:end]
		if hp.Host == "" {
			return hp, false, ErrEmptyHost
		}
		rest := tok[end+1:]
		if rest == "" {
			return hp, false, nil
		}
		if rest[0] != ':' {
			return hp, false, fmt.Errorf("%w: unexpected %q after IPv6 literal", ErrInvalidHost, rest)
		}
		hp.Port, err = parsePort(rest[1:])
		return hp, true, err
	}

	switch strings.Count(tok, ":") {
	case 0:
		return HostPort{Host: tok}, false, nil
	case 1:
	default:
		// Bare IPv6 literal; a port needs brackets.
		return HostPort{Host: tok}, false, nil
	}

	i := strings.IndexByte(tok, ':')
	hp.Host = tok[:i]
	if hp.Host == "" {
		return hp, true, ErrEmptyHost
	}
	hp.Port, err = parsePort(tok[i+1:])
	return hp, true, err
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return n, nil
}
