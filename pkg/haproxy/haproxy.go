// Package haproxy reads the listen sections of an haproxy.cfg and checks
// that every frontend and backend speaks TLS.
package haproxy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	listenRe = regexp.MustCompile(`^listen(?:\s+(.*))?$`)
	bindRe   = regexp.MustCompile(`^bind (\S*) .*`)
	serverRe = regexp.MustCompile(`^server (\S*) (\S*) .*`)
)

// Service is one listen section with its bind and server lines, trimmed,
// in file order.
type Service struct {
	Name  string
	Lines []string
}

// Config is a parsed haproxy.cfg.
type Config struct {
	Services []Service
}

// ParseError reports a line that cannot be interpreted.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("haproxy.cfg line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// ParseFile parses the haproxy.cfg at path.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse collects bind and server lines per listen section. Lines outside a
// listen section are ignored. A later section with the same name replaces
// the earlier one.
func Parse(r io.Reader) (*Config, error) {
	sc := bufio.NewScanner(r)

	var (
		order   []string
		byName  = map[string]*Service{}
		current *Service
		lineNo  int
	)

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())

		if m := listenRe.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			if name == "" {
				return nil, &ParseError{Line: lineNo, Text: line, Msg: "listen section without a name"}
			}
			if _, seen := byName[name]; !seen {
				order = append(order, name)
			}
			current = &Service{Name: name}
			byName[name] = current
			continue
		}
		if current == nil {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 && (fields[0] == "bind" || fields[0] == "server") {
			current.Lines = append(current.Lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read haproxy.cfg: %w", err)
	}

	cfg := &Config{Services: make([]Service, 0, len(order))}
	for _, name := range order {
		cfg.Services = append(cfg.Services, *byName[name])
	}
	return cfg, nil
}

// Service returns the named listen section.
func (c *Config) Service(name string) (Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// Names returns the listen section names, sorted.
func (c *Config) Names() []string {
	out := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

// HostPort extracts the address of a bind or server line: the bind address,
// or the server's address after its name.
func HostPort(line string) (string, error) {
	line = strings.TrimSpace(line)
	if m := bindRe.FindStringSubmatch(line); m != nil {
		return m[1], nil
	}
	if m := serverRe.FindStringSubmatch(line); m != nil {
		return m[2], nil
	}
	return "", &ParseError{Text: line, Msg: "not a bind or server line with options"}
}

// Endpoint is one address a listen section exposes or forwards to.
type Endpoint struct {
	Service  string
	Line     string
	HostPort string
	TLS      bool
}

// Endpoints returns every bind and server address with whether the line
// enables TLS.
func (c *Config) Endpoints() ([]Endpoint, error) {
	var out []Endpoint
	for _, s := range c.Services {
		for _, line := range s.Lines {
			hp, err := HostPort(line)
			if err != nil {
				return nil, fmt.Errorf("listen %s: %w", s.Name, err)
			}
			out = append(out, Endpoint{
				Service:  s.Name,
				Line:     line,
				HostPort: hp,
				TLS:      strings.Contains(line, "ssl"),
			})
		}
	}
	return out, nil
}

// CheckTLS returns the endpoints that do not enable TLS. Sections named in
// skip are ignored.
func (c *Config) CheckTLS(skip ...string) ([]Endpoint, error) {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	endpoints, err := c.Endpoints()
	if err != nil {
		return nil, err
	}
	var plain []Endpoint
	for _, ep := range endpoints {
		if !skipped[ep.Service] && !ep.TLS {
			plain = append(plain, ep)
		}
	}
	return plain, nil
}
