// Package tunnel maps local ports to publicly reachable URLs. The static
// issuer covers direct deployments; real tunnel providers implement the same
// interface.
package tunnel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Issuer maps a local port to a public URL.
type Issuer interface {
	Forward(ctx context.Context, port int) (string, error)
}

// Static derives URLs from a fixed public host. The port is appended, so the
// host must be reachable on the same ports the services bind.
type Static struct {
	scheme string
	host   string
}

// NewStatic builds a static issuer from a base URL such as
// "http://example.com". Empty means http://localhost.
func NewStatic(base string) (*Static, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return &Static{scheme: "http", host: "localhost"}, nil
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Hostname() == "" {
		return nil, fmt.Errorf("tunnel base must include scheme and host (e.g. http://example.com)")
	}
	return &Static{scheme: parsed.Scheme, host: parsed.Hostname()}, nil
}

// Forward implements Issuer.
func (s *Static) Forward(ctx context.Context, port int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if port <= 0 {
		return "", fmt.Errorf("invalid port %d", port)
	}
	return fmt.Sprintf("%s://%s:%d", s.scheme, s.host, port), nil
}
