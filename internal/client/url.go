package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/danmuck/guppyctl/internal/transport"
)

// Scheme is the only URL scheme the fetcher speaks.
const Scheme = "guppy"

var (
	ErrEmptyURL          = errors.New("client: empty url")
	ErrHostRequired      = errors.New("client: url host required")
	ErrUnsupportedScheme = errors.New("client: unsupported url scheme")
)

// ParseURL normalizes raw into an absolute guppy URL. A missing scheme is
// assumed to be guppy, matching how addresses get typed.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = Scheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, ErrHostRequired
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Addr returns the dial target for u with the default port applied.
func Addr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), transport.DefaultPort)
}
