package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/enet/internal/socks5"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Upstream is a parsed upstream URL. A zero Addr means traffic goes direct.
type Upstream struct {
	Addr string
	Auth socks5.Auth
}

// Direct reports whether no proxy is configured.
func (u Upstream) Direct() bool { return u.Addr == "" }

// Parse parses an upstream URL.
//
// Supported schemes:
//   - direct://
//   - socks5://[user:pass@]host:port
//
// A missing port defaults to 1080.
func Parse(upstream string) (Upstream, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return Upstream{}, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return Upstream{}, errors.New("invalid URL: path should be empty")
	}

	switch u.Scheme {
	case "":
		return Upstream{}, errors.New("invalid url: missing scheme")
	case "direct":
		return Upstream{}, nil
	case "socks5":
		host := u.Hostname()
		if host == "" {
			return Upstream{}, errors.New("invalid url: missing host")
		}
		port := u.Port()
		if port == "" {
			port = "1080"
		}

		var auth socks5.Auth
		if u.User != nil {
			auth.Username = u.User.Username()
			auth.Password, _ = u.User.Password()
		}
		return Upstream{Addr: net.JoinHostPort(host, port), Auth: auth}, nil
	default:
		return Upstream{}, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

// New returns a Dialer for the proxy control connection.
func New(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}
