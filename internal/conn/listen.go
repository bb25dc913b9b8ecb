package conn

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// TCPListener accepts TCP connections with keepalive applied. It serves the
// debug endpoint and the loopback SOCKS5 control servers used in tests.
type TCPListener struct {
	net.Listener
	keepAlive net.KeepAliveConfig
}

// ListenTCP listens on addr and applies keepAlive to accepted connections.
func ListenTCP(ctx context.Context, addr string, keepAlive net.KeepAliveConfig) (*TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &TCPListener{Listener: ln, keepAlive: keepAlive}, nil
}

// AddrPort returns the bound address with any IPv4-mapped prefix removed,
// in the form the driver reports peer addresses.
func (l *TCPListener) AddrPort() netip.AddrPort {
	ap := l.Addr().(*net.TCPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (l *TCPListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.keepAlive)
	}
	return c, nil
}
