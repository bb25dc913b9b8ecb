package testutil

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/die-net/enet/internal/conn"
	"github.com/die-net/enet/internal/socks5"
)

// StartControlServer accepts one SOCKS5 control connection, completes the
// no-auth greeting, reads the request and hands both to handler. Handshake
// failures close the connection. The server stops when the test ends.
func StartControlServer(t *testing.T, ctx context.Context, handler func(net.Conn, socks5.Request)) netip.AddrPort {
	t.Helper()

	ln, err := conn.ListenTCP(ctx, "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		if err := socks5.ServerNegotiate(c, socks5.Auth{}); err != nil {
			return
		}
		req, err := socks5.ServerReadRequest(c)
		if err != nil {
			return
		}
		handler(c, req)
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})
	return ln.AddrPort()
}
