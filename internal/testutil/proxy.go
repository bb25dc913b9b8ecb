package testutil

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/die-net/enet/internal/conn"
	"github.com/die-net/enet/internal/socks5"
)

// UDPProxy is a loopback SOCKS5 proxy that serves UDP ASSOCIATE.
type UDPProxy struct {
	// Addr is the TCP control address.
	Addr netip.AddrPort

	auth     socks5.Auth
	relayed  atomic.Int64
	sessions atomic.Int64
	wg       sync.WaitGroup
}

// Relayed returns the number of datagrams forwarded in either direction.
func (p *UDPProxy) Relayed() int64 { return p.relayed.Load() }

// Sessions returns the number of associations established.
func (p *UDPProxy) Sessions() int64 { return p.sessions.Load() }

// StartUDPProxy starts a proxy that requires auth when auth has a
// username. It stops when the test ends.
func StartUDPProxy(t *testing.T, ctx context.Context, auth socks5.Auth) *UDPProxy {
	t.Helper()

	ln, err := conn.ListenTCP(ctx, "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	p := &UDPProxy{Addr: ln.AddrPort(), auth: auth}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer c.Close()
				p.serve(c)
			}()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		p.wg.Wait()
	})
	return p
}

func (p *UDPProxy) serve(c net.Conn) {
	if err := socks5.ServerNegotiate(c, p.auth); err != nil {
		return
	}
	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}
	if req.Cmd != socks5.CmdUDPAssociate {
		_ = socks5.WriteReply(c, socks5.RepCommandNotSupported, netip.AddrPort{})
		return
	}

	relay, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		_ = socks5.WriteReply(c, socks5.RepServerFailure, netip.AddrPort{})
		return
	}
	defer relay.Close()

	// Reply with an unspecified address so the client substitutes ours.
	bnd := netip.AddrPortFrom(netip.IPv4Unspecified(), relay.LocalAddr().(*net.UDPAddr).AddrPort().Port())
	if err := socks5.WriteSuccessReply(c, bnd); err != nil {
		return
	}
	p.sessions.Add(1)

	// The association lives as long as the control connection.
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := c.Read(buf); err != nil {
				_ = relay.Close()
				return
			}
		}
	}()

	var (
		client netip.AddrPort
		frame  socks5.Relay
	)
	buf := make([]byte, 64*1024)
	for {
		n, src, err := relay.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())

		if !client.IsValid() || src == client {
			dst, payload, err := frame.Unwrap(buf[:n])
			if err != nil {
				continue
			}
			client = src
			if _, err := relay.WriteToUDPAddrPort(payload, dst); err == nil {
				p.relayed.Add(1)
			}
			continue
		}

		b, err := frame.Wrap(src, buf[:n])
		if err != nil {
			continue
		}
		if _, err := relay.WriteToUDPAddrPort(b, client); err == nil {
			p.relayed.Add(1)
		}
	}
}
