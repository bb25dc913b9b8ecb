package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/enet/internal/conn"
	"github.com/die-net/enet/internal/dialer"
	"github.com/die-net/enet/internal/host"
	"github.com/die-net/enet/internal/socks5"
)

const (
	DefaultServiceInterval = 10 * time.Millisecond
	DefaultEventBuffer     = 256

	maxDatagramSize = 64 * 1024
)

var (
	// ErrClosed is returned by calls made after Run has returned.
	ErrClosed = errors.New("driver closed")
	// ErrProxyClosed reports that the proxy closed the control connection,
	// which ends the UDP association.
	ErrProxyClosed = errors.New("proxy closed control connection")
)

type Config struct {
	Logger *zap.Logger
	Host   host.Config

	// Listen is the local UDP address.
	Listen string
	Socket conn.UDPOptions

	// Upstream selects a SOCKS5 proxy; the zero value sends directly.
	Upstream dialer.Upstream
	// Dialer opens the proxy control connection. Defaults to a plain TCP
	// dialer.
	Dialer dialer.Dialer

	ServiceInterval time.Duration
	EventBuffer     int
}

// Stats extends the host counters with the driver's own.
type Stats struct {
	Host host.Stats

	// Gated counts datagrams dropped while the proxy association was not up.
	Gated uint64
	// RelayDropped counts datagrams from the relay that could not be
	// unwrapped, and datagrams from anywhere else while proxied.
	RelayDropped uint64
	// WriteErrors counts failed socket writes.
	WriteErrors uint64
}

type packet struct {
	src  netip.AddrPort
	data []byte
}

type request struct {
	fn   func(h *host.Host) error
	done chan error
}

// Driver owns a host and its socket.
type Driver struct {
	cfg  Config
	log  *zap.Logger
	host *host.Host
	sock *net.UDPConn

	start    time.Time
	requests chan request
	events   chan host.Event
	stopped  chan struct{}
	up       chan struct{}

	// Loop goroutine only.
	relay   *socks5.Relay
	stats   Stats
	packets chan packet
	ready   chan socks5.Relay
}

// New binds the socket and prepares the host. Call Run to start it.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ServiceInterval <= 0 {
		cfg.ServiceInterval = DefaultServiceInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Dialer == nil {
		cfg.Dialer = dialer.New(dialer.Config{})
	}
	if cfg.Host.Logger == nil {
		cfg.Host.Logger = cfg.Logger.Named("host")
	}

	h, err := host.New(cfg.Host)
	if err != nil {
		return nil, err
	}
	sock, err := conn.ListenUDP(ctx, cfg.Listen, cfg.Socket)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:      cfg,
		log:      cfg.Logger,
		host:     h,
		sock:     sock,
		start:    time.Now(),
		requests: make(chan request),
		events:   make(chan host.Event, cfg.EventBuffer),
		stopped:  make(chan struct{}),
		up:       make(chan struct{}),
		packets:  make(chan packet, 64),
		ready:    make(chan socks5.Relay, 1),
	}
	if cfg.Upstream.Direct() {
		close(d.up)
	}
	return d, nil
}

// Ready is closed once datagrams can flow: at once when sending directly,
// or when the proxy association is established.
func (d *Driver) Ready() <-chan struct{} { return d.up }

// LocalAddr returns the bound UDP address.
func (d *Driver) LocalAddr() netip.AddrPort {
	return unmap(d.sock.LocalAddr().(*net.UDPAddr).AddrPort())
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Events delivers host events. It is closed when Run returns.
func (d *Driver) Events() <-chan host.Event { return d.events }

// Run services the host until ctx is done or the socket or proxy fails. A
// cancelled ctx is not an error.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.events)
	defer close(d.stopped)

	g, ctx := errgroup.WithContext(ctx)
	context.AfterFunc(ctx, func() { _ = d.sock.Close() })

	g.Go(func() error { return d.readLoop(ctx) })
	if !d.cfg.Upstream.Direct() {
		g.Go(func() error { return d.proxyLoop(ctx) })
	}
	g.Go(func() error { return d.serviceLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (d *Driver) readLoop(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := d.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read udp: %w", err)
		}
		p := packet{
			src:  unmap(src),
			data: append([]byte(nil), buf[:n]...),
		}
		select {
		case d.packets <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// proxyLoop holds the control connection for the life of the association.
func (d *Driver) proxyLoop(ctx context.Context) error {
	up := d.cfg.Upstream
	c, err := d.cfg.Dialer.DialContext(ctx, "tcp", up.Addr)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	context.AfterFunc(ctx, func() { _ = c.Close() })

	proxy := netip.AddrPort{}
	if ta, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		proxy = ta.AddrPort()
	}
	s := socks5.NewSession(socks5.Config{Proxy: proxy, Auth: up.Auth})
	d.log.Info("negotiating with proxy", zap.String("proxy", up.Addr))

	relay, err := socks5.ClientAssociate(c, s)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("proxy %s: %w", up.Addr, err)
	}
	d.log.Info("proxy association established", zap.String("proxy", up.Addr), zap.Stringer("relay", relay.Addr))
	d.ready <- relay

	buf := make([]byte, 64)
	for {
		if _, err := c.Read(buf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrProxyClosed, err)
		}
	}
}

func (d *Driver) now() uint32 {
	return uint32(time.Since(d.start).Milliseconds())
}

func (d *Driver) serviceLoop(ctx context.Context) error {
	tick := time.NewTicker(d.cfg.ServiceInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-d.ready:
			d.relay = &r
			close(d.up)

		case p := <-d.packets:
			d.receive(p)

		case r := <-d.requests:
			r.done <- r.fn(d.host)

		case <-tick.C:
		}

		d.host.Service(d.now())
		d.flush()
		if err := d.dispatch(ctx); err != nil {
			return err
		}
	}
}

func (d *Driver) receive(p packet) {
	if d.cfg.Upstream.Direct() {
		d.host.Receive(p.src, p.data, d.now())
		return
	}
	if d.relay == nil || p.src != d.relay.Addr {
		d.stats.RelayDropped++
		return
	}
	src, payload, err := d.relay.Unwrap(p.data)
	if err != nil {
		d.stats.RelayDropped++
		d.log.Debug("dropping relayed datagram", zap.Error(err))
		return
	}
	d.host.Receive(src, payload, d.now())
}

func (d *Driver) flush() {
	for _, dg := range d.host.Outgoing() {
		dst, b := dg.Addr, dg.Data
		if !d.cfg.Upstream.Direct() {
			if d.relay == nil {
				d.stats.Gated++
				continue
			}
			wrapped, err := d.relay.Wrap(dst, b)
			if err != nil {
				d.stats.RelayDropped++
				d.log.Debug("cannot relay datagram", zap.Stringer("addr", dst), zap.Error(err))
				continue
			}
			dst, b = d.relay.Addr, wrapped
		}
		if _, err := d.sock.WriteToUDPAddrPort(b, dst); err != nil {
			d.stats.WriteErrors++
			d.log.Debug("write failed", zap.Stringer("addr", dst), zap.Error(err))
		}
	}
}

func (d *Driver) dispatch(ctx context.Context) error {
	for _, ev := range d.host.Events() {
		select {
		case d.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// do runs fn on the service goroutine.
func (d *Driver) do(ctx context.Context, fn func(h *host.Host) error) error {
	r := request{fn: fn, done: make(chan error, 1)}
	select {
	case d.requests <- r:
	case <-d.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-d.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect starts a connection to addr.
func (d *Driver) Connect(ctx context.Context, addr netip.AddrPort, channels int, data uint32) (host.Handle, error) {
	var hd host.Handle
	err := d.do(ctx, func(h *host.Host) error {
		var err error
		hd, err = h.Connect(unmap(addr), channels, data)
		return err
	})
	return hd, err
}

// Send queues data for the peer.
func (d *Driver) Send(ctx context.Context, hd host.Handle, channelID uint8, data []byte, class host.Class) error {
	return d.do(ctx, func(h *host.Host) error {
		return h.Send(hd, channelID, data, class)
	})
}

// Disconnect starts a graceful disconnect.
func (d *Driver) Disconnect(ctx context.Context, hd host.Handle, data uint32) error {
	return d.do(ctx, func(h *host.Host) error {
		return h.Disconnect(hd, data)
	})
}

// DisconnectLater disconnects once queued data is delivered.
func (d *Driver) DisconnectLater(ctx context.Context, hd host.Handle, data uint32) error {
	return d.do(ctx, func(h *host.Host) error {
		return h.DisconnectLater(hd, data)
	})
}

// Peer returns a snapshot of the peer's state.
func (d *Driver) Peer(ctx context.Context, hd host.Handle) (host.PeerInfo, error) {
	var info host.PeerInfo
	err := d.do(ctx, func(h *host.Host) error {
		var err error
		info, err = h.Peer(hd)
		return err
	})
	return info, err
}

// Peers returns every peer that is not disconnected.
func (d *Driver) Peers(ctx context.Context) ([]host.Handle, error) {
	var peers []host.Handle
	err := d.do(ctx, func(h *host.Host) error {
		peers = h.Peers()
		return nil
	})
	return peers, err
}

// Stats returns the host and driver counters.
func (d *Driver) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := d.do(ctx, func(h *host.Host) error {
		st = d.stats
		st.Host = h.Stats()
		return nil
	})
	return st, err
}
