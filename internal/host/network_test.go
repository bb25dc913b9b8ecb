package host

import (
	"net/netip"
	"testing"

	"github.com/die-net/enet/internal/protocol"
)

type captured struct {
	from netip.AddrPort
	Datagram
}

type endpoint struct {
	addr   netip.AddrPort
	host   *Host
	events []Event
}

func (e *endpoint) drain() []Event {
	ev := e.events
	e.events = nil
	return ev
}

// network moves datagrams between hosts on a simulated clock.
type network struct {
	t     *testing.T
	now   uint32
	nodes []*endpoint

	// filter may rewrite a datagram in flight; returning nil drops it.
	filter func(from netip.AddrPort, d Datagram) []byte
	// order may reorder or duplicate a step's datagrams before delivery.
	order func([]captured) []captured

	sent []captured
}

func newNetwork(t *testing.T) *network {
	return &network{t: t}
}

func (n *network) add(addr string, cfg Config) *endpoint {
	n.t.Helper()
	h, err := New(cfg)
	if err != nil {
		n.t.Fatal(err)
	}
	e := &endpoint{addr: netip.MustParseAddrPort(addr), host: h}
	for i, old := range n.nodes {
		if old.addr == e.addr {
			n.nodes[i] = e
			return e
		}
	}
	n.nodes = append(n.nodes, e)
	return e
}

func (n *network) node(addr netip.AddrPort) *endpoint {
	for _, e := range n.nodes {
		if e.addr == addr {
			return e
		}
	}
	return nil
}

func (n *network) step(ms uint32) {
	n.now += ms
	var inflight []captured
	for _, e := range n.nodes {
		e.host.Service(n.now)
		for _, d := range e.host.Outgoing() {
			inflight = append(inflight, captured{from: e.addr, Datagram: d})
		}
		e.events = append(e.events, e.host.Events()...)
	}
	n.sent = append(n.sent, inflight...)
	if n.order != nil {
		inflight = n.order(inflight)
	}
	n.deliver(inflight)
}

func (n *network) deliver(msgs []captured) {
	for _, m := range msgs {
		b := m.Data
		if n.filter != nil {
			if b = n.filter(m.from, m.Datagram); b == nil {
				continue
			}
		}
		dst := n.node(m.Addr)
		if dst == nil {
			continue
		}
		dst.host.Receive(m.from, b, n.now)
		dst.events = append(dst.events, dst.host.Events()...)
	}
}

// runUntil steps until cond holds, failing after max steps.
func (n *network) runUntil(ms uint32, steps int, cond func() bool) {
	n.t.Helper()
	for range steps {
		n.step(ms)
		if cond() {
			return
		}
	}
	n.t.Fatalf("condition not reached after %d steps of %dms", steps, ms)
}

func hasEvent(e *endpoint, typ EventType) bool {
	for _, ev := range e.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func eventsOf(e *endpoint, typ EventType) []Event {
	var out []Event
	for _, ev := range e.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// connectPair connects a to b and returns each side's handle for the other.
func connectPair(t *testing.T, n *network, a, b *endpoint, channels int) (Handle, Handle) {
	t.Helper()
	ha, err := a.host.Connect(b.addr, channels, 42)
	if err != nil {
		t.Fatal(err)
	}
	n.runUntil(1, 20, func() bool { return hasEvent(a, EventConnect) && hasEvent(b, EventConnect) })

	ea, eb := eventsOf(a, EventConnect), eventsOf(b, EventConnect)
	if len(ea) != 1 || len(eb) != 1 {
		t.Fatalf("got %d and %d connect events", len(ea), len(eb))
	}
	if ea[0].Peer != ha {
		t.Fatalf("connect event for %s, want %s", ea[0].Peer, ha)
	}
	if eb[0].Value != 42 || eb[0].Addr != a.addr {
		t.Fatalf("unexpected responder event %+v", eb[0])
	}
	a.drain()
	b.drain()
	return ha, eb[0].Peer
}

func fixedConnectID(id uint32) func() uint32 {
	return func() uint32 { return id }
}

func decodeCommands(t *testing.T, b []byte) []protocol.Command {
	t.Helper()
	d, err := protocol.DecodeDatagram(b, false)
	if err != nil {
		t.Fatal(err)
	}
	return d.Commands
}

func findCommand[T protocol.Command](cmds []protocol.Command) (T, bool) {
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// sentWith returns the datagrams from addr carrying a command of type T.
func sentWith[T protocol.Command](t *testing.T, n *network, from netip.AddrPort) []captured {
	t.Helper()
	var out []captured
	for _, m := range n.sent {
		if m.from != from {
			continue
		}
		if _, ok := findCommand[T](decodeCommands(t, m.Data)); ok {
			out = append(out, m)
		}
	}
	return out
}
