package host

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/die-net/enet/internal/channel"
	"github.com/die-net/enet/internal/protocol"
)

func TestHandshake(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{ConnectID: fixedConnectID(0x1111)})
	b := n.add("10.0.0.2:2000", Config{})

	ha, hb := connectPair(t, n, a, b, 3)

	ia, err := a.host.Peer(ha)
	if err != nil {
		t.Fatal(err)
	}
	ib, err := b.host.Peer(hb)
	if err != nil {
		t.Fatal(err)
	}
	if ia.State != StateConnected || ib.State != StateConnected {
		t.Fatalf("states %s and %s", ia.State, ib.State)
	}
	if ia.ChannelCount != 3 || ib.ChannelCount != 3 {
		t.Fatalf("channel counts %d and %d", ia.ChannelCount, ib.ChannelCount)
	}
	if ia.ConnectID != 0x1111 || ib.ConnectID != 0x1111 {
		t.Fatalf("connect ids %#x and %#x", ia.ConnectID, ib.ConnectID)
	}
	if ia.OutgoingPeerID != ib.IncomingPeerID || ib.OutgoingPeerID != ia.IncomingPeerID {
		t.Fatalf("peer ids not mirrored: %+v %+v", ia, ib)
	}
	if ia.OutgoingSessionID != ib.IncomingSessionID || ib.OutgoingSessionID != ia.IncomingSessionID {
		t.Fatalf("session ids not mirrored: %+v %+v", ia, ib)
	}
}

func TestMTUReconciliation(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{MTU: 4096})
	b := n.add("10.0.0.2:2000", Config{MTU: 1200})

	ha, hb := connectPair(t, n, a, b, 1)

	connects := sentWith[*protocol.Connect](t, n, a.addr)
	if len(connects) == 0 {
		t.Fatal("no CONNECT sent")
	}
	c, _ := findCommand[*protocol.Connect](decodeCommands(t, connects[0].Data))
	if c.MTU != 4096 {
		t.Fatalf("CONNECT offered mtu %d", c.MTU)
	}

	verifies := sentWith[*protocol.VerifyConnect](t, n, b.addr)
	if len(verifies) == 0 {
		t.Fatal("no VERIFY_CONNECT sent")
	}
	v, _ := findCommand[*protocol.VerifyConnect](decodeCommands(t, verifies[0].Data))
	if v.MTU != 1200 {
		t.Fatalf("VERIFY_CONNECT mtu %d, want 1200", v.MTU)
	}

	for _, tc := range []struct {
		e  *endpoint
		hd Handle
	}{{a, ha}, {b, hb}} {
		info, err := tc.e.host.Peer(tc.hd)
		if err != nil {
			t.Fatal(err)
		}
		if info.MTU != 1200 {
			t.Fatalf("%s negotiated mtu %d, want 1200", tc.e.addr, info.MTU)
		}
	}
}

func TestChannelCountReconciliation(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{})
	b := n.add("10.0.0.2:2000", Config{ChannelLimit: 2})

	ha, hb := connectPair(t, n, a, b, 8)

	ia, _ := a.host.Peer(ha)
	ib, _ := b.host.Peer(hb)
	if ia.ChannelCount != 2 || ib.ChannelCount != 2 {
		t.Fatalf("channel counts %d and %d, want 2", ia.ChannelCount, ib.ChannelCount)
	}
	if err := a.host.Send(ha, 2, []byte("x"), ClassReliable); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestConnectTimeout(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{ConnectRetryLimit: 3, MaxTimeout: 2000})
	nowhere := netip.MustParseAddrPort("10.0.0.9:9")

	ha, err := a.host.Connect(nowhere, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	n.runUntil(100, 1000, func() bool { return hasEvent(a, EventTimeout) })

	ev := eventsOf(a, EventTimeout)[0]
	if ev.Peer != ha || !errors.Is(ev.Err, ErrConnectionTimedOut) || !errors.Is(ev.Err, channel.ErrRetryBudget) {
		t.Fatalf("unexpected timeout event %+v", ev)
	}
	if got := len(sentWith[*protocol.Connect](t, n, a.addr)); got != 4 {
		t.Fatalf("sent %d CONNECT datagrams, want 4", got)
	}
	if _, err := a.host.Peer(ha); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer after timeout, got %v", err)
	}
}

func TestConnectIDMismatchRefused(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{ConnectID: fixedConnectID(0x1111)})
	b := n.add("10.0.0.2:2000", Config{})

	n.filter = func(from netip.AddrPort, d Datagram) []byte {
		if from != b.addr {
			return d.Data
		}
		dg, err := protocol.DecodeDatagram(d.Data, false)
		if err != nil {
			t.Fatal(err)
		}
		v, ok := findCommand[*protocol.VerifyConnect](dg.Commands)
		if !ok {
			return d.Data
		}
		v.ConnectID ^= 0xFFFF
		out, err := protocol.AppendDatagram(nil, dg, false)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}

	ha, err := a.host.Connect(b.addr, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	n.runUntil(1, 20, func() bool { return hasEvent(a, EventDisconnect) })

	ev := eventsOf(a, EventDisconnect)[0]
	if ev.Peer != ha || !errors.Is(ev.Err, ErrConnectionRefused) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if hasEvent(a, EventConnect) {
		t.Fatal("refused connection reported as connected")
	}
	if _, err := a.host.Peer(ha); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestDuplicateConnectIgnored(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{})
	b := n.add("10.0.0.2:2000", Config{})

	if _, err := a.host.Connect(b.addr, 1, 0); err != nil {
		t.Fatal(err)
	}
	n.step(1)
	connects := sentWith[*protocol.Connect](t, n, a.addr)
	if len(connects) != 1 {
		t.Fatalf("%d CONNECT datagrams", len(connects))
	}
	b.host.Receive(a.addr, connects[0].Data, n.now)
	if got := len(b.host.Peers()); got != 1 {
		t.Fatalf("%d peers after duplicate CONNECT, want 1", got)
	}

	n.runUntil(1, 20, func() bool { return hasEvent(a, EventConnect) && hasEvent(b, EventConnect) })
	if got := len(eventsOf(b, EventConnect)); got != 1 {
		t.Fatalf("%d connect events", got)
	}
}

func TestSessionChangeRejectsStaleDatagrams(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{ConnectID: fixedConnectID(0x1111)})
	b := n.add("10.0.0.2:2000", Config{})

	ha, hb := connectPair(t, n, a, b, 1)
	before, err := b.host.Peer(hb)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.host.Send(ha, 0, []byte("old session"), ClassReliable); err != nil {
		t.Fatal(err)
	}
	n.step(1)
	n.step(1)
	if got := eventsOf(b, EventReceive); len(got) != 1 {
		t.Fatalf("%d receive events", len(got))
	}
	stale := sentWith[*protocol.SendReliable](t, n, a.addr)[0].Data
	b.drain()

	// A restarted process on the same address connects again.
	a2 := n.add(a.addr.String(), Config{ConnectID: fixedConnectID(0x2222)})
	if _, err := a2.host.Connect(b.addr, 1, 0); err != nil {
		t.Fatal(err)
	}
	n.runUntil(1, 20, func() bool { return hasEvent(a2, EventConnect) && hasEvent(b, EventConnect) })

	gone := eventsOf(b, EventDisconnect)
	if len(gone) != 1 || gone[0].Peer != hb || !errors.Is(gone[0].Err, ErrSuperseded) {
		t.Fatalf("unexpected disconnect events %+v", gone)
	}
	if _, err := b.host.Peer(hb); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("old handle still valid: %v", err)
	}

	hb2 := eventsOf(b, EventConnect)[0].Peer
	after, err := b.host.Peer(hb2)
	if err != nil {
		t.Fatal(err)
	}
	if after.IncomingPeerID != before.IncomingPeerID {
		t.Fatalf("slot %d not reused, got %d", before.IncomingPeerID, after.IncomingPeerID)
	}
	if after.IncomingSessionID == before.IncomingSessionID {
		t.Fatalf("session id %d unchanged", after.IncomingSessionID)
	}

	b.drain()
	rejected := b.host.Stats().SequenceRejected
	b.host.Receive(a.addr, stale, n.now)
	if got := b.host.Stats().SequenceRejected; got != rejected+1 {
		t.Fatalf("SequenceRejected %d, want %d", got, rejected+1)
	}
	if ev := b.host.Events(); len(ev) != 0 {
		t.Fatalf("stale datagram produced events %+v", ev)
	}
}

func TestDisconnect(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{})
	b := n.add("10.0.0.2:2000", Config{})
	ha, hb := connectPair(t, n, a, b, 1)

	if err := a.host.Disconnect(ha, 7); err != nil {
		t.Fatal(err)
	}
	n.runUntil(1, 20, func() bool { return hasEvent(a, EventDisconnect) && hasEvent(b, EventDisconnect) })

	for _, tc := range []struct {
		e  *endpoint
		hd Handle
	}{{a, ha}, {b, hb}} {
		ev := eventsOf(tc.e, EventDisconnect)[0]
		if ev.Peer != tc.hd || ev.Value != 7 || ev.Err != nil {
			t.Fatalf("%s: unexpected event %+v", tc.e.addr, ev)
		}
		if len(tc.e.host.Peers()) != 0 {
			t.Fatalf("%s still has peers", tc.e.addr)
		}
	}
}

func TestDisconnectBeforeConnected(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{})

	ha, err := a.host.Connect(netip.MustParseAddrPort("10.0.0.2:2000"), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.host.Disconnect(ha, 3); err != nil {
		t.Fatal(err)
	}

	out := a.host.Outgoing()
	if len(out) != 1 {
		t.Fatalf("%d datagrams, want 1", len(out))
	}
	d, ok := findCommand[*protocol.Disconnect](decodeCommands(t, out[0].Data))
	if !ok || d.Flags&protocol.FlagUnsequenced == 0 || d.NeedsAcknowledge() || d.Data != 3 {
		t.Fatalf("unexpected disconnect %+v", d)
	}
	if ev := a.host.Events(); len(ev) != 0 {
		t.Fatalf("unexpected events %+v", ev)
	}
	if len(a.host.Peers()) != 0 {
		t.Fatal("peer not reset")
	}
}

func TestDisconnectLaterDrainsReliable(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{})
	b := n.add("10.0.0.2:2000", Config{})
	ha, _ := connectPair(t, n, a, b, 1)

	for _, m := range []string{"one", "two", "three"} {
		if err := a.host.Send(ha, 0, []byte(m), ClassReliable); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.host.DisconnectLater(ha, 9); err != nil {
		t.Fatal(err)
	}
	if info, _ := a.host.Peer(ha); info.State != StateDisconnectLater {
		t.Fatalf("state %s", info.State)
	}

	n.runUntil(1, 20, func() bool { return hasEvent(a, EventDisconnect) && hasEvent(b, EventDisconnect) })

	var got []string
	for _, ev := range b.events {
		switch ev.Type {
		case EventReceive:
			got = append(got, string(ev.Data))
		case EventDisconnect:
			got = append(got, "disconnect")
			if ev.Value != 9 {
				t.Fatalf("reason %d", ev.Value)
			}
		}
	}
	want := []string{"one", "two", "three", "disconnect"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestDisconnectNowAndReset(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{})
	b := n.add("10.0.0.2:2000", Config{})
	ha, hb := connectPair(t, n, a, b, 1)

	if err := a.host.DisconnectNow(ha, 5); err != nil {
		t.Fatal(err)
	}
	if ev := a.host.Events(); len(ev) != 0 {
		t.Fatalf("DisconnectNow produced events %+v", ev)
	}
	n.step(1)

	ev := eventsOf(b, EventDisconnect)
	if len(ev) != 1 || ev[0].Peer != hb || ev[0].Value != 5 {
		t.Fatalf("unexpected remote events %+v", ev)
	}
	if hasEvent(a, EventDisconnect) {
		t.Fatal("local side reported disconnect")
	}

	if err := a.host.Reset(ha); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer for reset handle, got %v", err)
	}
}

func TestResetForgetsPeer(t *testing.T) {
	n := newNetwork(t)
	a := n.add("10.0.0.1:1000", Config{})
	b := n.add("10.0.0.2:2000", Config{})
	ha, _ := connectPair(t, n, a, b, 1)

	if err := a.host.Reset(ha); err != nil {
		t.Fatal(err)
	}
	if out := a.host.Outgoing(); len(out) != 0 {
		t.Fatalf("reset sent %d datagrams", len(out))
	}
	if _, err := a.host.Peer(ha); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	n := newNetwork(t)
	cfg := Config{PingInterval: 200, RetryLimit: 2, MaxTimeout: 1000}
	a := n.add("10.0.0.1:1000", cfg)
	b := n.add("10.0.0.2:2000", cfg)
	ha, _ := connectPair(t, n, a, b, 1)

	n.filter = func(netip.AddrPort, Datagram) []byte { return nil }
	n.runUntil(100, 600, func() bool { return hasEvent(a, EventTimeout) })

	ev := eventsOf(a, EventTimeout)[0]
	if ev.Peer != ha || !errors.Is(ev.Err, ErrConnectionTimedOut) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(sentWith[*protocol.Ping](t, n, a.addr)) == 0 {
		t.Fatal("no keep-alive sent")
	}
}

func TestNextSessionID(t *testing.T) {
	tests := []struct {
		base, avoid, want uint8
	}{
		{noSession, noSession, 0},
		{0, 3, 1},
		{0, 1, 2},
		{3, 0, 1},
		{2, 1, 3},
	}
	for _, tt := range tests {
		if got := nextSessionID(tt.base, tt.avoid); got != tt.want {
			t.Errorf("nextSessionID(%d, %d) = %d, want %d", tt.base, tt.avoid, got, tt.want)
		}
	}
}
