package host

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/die-net/enet/internal/protocol"
	"github.com/die-net/enet/internal/throttle"
)

// Host is a table of peers sharing one datagram endpoint.
type Host struct {
	cfg Config
	log *zap.Logger

	peers  []peer
	now    uint32
	events []Event
	out    []Datagram
	stats  Stats
}

// New returns a host with cfg.PeerCount free slots.
func New(cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	h := &Host{
		cfg:   cfg,
		log:   cfg.Logger,
		peers: make([]peer, cfg.PeerCount),
	}
	for i := range h.peers {
		h.peers[i] = newPeer(uint16(i))
	}
	return h, nil
}

func (h *Host) withIntegrity() bool { return h.cfg.Integrity != nil }

func (h *Host) lookup(hd Handle) (*peer, error) {
	if int(hd.slot) >= len(h.peers) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, hd)
	}
	p := &h.peers[hd.slot]
	if p.gen != hd.gen || p.state == StateDisconnected {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, hd)
	}
	return p, nil
}

func (h *Host) freePeer() *peer {
	for i := range h.peers {
		if h.peers[i].state == StateDisconnected {
			return &h.peers[i]
		}
	}
	return nil
}

// Connect starts a connection to addr with up to channelCount channels. data
// is delivered to the remote application with its connect event.
func (h *Host) Connect(addr netip.AddrPort, channelCount int, data uint32) (Handle, error) {
	channelCount = min(max(channelCount, protocol.MinimumChannelCount), protocol.MaximumChannelCount)

	p := h.freePeer()
	if p == nil {
		return Handle{}, ErrNoFreePeer
	}
	p.activate(&h.cfg, addr, channelCount, h.now)
	p.state = StateConnecting
	p.initiator = true
	p.connectID = h.cfg.ConnectID()
	p.eventData = data
	p.windowSize = throttle.WindowSize(h.cfg.OutgoingBandwidth, 0)

	p.connectSeq = p.queueControl(&protocol.Connect{
		CommandHeader: protocol.CommandHeader{Command: protocol.KindConnect},
		Negotiation: protocol.Negotiation{
			OutgoingPeerID:             p.slot,
			IncomingSessionID:          p.incomingSessionID,
			OutgoingSessionID:          p.outgoingSessionID,
			MTU:                        p.mtu,
			WindowSize:                 p.windowSize,
			ChannelCount:               uint32(channelCount),
			IncomingBandwidth:          h.cfg.IncomingBandwidth,
			OutgoingBandwidth:          h.cfg.OutgoingBandwidth,
			PacketThrottleInterval:     p.throttle.Interval,
			PacketThrottleAcceleration: p.throttle.Acceleration,
			PacketThrottleDeceleration: p.throttle.Deceleration,
			ConnectID:                  p.connectID,
		},
		Data: data,
	})

	h.log.Debug("connecting", zap.Stringer("peer", p.handle()), zap.Stringer("addr", addr), zap.Uint32("connect_id", p.connectID))
	return p.handle(), nil
}

// Disconnect asks the peer to close the connection. A connected peer is
// sent a reliable DISCONNECT and reported disconnected once it is
// acknowledged; any other peer is notified best-effort and reset at once.
func (h *Host) Disconnect(hd Handle, data uint32) error {
	p, err := h.lookup(hd)
	if err != nil {
		return err
	}
	h.disconnect(p, data)
	return nil
}

// DisconnectLater disconnects once every queued reliable command has been
// acknowledged.
func (h *Host) DisconnectLater(hd Handle, data uint32) error {
	p, err := h.lookup(hd)
	if err != nil {
		return err
	}
	if p.connected() && !p.idle() {
		p.state = StateDisconnectLater
		p.disconnectData = data
		return nil
	}
	h.disconnect(p, data)
	return nil
}

// DisconnectNow notifies the peer best-effort and resets it without
// waiting. No event is generated.
func (h *Host) DisconnectNow(hd Handle, data uint32) error {
	p, err := h.lookup(hd)
	if err != nil {
		return err
	}
	if p.state != StateDisconnecting {
		h.sendDisconnectNow(p, data)
	}
	p.reset()
	return nil
}

// Reset forgets the peer without notifying it. No event is generated.
func (h *Host) Reset(hd Handle) error {
	p, err := h.lookup(hd)
	if err != nil {
		return err
	}
	p.reset()
	return nil
}

func (h *Host) disconnect(p *peer, data uint32) {
	switch p.state {
	case StateDisconnected, StateDisconnecting, StateAcknowledgingDisconnect:
		return
	}

	p.resetQueues()
	if p.connected() {
		p.disconnectData = data
		p.queueControl(&protocol.Disconnect{
			CommandHeader: protocol.CommandHeader{Command: protocol.KindDisconnect},
			Data:          data,
		})
		p.state = StateDisconnecting
		h.log.Debug("disconnecting", zap.Stringer("peer", p.handle()), zap.Stringer("addr", p.addr))
		return
	}

	h.sendDisconnectNow(p, data)
	p.reset()
}

func (h *Host) sendDisconnectNow(p *peer, data uint32) {
	h.emit(p, h.now, []protocol.Command{&protocol.Disconnect{
		CommandHeader: protocol.CommandHeader{
			Command:   protocol.KindDisconnect,
			Flags:     protocol.FlagUnsequenced,
			ChannelID: protocol.ControlChannel,
		},
		Data: data,
	}}, false)
}

// SetBandwidthLimit changes the host's bandwidth caps and advertises them to
// every connected peer.
func (h *Host) SetBandwidthLimit(incoming, outgoing uint32) {
	h.cfg.IncomingBandwidth = incoming
	h.cfg.OutgoingBandwidth = outgoing
	for i := range h.peers {
		p := &h.peers[i]
		if !p.connected() {
			continue
		}
		p.updateBandwidth(outgoing)
		p.queueControl(&protocol.BandwidthLimit{
			CommandHeader:     protocol.CommandHeader{Command: protocol.KindBandwidthLimit},
			IncomingBandwidth: incoming,
			OutgoingBandwidth: outgoing,
		})
	}
}

// ConfigureThrottle changes the throttle parameters used toward a peer and
// asks it to use them in the other direction.
func (h *Host) ConfigureThrottle(hd Handle, interval, acceleration, deceleration uint32) error {
	p, err := h.lookup(hd)
	if err != nil {
		return err
	}
	if !p.connected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, p.state)
	}
	p.throttle.Configure(interval, acceleration, deceleration)
	p.queueControl(&protocol.ThrottleConfigure{
		CommandHeader:              protocol.CommandHeader{Command: protocol.KindThrottleConfigure},
		PacketThrottleInterval:     interval,
		PacketThrottleAcceleration: acceleration,
		PacketThrottleDeceleration: deceleration,
	})
	return nil
}

// Peer returns a snapshot of the connection hd refers to.
func (h *Host) Peer(hd Handle) (PeerInfo, error) {
	p, err := h.lookup(hd)
	if err != nil {
		return PeerInfo{}, err
	}
	return p.info(), nil
}

// Peers returns handles for every slot in use.
func (h *Host) Peers() []Handle {
	var out []Handle
	for i := range h.peers {
		if h.peers[i].state != StateDisconnected {
			out = append(out, h.peers[i].handle())
		}
	}
	return out
}

// Outgoing returns and clears the datagrams produced since the last call.
func (h *Host) Outgoing() []Datagram {
	out := h.out
	h.out = nil
	return out
}

// Events returns and clears the events produced since the last call.
func (h *Host) Events() []Event {
	ev := h.events
	h.events = nil
	return ev
}

func (h *Host) Stats() Stats { return h.stats }

func (h *Host) notifyConnect(p *peer) {
	p.state = StateConnected
	h.events = append(h.events, Event{Type: EventConnect, Peer: p.handle(), Addr: p.addr, Value: p.eventData})
	h.log.Debug("connected", zap.Stringer("peer", p.handle()), zap.Stringer("addr", p.addr),
		zap.Uint32("mtu", p.mtu), zap.Uint32("window", p.windowSize), zap.Int("channels", len(p.channels)))
}

func (h *Host) notifyDisconnect(p *peer, data uint32, err error) {
	h.events = append(h.events, Event{Type: EventDisconnect, Peer: p.handle(), Addr: p.addr, Value: data, Err: err})
	h.log.Debug("disconnected", zap.Stringer("peer", p.handle()), zap.Stringer("addr", p.addr), zap.Uint32("data", data), zap.Error(err))
	p.reset()
}

// timeout ends a connection whose retry budget ran out. A responder that
// never reported the connection resets silently.
func (h *Host) timeout(p *peer, err error) {
	switch {
	case p.state == StateAcknowledgingConnect && !p.initiator:
		h.log.Debug("handshake abandoned", zap.Stringer("peer", p.handle()), zap.Stringer("addr", p.addr), zap.Error(err))
		p.reset()
	case p.state == StateDisconnecting:
		h.notifyDisconnect(p, p.disconnectData, nil)
	default:
		err = fmt.Errorf("%w: %w", ErrConnectionTimedOut, err)
		h.events = append(h.events, Event{Type: EventTimeout, Peer: p.handle(), Addr: p.addr, Err: err})
		h.log.Debug("timed out", zap.Stringer("peer", p.handle()), zap.Stringer("addr", p.addr), zap.Stringer("state", p.state), zap.Error(err))
		p.reset()
	}
}
