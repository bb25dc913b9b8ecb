package host

import (
	"fmt"
	"net/netip"

	"github.com/die-net/enet/internal/channel"
	"github.com/die-net/enet/internal/protocol"
	"github.com/die-net/enet/internal/throttle"
)

// State is a peer's position in the connection lifecycle.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateAcknowledgingConnect
	StateConnected
	StateDisconnectLater
	StateDisconnecting
	StateAcknowledgingDisconnect
)

var stateNames = [...]string{
	StateDisconnected:            "disconnected",
	StateConnecting:              "connecting",
	StateAcknowledgingConnect:    "acknowledging_connect",
	StateConnected:               "connected",
	StateDisconnectLater:         "disconnect_later",
	StateDisconnecting:           "disconnecting",
	StateAcknowledgingDisconnect: "acknowledging_disconnect",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// Handle refers to one connection on a Host. It goes stale once that
// connection ends, even if its slot is reused.
type Handle struct {
	slot uint16
	gen  uint32
}

// IsZero reports whether h refers to no connection.
func (h Handle) IsZero() bool { return h.gen == 0 }

// ID returns the local peer id of the slot h refers to.
func (h Handle) ID() uint16 { return h.slot }

func (h Handle) String() string { return fmt.Sprintf("%d/%d", h.slot, h.gen) }

// PeerInfo is a snapshot of a peer's negotiated parameters.
type PeerInfo struct {
	State             State
	Addr              netip.AddrPort
	ConnectID         uint32
	IncomingPeerID    uint16
	OutgoingPeerID    uint16
	IncomingSessionID uint8
	OutgoingSessionID uint8
	MTU               uint32
	WindowSize        uint32
	ChannelCount      int
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
	RoundTripTime     uint32
	ThrottleValue     uint32
	ThrottleInterval  uint32
	InTransit         int
}

type pendingAck struct {
	channelID uint8
	seq       uint16
	sentTime  uint16
}

// unreliableMessage is admitted or dropped by the throttle as a whole.
type unreliableMessage struct {
	cmds []protocol.Command
	size int
}

const noSession = 0xFF

type peer struct {
	slot      uint16
	gen       uint32
	state     State
	initiator bool
	addr      netip.AddrPort
	connectID uint32

	outgoingPeerID    uint16
	incomingSessionID uint8
	outgoingSessionID uint8

	mtu               uint32
	windowSize        uint32
	incomingBandwidth uint32
	outgoingBandwidth uint32
	channels          []*channel.Channel

	throttle    *throttle.Throttle
	limiter     *throttle.Limiter
	rtt         channel.RTT
	sent        channel.RetransmitQueue
	unsequenced channel.UnsequencedWindow

	outgoingReliable         uint16
	outgoingUnsequencedGroup uint16
	connectSeq               uint16

	// incomingControl is the last control sequence number applied; later
	// ones wait in pendingControl until the gap before them fills.
	incomingControl uint16
	pendingControl  map[uint16]protocol.Command

	acks       []pendingAck
	reliable   []protocol.Command
	unreliable []unreliableMessage

	lastReceive    uint32
	eventData      uint32
	disconnectData uint32
}

func newPeer(slot uint16) peer {
	return peer{
		slot:              slot,
		outgoingPeerID:    protocol.MaximumPeerID,
		incomingSessionID: noSession,
		outgoingSessionID: noSession,
	}
}

func (p *peer) handle() Handle { return Handle{slot: p.slot, gen: p.gen} }

// reset returns the slot to Disconnected. Session ids survive so the next
// connection on the slot picks different ones.
func (p *peer) reset() {
	next := newPeer(p.slot)
	next.gen = p.gen
	next.incomingSessionID = p.incomingSessionID
	next.outgoingSessionID = p.outgoingSessionID
	*p = next
}

// activate prepares a free slot for a new connection.
func (p *peer) activate(cfg *Config, addr netip.AddrPort, channelCount int, now uint32) {
	p.reset()
	p.gen++
	p.addr = addr
	p.mtu = cfg.MTU
	p.channels = make([]*channel.Channel, channelCount)
	for i := range p.channels {
		p.channels[i] = channel.New(cfg.MaxMessageSize)
	}
	p.throttle = throttle.New(cfg.ThrottleInterval, cfg.ThrottleAcceleration, cfg.ThrottleDeceleration)
	p.limiter = throttle.NewLimiter(cfg.OutgoingBandwidth)
	p.rtt = channel.NewRTT()
	p.sent.MaxTimeout = cfg.MaxTimeout
	p.lastReceive = now
}

func (p *peer) info() PeerInfo {
	return PeerInfo{
		State:             p.state,
		Addr:              p.addr,
		ConnectID:         p.connectID,
		IncomingPeerID:    p.slot,
		OutgoingPeerID:    p.outgoingPeerID,
		IncomingSessionID: p.incomingSessionID,
		OutgoingSessionID: p.outgoingSessionID,
		MTU:               p.mtu,
		WindowSize:        p.windowSize,
		ChannelCount:      len(p.channels),
		IncomingBandwidth: p.incomingBandwidth,
		OutgoingBandwidth: p.outgoingBandwidth,
		RoundTripTime:     p.rtt.Smoothed,
		ThrottleValue:     p.throttle.Value,
		ThrottleInterval:  p.throttle.Interval,
		InTransit:         p.sent.InTransit(),
	}
}

// resetQueues drops everything queued or awaiting acknowledgment along with
// partially received messages.
func (p *peer) resetQueues() {
	p.acks = nil
	p.reliable = nil
	p.unreliable = nil
	p.sent.Reset()
	p.pendingControl = nil
	for _, ch := range p.channels {
		ch.Reset()
	}
}

// idle reports whether nothing is queued or in flight.
func (p *peer) idle() bool {
	return len(p.reliable) == 0 && len(p.unreliable) == 0 && p.sent.Len() == 0
}

func (p *peer) connected() bool {
	return p.state == StateConnected || p.state == StateDisconnectLater
}

// queueControl sequences c on the control channel and queues it reliably.
func (p *peer) queueControl(c protocol.Command) uint16 {
	p.outgoingReliable++
	h := c.Header()
	h.Flags = protocol.FlagAcknowledge
	h.ChannelID = protocol.ControlChannel
	h.ReliableSequenceNumber = p.outgoingReliable
	p.reliable = append(p.reliable, c)
	return p.outgoingReliable
}

func (p *peer) queueAck(h *protocol.CommandHeader, sentTime uint16) {
	switch p.state {
	case StateDisconnected, StateDisconnecting:
		return
	case StateAcknowledgingDisconnect:
		if h.Command != protocol.KindDisconnect {
			return
		}
	}
	p.acks = append(p.acks, pendingAck{channelID: h.ChannelID, seq: h.ReliableSequenceNumber, sentTime: sentTime})
}

// reliableWindow is how many reliable bytes may be in flight, scaled by the
// throttle but never below one datagram.
func (p *peer) reliableWindow() int {
	w := p.windowSize * p.throttle.Value / throttle.Scale
	return int(max(w, p.mtu))
}

// updateBandwidth recomputes the window and rate toward the peer from the
// local outgoing cap and the peer's advertised incoming cap.
func (p *peer) updateBandwidth(localOutgoing uint32) {
	p.windowSize = throttle.WindowSize(localOutgoing, p.incomingBandwidth)
	p.limiter.SetRate(throttle.AdmittedRate(localOutgoing, p.incomingBandwidth))
}

// nextSessionID advances a 2-bit session id, skipping avoid.
func nextSessionID(base, avoid uint8) uint8 {
	id := (base + 1) & 3
	if id == avoid {
		id = (id + 1) & 3
	}
	return id
}
