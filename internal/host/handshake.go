package host

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/die-net/enet/internal/protocol"
	"github.com/die-net/enet/internal/throttle"
)

// handleConnect admits a CONNECT from src and returns the responder-side
// peer, or errIgnored for a retransmission of a CONNECT already admitted.
func (h *Host) handleConnect(src netip.AddrPort, c *protocol.Connect, now uint32) (*peer, error) {
	if c.ChannelCount < protocol.MinimumChannelCount || c.ChannelCount > protocol.MaximumChannelCount {
		return nil, fmt.Errorf("%w: connect with %d channels", errUnexpectedCommand, c.ChannelCount)
	}

	var p *peer
	for i := range h.peers {
		q := &h.peers[i]
		if q.state == StateDisconnected || q.addr != src {
			continue
		}
		if q.connectID == c.ConnectID {
			return nil, errIgnored
		}
		h.supersede(q)
		p = q
		break
	}
	if p == nil {
		if p = h.freePeer(); p == nil {
			h.stats.PeerTableFull++
			h.log.Debug("refusing connect", zap.Stringer("addr", src), zap.Error(ErrNoFreePeer))
			return nil, errIgnored
		}
	}

	channelCount := min(int(c.ChannelCount), h.cfg.ChannelLimit)
	p.activate(&h.cfg, src, channelCount, now)
	p.state = StateAcknowledgingConnect
	p.connectID = c.ConnectID
	p.incomingControl = c.ReliableSequenceNumber
	p.eventData = c.Data
	p.outgoingPeerID = c.OutgoingPeerID
	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth
	p.throttle.Configure(c.PacketThrottleInterval, c.PacketThrottleAcceleration, c.PacketThrottleDeceleration)

	base := c.IncomingSessionID
	if base == noSession {
		base = p.outgoingSessionID
	}
	p.outgoingSessionID = nextSessionID(base, p.outgoingSessionID)
	base = c.OutgoingSessionID
	if base == noSession {
		base = p.incomingSessionID
	}
	p.incomingSessionID = nextSessionID(base, p.incomingSessionID)

	p.mtu = min(h.cfg.MTU, clampMTU(c.MTU))
	p.updateBandwidth(h.cfg.OutgoingBandwidth)
	window := min(throttle.WindowSize(h.cfg.IncomingBandwidth, 0), throttle.ClampWindow(c.WindowSize))

	p.queueControl(&protocol.VerifyConnect{
		CommandHeader: protocol.CommandHeader{Command: protocol.KindVerifyConnect},
		Negotiation: protocol.Negotiation{
			OutgoingPeerID:             p.slot,
			IncomingSessionID:          p.outgoingSessionID,
			OutgoingSessionID:          p.incomingSessionID,
			MTU:                        p.mtu,
			WindowSize:                 window,
			ChannelCount:               uint32(channelCount),
			IncomingBandwidth:          h.cfg.IncomingBandwidth,
			OutgoingBandwidth:          h.cfg.OutgoingBandwidth,
			PacketThrottleInterval:     c.PacketThrottleInterval,
			PacketThrottleAcceleration: c.PacketThrottleAcceleration,
			PacketThrottleDeceleration: c.PacketThrottleDeceleration,
			ConnectID:                  c.ConnectID,
		},
	})

	h.log.Debug("accepted connect", zap.Stringer("peer", p.handle()), zap.Stringer("addr", src),
		zap.Uint32("connect_id", c.ConnectID), zap.Uint8("session", p.incomingSessionID))
	return p, nil
}

// supersede ends the connection on q so its slot can serve a new CONNECT
// from the same address.
func (h *Host) supersede(q *peer) {
	if q.state == StateAcknowledgingConnect && !q.initiator {
		h.log.Debug("replacing unfinished handshake", zap.Stringer("peer", q.handle()), zap.Stringer("addr", q.addr))
		q.reset()
		return
	}
	h.notifyDisconnect(q, 0, ErrSuperseded)
}

func (h *Host) handleVerifyConnect(p *peer, c *protocol.VerifyConnect) error {
	if p.state != StateConnecting {
		return nil
	}

	var err error
	switch {
	case c.ChannelCount < protocol.MinimumChannelCount || c.ChannelCount > protocol.MaximumChannelCount:
		err = fmt.Errorf("%w: verify with %d channels", ErrConnectionRefused, c.ChannelCount)
	case c.PacketThrottleInterval != p.throttle.Interval ||
		c.PacketThrottleAcceleration != p.throttle.Acceleration ||
		c.PacketThrottleDeceleration != p.throttle.Deceleration:
		err = fmt.Errorf("%w: throttle parameters changed", ErrConnectionRefused)
	case c.ConnectID != p.connectID:
		err = fmt.Errorf("%w: connect id %#x, sent %#x", ErrConnectionRefused, c.ConnectID, p.connectID)
	}
	if err != nil {
		h.notifyDisconnect(p, 0, err)
		return err
	}

	p.sent.Remove(protocol.ControlChannel, p.connectSeq)
	p.incomingControl = c.ReliableSequenceNumber
	if int(c.ChannelCount) < len(p.channels) {
		p.channels = p.channels[:c.ChannelCount]
	}
	p.outgoingPeerID = c.OutgoingPeerID
	p.incomingSessionID = c.IncomingSessionID
	p.outgoingSessionID = c.OutgoingSessionID
	p.mtu = min(p.mtu, clampMTU(c.MTU))
	p.windowSize = min(p.windowSize, throttle.ClampWindow(c.WindowSize))
	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth
	p.limiter.SetRate(throttle.AdmittedRate(h.cfg.OutgoingBandwidth, p.incomingBandwidth))
	p.state = StateAcknowledgingConnect
	return nil
}

func (h *Host) handleDisconnect(p *peer, c *protocol.Disconnect) {
	switch p.state {
	case StateDisconnected, StateAcknowledgingDisconnect:
		return
	}

	p.resetQueues()
	switch p.state {
	case StateConnecting:
		h.notifyDisconnect(p, c.Data, ErrConnectionRefused)
	case StateAcknowledgingConnect:
		if p.initiator {
			h.notifyDisconnect(p, c.Data, nil)
		} else {
			p.reset()
		}
	case StateDisconnecting:
		h.notifyDisconnect(p, c.Data, nil)
	default:
		if c.NeedsAcknowledge() {
			p.state = StateAcknowledgingDisconnect
			p.disconnectData = c.Data
		} else {
			h.notifyDisconnect(p, c.Data, nil)
		}
	}
}
