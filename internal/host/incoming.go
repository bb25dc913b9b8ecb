package host

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/die-net/enet/internal/channel"
	"github.com/die-net/enet/internal/protocol"
)

// Receive processes one datagram from src at now. Malformed datagrams and
// stale commands are dropped and counted in Stats.
func (h *Host) Receive(src netip.AddrPort, b []byte, now uint32) {
	h.now = now
	h.stats.DatagramsReceived++

	d, err := protocol.DecodeDatagram(b, h.withIntegrity())
	if err == nil && h.withIntegrity() && d.Header.Integrity != *h.cfg.Integrity {
		err = fmt.Errorf("%w: integrity marker mismatch", protocol.ErrMalformedHeader)
	}
	if err == nil && d.Header.Compressed {
		err = fmt.Errorf("%w: compressed datagrams are not supported", protocol.ErrMalformedHeader)
	}
	if err != nil {
		h.stats.Malformed++
		h.log.Debug("dropping malformed datagram", zap.Stringer("addr", src), zap.Error(err))
		return
	}

	var p *peer
	if d.Header.PeerID != protocol.MaximumPeerID {
		if int(d.Header.PeerID) >= len(h.peers) {
			h.stats.Unroutable++
			return
		}
		p = &h.peers[d.Header.PeerID]
		if p.state == StateDisconnected || p.addr != src {
			h.stats.Unroutable++
			return
		}
		if p.outgoingPeerID < protocol.MaximumPeerID && d.Header.SessionID != p.incomingSessionID {
			h.stats.SequenceRejected++
			h.log.Debug("dropping datagram from stale session", zap.Stringer("peer", p.handle()), zap.Stringer("addr", src),
				zap.Uint8("session", d.Header.SessionID), zap.Uint8("want", p.incomingSessionID), zap.Error(ErrSequenceRejected))
			return
		}
		p.lastReceive = now
	}

	for _, c := range d.Commands {
		ch := c.Header()
		if ch.NeedsAcknowledge() && !d.Header.HasSentTime {
			h.stats.Malformed++
			h.log.Debug("dropping reliable command without sent time", zap.Stringer("addr", src), zap.Stringer("command", ch.Command))
			return
		}

		var err error
		p, err = h.dispatch(p, src, c, now)
		if errors.Is(err, errIgnored) {
			continue
		}
		if err != nil {
			h.log.Debug("dropping rest of datagram", zap.Stringer("addr", src), zap.Stringer("command", ch.Command), zap.Error(err))
			return
		}
		if p != nil && ch.NeedsAcknowledge() {
			p.queueAck(ch, d.Header.SentTime)
		}
	}
}

// dispatch handles one command and returns the peer that later commands of
// the same datagram belong to.
func (h *Host) dispatch(p *peer, src netip.AddrPort, c protocol.Command, now uint32) (*peer, error) {
	if cc, ok := c.(*protocol.Connect); ok {
		if p != nil {
			return p, fmt.Errorf("%w: connect for peer %d", errUnexpectedCommand, p.slot)
		}
		q, err := h.handleConnect(src, cc, now)
		return q, err
	}
	if p == nil {
		return nil, errIgnored
	}

	switch c := c.(type) {
	case *protocol.Acknowledge:
		h.handleAcknowledge(p, c, now)
	case *protocol.VerifyConnect:
		if err := h.handleVerifyConnect(p, c); err != nil {
			return nil, err
		}
	case *protocol.Disconnect:
		h.handleDisconnect(p, c)
	case *protocol.Ping, *protocol.BandwidthLimit, *protocol.ThrottleConfigure:
		if !p.connected() {
			return p, errUnexpectedCommand
		}
		return p, h.receiveControl(p, c)
	case *protocol.SendReliable:
		return p, h.receiveReliable(p, c)
	case *protocol.SendUnreliable:
		return p, h.receiveUnreliable(p, c)
	case *protocol.SendUnsequenced:
		return p, h.receiveUnsequenced(p, c)
	case *protocol.SendFragment:
		return p, h.receiveFragment(p, c)
	}
	return p, nil
}

// receiveControl applies reliable control commands in the order the peer
// sequenced them. A command ahead of a gap waits for the gap to fill; a
// retransmission of one already applied is acknowledged again but not
// reapplied.
func (h *Host) receiveControl(p *peer, c protocol.Command) error {
	ch := c.Header()
	if !ch.NeedsAcknowledge() || ch.ChannelID != protocol.ControlChannel {
		h.applyControl(p, c)
		return nil
	}

	seq := ch.ReliableSequenceNumber
	err := channel.CheckReliable(p.incomingControl, seq)
	if _, ok := p.pendingControl[seq]; ok && err == nil {
		err = channel.ErrDuplicate
	}
	if err != nil {
		if errors.Is(err, channel.ErrDuplicate) {
			h.log.Debug("not reapplying control command", zap.Stringer("peer", p.handle()),
				zap.Stringer("command", ch.Command), zap.Uint16("seq", seq))
		}
		return h.sequenceError(err)
	}

	if p.pendingControl == nil {
		p.pendingControl = make(map[uint16]protocol.Command)
	}
	p.pendingControl[seq] = c
	for {
		next, ok := p.pendingControl[p.incomingControl+1]
		if !ok {
			return nil
		}
		delete(p.pendingControl, p.incomingControl+1)
		p.incomingControl++
		h.applyControl(p, next)
	}
}

func (h *Host) applyControl(p *peer, c protocol.Command) {
	switch c := c.(type) {
	case *protocol.BandwidthLimit:
		p.incomingBandwidth = c.IncomingBandwidth
		p.outgoingBandwidth = c.OutgoingBandwidth
		p.updateBandwidth(h.cfg.OutgoingBandwidth)
	case *protocol.ThrottleConfigure:
		p.throttle.Configure(c.PacketThrottleInterval, c.PacketThrottleAcceleration, c.PacketThrottleDeceleration)
	}
}

func (h *Host) handleAcknowledge(p *peer, c *protocol.Acknowledge, now uint32) {
	sent := channel.ExpandSentTime(now, c.ReceivedSentTime)
	if now-sent >= 0x80000000 {
		return
	}
	o, ok := p.sent.Remove(c.ChannelID, c.ReceivedReliableSequenceNumber)
	if !ok {
		return
	}
	p.rtt.Sample(now - sent)
	p.throttle.Acked(now)

	kind := o.Command.Header().Command
	switch p.state {
	case StateAcknowledgingConnect:
		if !p.initiator && kind == protocol.KindVerifyConnect {
			h.notifyConnect(p)
		}
	case StateDisconnecting:
		if kind == protocol.KindDisconnect {
			h.notifyDisconnect(p, p.disconnectData, nil)
		}
	case StateDisconnectLater:
		if p.idle() {
			h.disconnect(p, p.disconnectData)
		}
	}
}

func (h *Host) channelFor(p *peer, id uint8) (*channel.Channel, error) {
	if !p.connected() {
		return nil, fmt.Errorf("%w: data while %s", errUnexpectedCommand, p.state)
	}
	if int(id) >= len(p.channels) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidChannel, id, len(p.channels))
	}
	return p.channels[id], nil
}

func (h *Host) deliver(p *peer, channelID uint8, data []byte, class Class) {
	h.events = append(h.events, Event{
		Type:      EventReceive,
		Peer:      p.handle(),
		Addr:      p.addr,
		ChannelID: channelID,
		Class:     class,
		Data:      data,
	})
}

// sequenceError counts a channel rejection and maps it to the way the
// command is treated: a duplicate is still acknowledged, a stale or out of
// window command is not.
func (h *Host) sequenceError(err error) error {
	switch {
	case errors.Is(err, channel.ErrDuplicate):
		h.stats.Duplicates++
		return nil
	case errors.Is(err, channel.ErrOutOfWindow), errors.Is(err, channel.ErrStale):
		h.stats.SequenceRejected++
		return errIgnored
	case errors.Is(err, channel.ErrFragmentOverflow):
		h.stats.FragmentOverflows++
	}
	return err
}

func (h *Host) receiveReliable(p *peer, c *protocol.SendReliable) error {
	ch, err := h.channelFor(p, c.ChannelID)
	if err != nil {
		return err
	}
	msgs, err := ch.ReceiveReliable(c.ReliableSequenceNumber, bytes.Clone(c.Data))
	if err != nil {
		return h.sequenceError(err)
	}
	for _, m := range msgs {
		h.deliver(p, c.ChannelID, m, ClassReliable)
	}
	return nil
}

func (h *Host) receiveUnreliable(p *peer, c *protocol.SendUnreliable) error {
	ch, err := h.channelFor(p, c.ChannelID)
	if err != nil {
		return err
	}
	m, err := ch.ReceiveUnreliable(c.ReliableSequenceNumber, c.UnreliableSequenceNumber, c.Data)
	if err != nil {
		return h.sequenceError(err)
	}
	h.deliver(p, c.ChannelID, bytes.Clone(m), ClassUnreliable)
	return nil
}

func (h *Host) receiveUnsequenced(p *peer, c *protocol.SendUnsequenced) error {
	if _, err := h.channelFor(p, c.ChannelID); err != nil {
		return err
	}
	if !p.unsequenced.Accept(c.UnsequencedGroup) {
		h.stats.Duplicates++
		return errIgnored
	}
	h.deliver(p, c.ChannelID, bytes.Clone(c.Data), ClassUnsequenced)
	return nil
}

func (h *Host) receiveFragment(p *peer, c *protocol.SendFragment) error {
	ch, err := h.channelFor(p, c.ChannelID)
	if err != nil {
		return err
	}
	f := channel.FromCommand(c)

	if c.Reliable() {
		msgs, err := ch.ReceiveReliableFragment(c.ReliableSequenceNumber, f)
		if err != nil {
			return h.sequenceError(err)
		}
		for _, m := range msgs {
			h.deliver(p, c.ChannelID, m, ClassReliable)
		}
		return nil
	}

	m, err := ch.ReceiveUnreliableFragment(c.ReliableSequenceNumber, f)
	if err != nil {
		return h.sequenceError(err)
	}
	if m != nil {
		h.deliver(p, c.ChannelID, m, ClassUnreliable)
	}
	return nil
}
