package host

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/die-net/enet/internal/channel"
	"github.com/die-net/enet/internal/protocol"
)

// Send queues data on channelID of a connected peer. Messages that do not
// fit one datagram are fragmented. Unreliable and unsequenced messages may
// later be dropped by the throttle or bandwidth limit.
func (h *Host) Send(hd Handle, channelID uint8, data []byte, class Class) error {
	p, err := h.lookup(hd)
	if err != nil {
		return err
	}
	if p.state != StateConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, p.state)
	}
	if int(channelID) >= len(p.channels) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidChannel, channelID, len(p.channels))
	}
	if uint32(len(data)) > h.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPacketTooLarge, len(data), h.cfg.MaxMessageSize)
	}
	ch := p.channels[channelID]
	data = bytes.Clone(data)

	single := h.payloadCapacity(p, protocol.KindSendReliable)
	switch class {
	case ClassUnreliable:
		single = h.payloadCapacity(p, protocol.KindSendUnreliable)
	case ClassUnsequenced:
		single = h.payloadCapacity(p, protocol.KindSendUnsequenced)
	}

	if len(data) > single {
		frags := channel.Split(data, h.payloadCapacity(p, protocol.KindSendFragment))
		if len(frags) > protocol.MaximumFragmentCount {
			return fmt.Errorf("%w: %d fragments", ErrPacketTooLarge, len(frags))
		}
		if class == ClassReliable {
			h.queueReliableFragments(p, ch, channelID, frags)
		} else {
			h.queueUnreliableFragments(p, ch, channelID, frags)
		}
		return nil
	}

	hdr := protocol.CommandHeader{ChannelID: channelID}
	switch class {
	case ClassReliable:
		hdr.Command = protocol.KindSendReliable
		hdr.Flags = protocol.FlagAcknowledge
		hdr.ReliableSequenceNumber = ch.NextReliable()
		p.reliable = append(p.reliable, &protocol.SendReliable{CommandHeader: hdr, Data: data})
	case ClassUnreliable:
		rel, unrel := ch.NextUnreliable()
		hdr.Command = protocol.KindSendUnreliable
		hdr.ReliableSequenceNumber = rel
		c := &protocol.SendUnreliable{CommandHeader: hdr, UnreliableSequenceNumber: unrel, Data: data}
		p.unreliable = append(p.unreliable, unreliableMessage{cmds: []protocol.Command{c}, size: protocol.EncodedSize(c)})
	case ClassUnsequenced:
		p.outgoingUnsequencedGroup++
		hdr.Command = protocol.KindSendUnsequenced
		hdr.Flags = protocol.FlagUnsequenced
		c := &protocol.SendUnsequenced{CommandHeader: hdr, UnsequencedGroup: p.outgoingUnsequencedGroup, Data: data}
		p.unreliable = append(p.unreliable, unreliableMessage{cmds: []protocol.Command{c}, size: protocol.EncodedSize(c)})
	default:
		return fmt.Errorf("unknown delivery class %d", class)
	}
	return nil
}

// payloadCapacity is the largest payload a single command of kind k can
// carry in one datagram to p.
func (h *Host) payloadCapacity(p *peer, k protocol.Kind) int {
	return int(p.mtu) - protocol.MaxHeaderSize(h.withIntegrity()) - protocol.CommandSize(k)
}

func (h *Host) queueReliableFragments(p *peer, ch *channel.Channel, channelID uint8, frags []channel.Fragment) {
	var start uint16
	for i, f := range frags {
		seq := ch.NextReliable()
		if i == 0 {
			start = seq
		}
		p.reliable = append(p.reliable, &protocol.SendFragment{
			CommandHeader: protocol.CommandHeader{
				Command:                protocol.KindSendFragment,
				Flags:                  protocol.FlagAcknowledge,
				ChannelID:              channelID,
				ReliableSequenceNumber: seq,
			},
			StartSequenceNumber: start,
			FragmentCount:       f.Count,
			FragmentNumber:      f.Number,
			TotalLength:         f.TotalLength,
			FragmentOffset:      f.Offset,
			Data:                f.Data,
		})
	}
}

// queueUnreliableFragments sends every fragment under one unreliable
// sequence number, which doubles as the start sequence number.
func (h *Host) queueUnreliableFragments(p *peer, ch *channel.Channel, channelID uint8, frags []channel.Fragment) {
	rel, unrel := ch.NextUnreliable()
	m := unreliableMessage{cmds: make([]protocol.Command, 0, len(frags))}
	for _, f := range frags {
		c := &protocol.SendFragment{
			CommandHeader: protocol.CommandHeader{
				Command:                protocol.KindSendUnreliableFragment,
				ChannelID:              channelID,
				ReliableSequenceNumber: rel,
			},
			StartSequenceNumber: unrel,
			FragmentCount:       f.Count,
			FragmentNumber:      f.Number,
			TotalLength:         f.TotalLength,
			FragmentOffset:      f.Offset,
			Data:                f.Data,
		}
		m.cmds = append(m.cmds, c)
		m.size += protocol.EncodedSize(c)
	}
	p.unreliable = append(p.unreliable, m)
}

// Service runs timers at now: retransmissions, keep-alive pings, throttle
// adaptation and deferred state transitions. It then packs every queued
// command into datagrams for Outgoing.
func (h *Host) Service(now uint32) {
	h.now = now
	for i := range h.peers {
		if h.peers[i].state != StateDisconnected {
			h.servicePeer(&h.peers[i], now)
		}
	}
}

func (h *Host) servicePeer(p *peer, now uint32) {
	p.throttle.Update(now)

	due, err := p.sent.Expired(now)
	if err != nil {
		h.timeout(p, err)
		return
	}
	h.stats.Retransmits += uint64(len(due))

	if p.state == StateConnected && p.idle() && now-p.lastReceive >= h.cfg.PingInterval {
		p.queueControl(&protocol.Ping{CommandHeader: protocol.CommandHeader{Command: protocol.KindPing}})
	}

	w := packer{h: h, p: p, now: now, capacity: int(p.mtu) - protocol.MaxHeaderSize(h.withIntegrity())}
	for _, a := range p.acks {
		w.add(&protocol.Acknowledge{
			CommandHeader:                  protocol.CommandHeader{Command: protocol.KindAcknowledge, ChannelID: a.channelID, ReliableSequenceNumber: a.seq},
			ReceivedReliableSequenceNumber: a.seq,
			ReceivedSentTime:               a.sentTime,
		})
	}
	p.acks = p.acks[:0]
	for _, o := range due {
		p.throttle.Sent(now)
		w.add(o.Command)
	}
	h.sendReliable(p, &w, now)
	h.sendUnreliable(p, &w, now)
	w.flush()

	switch {
	case p.state == StateAcknowledgingConnect && p.initiator:
		h.notifyConnect(p)
	case p.state == StateAcknowledgingDisconnect:
		h.notifyDisconnect(p, p.disconnectData, nil)
	case p.state == StateDisconnectLater && p.idle():
		h.disconnect(p, p.disconnectData)
	}
}

// sendReliable moves queued reliable commands into flight while the window
// allows, always letting at least one through.
func (h *Host) sendReliable(p *peer, w *packer, now uint32) {
	window := p.reliableWindow()
	for len(p.reliable) > 0 {
		c := p.reliable[0]
		if p.sent.Len() > 0 && p.sent.InTransit()+protocol.EncodedSize(c) > window {
			return
		}
		limit := h.cfg.RetryLimit
		if c.Header().Command == protocol.KindConnect {
			limit = h.cfg.ConnectRetryLimit
		}
		p.sent.Add(c, now, p.rtt.Timeout(), limit)
		p.throttle.Sent(now)
		w.add(c)
		p.reliable[0] = nil
		p.reliable = p.reliable[1:]
	}
}

func (h *Host) sendUnreliable(p *peer, w *packer, now uint32) {
	for _, m := range p.unreliable {
		if !p.throttle.Admit() || !p.limiter.Allow(now, m.size) {
			h.stats.ThrottleDropped++
			continue
		}
		for _, c := range m.cmds {
			w.add(c)
		}
	}
	clear(p.unreliable)
	p.unreliable = p.unreliable[:0]
}

// packer accumulates commands for one peer and emits a datagram whenever the
// next command would exceed the MTU or the per-datagram command limit.
type packer struct {
	h        *Host
	p        *peer
	now      uint32
	capacity int

	cmds     []protocol.Command
	size     int
	reliable bool
}

func (w *packer) add(c protocol.Command) {
	n := protocol.EncodedSize(c)
	if len(w.cmds) == protocol.MaximumPacketCommands || (len(w.cmds) > 0 && w.size+n > w.capacity) {
		w.flush()
	}
	w.cmds = append(w.cmds, c)
	w.size += n
	if c.Header().NeedsAcknowledge() {
		w.reliable = true
	}
}

func (w *packer) flush() {
	if len(w.cmds) == 0 {
		return
	}
	w.h.emit(w.p, w.now, w.cmds, w.reliable)
	w.cmds = w.cmds[:0]
	w.size = 0
	w.reliable = false
}

// emit encodes cmds into one datagram addressed to p. The sent time is
// included whenever a command asks for acknowledgment.
func (h *Host) emit(p *peer, now uint32, cmds []protocol.Command, sentTime bool) {
	hdr := protocol.Header{
		PeerID:      p.outgoingPeerID,
		HasSentTime: sentTime,
		SentTime:    uint16(now),
	}
	if p.outgoingPeerID < protocol.MaximumPeerID {
		hdr.SessionID = p.outgoingSessionID
	}
	if h.withIntegrity() {
		hdr.Integrity = *h.cfg.Integrity
	}

	b, err := protocol.AppendDatagram(nil, protocol.Datagram{Header: hdr, Commands: cmds}, h.withIntegrity())
	if err != nil {
		h.log.Warn("dropping unencodable datagram", zap.Stringer("peer", p.handle()), zap.Error(err))
		return
	}
	h.out = append(h.out, Datagram{Addr: p.addr, Data: b})
	h.stats.DatagramsSent++
}
