package protocol

import "encoding/binary"

// CommandHeader is the envelope shared by every command.
type CommandHeader struct {
	Command                Kind
	Flags                  uint8 // FlagAcknowledge | FlagUnsequenced
	ChannelID              uint8
	ReliableSequenceNumber uint16
}

// Header returns h. It is promoted to every command variant.
func (h *CommandHeader) Header() *CommandHeader { return h }

// NeedsAcknowledge reports whether the sender asked for an ACKNOWLEDGE.
func (h *CommandHeader) NeedsAcknowledge() bool { return h.Flags&FlagAcknowledge != 0 }

// Command is one of the command variants defined in this package.
type Command interface {
	Header() *CommandHeader

	// appendFields appends everything after the command header, including
	// the dataLength field of data commands but not their payload.
	appendFields(b []byte) []byte
	// decodeFields parses b, which holds exactly the fixed portion after the
	// command header, and returns the declared payload length.
	decodeFields(b []byte) int
	payload() []byte
	setPayload(p []byte)
}

// noPayload is embedded by commands that carry no data.
type noPayload struct{}

func (noPayload) payload() []byte   { return nil }
func (noPayload) setPayload([]byte) {}

// Acknowledge confirms receipt of a reliable command and echoes the sent
// time of the datagram that carried it.
type Acknowledge struct {
	CommandHeader
	noPayload
	ReceivedReliableSequenceNumber uint16
	ReceivedSentTime               uint16
}

func (c *Acknowledge) appendFields(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, c.ReceivedReliableSequenceNumber)
	return binary.BigEndian.AppendUint16(b, c.ReceivedSentTime)
}

func (c *Acknowledge) decodeFields(b []byte) int {
	c.ReceivedReliableSequenceNumber = binary.BigEndian.Uint16(b[0:])
	c.ReceivedSentTime = binary.BigEndian.Uint16(b[2:])
	return 0
}

// Negotiation holds the connection parameters carried by CONNECT and
// VERIFY_CONNECT.
type Negotiation struct {
	OutgoingPeerID             uint16
	IncomingSessionID          uint8
	OutgoingSessionID          uint8
	MTU                        uint32
	WindowSize                 uint32
	ChannelCount               uint32
	IncomingBandwidth          uint32
	OutgoingBandwidth          uint32
	PacketThrottleInterval     uint32
	PacketThrottleAcceleration uint32
	PacketThrottleDeceleration uint32
	ConnectID                  uint32
}

func (n *Negotiation) append(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, n.OutgoingPeerID)
	b = append(b, n.IncomingSessionID, n.OutgoingSessionID)
	for _, v := range [...]uint32{
		n.MTU, n.WindowSize, n.ChannelCount,
		n.IncomingBandwidth, n.OutgoingBandwidth,
		n.PacketThrottleInterval, n.PacketThrottleAcceleration, n.PacketThrottleDeceleration,
		n.ConnectID,
	} {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return b
}

func (n *Negotiation) decode(b []byte) []byte {
	n.OutgoingPeerID = binary.BigEndian.Uint16(b[0:])
	n.IncomingSessionID = b[2]
	n.OutgoingSessionID = b[3]
	b = b[4:]
	for _, p := range [...]*uint32{
		&n.MTU, &n.WindowSize, &n.ChannelCount,
		&n.IncomingBandwidth, &n.OutgoingBandwidth,
		&n.PacketThrottleInterval, &n.PacketThrottleAcceleration, &n.PacketThrottleDeceleration,
		&n.ConnectID,
	} {
		*p = binary.BigEndian.Uint32(b)
		b = b[4:]
	}
	return b
}

// Connect opens a connection. Data is an application value delivered with
// the connect event on the remote side.
type Connect struct {
	CommandHeader
	noPayload
	Negotiation
	Data uint32
}

func (c *Connect) appendFields(b []byte) []byte {
	b = c.Negotiation.append(b)
	return binary.BigEndian.AppendUint32(b, c.Data)
}

func (c *Connect) decodeFields(b []byte) int {
	rest := c.Negotiation.decode(b)
	c.Data = binary.BigEndian.Uint32(rest)
	return 0
}

// VerifyConnect answers a Connect with the responder's reconciled
// parameters.
type VerifyConnect struct {
	CommandHeader
	noPayload
	Negotiation
}

func (c *VerifyConnect) appendFields(b []byte) []byte { return c.Negotiation.append(b) }

func (c *VerifyConnect) decodeFields(b []byte) int {
	c.Negotiation.decode(b)
	return 0
}

// Disconnect ends a connection with an application reason code.
type Disconnect struct {
	CommandHeader
	noPayload
	Data uint32
}

func (c *Disconnect) appendFields(b []byte) []byte { return binary.BigEndian.AppendUint32(b, c.Data) }

func (c *Disconnect) decodeFields(b []byte) int {
	c.Data = binary.BigEndian.Uint32(b)
	return 0
}

// Ping is an empty reliable keep-alive.
type Ping struct {
	CommandHeader
	noPayload
}

func (c *Ping) appendFields(b []byte) []byte { return b }
func (c *Ping) decodeFields([]byte) int      { return 0 }

// SendReliable carries an ordered, reliable payload.
type SendReliable struct {
	CommandHeader
	Data []byte
}

func (c *SendReliable) appendFields(b []byte) []byte {
	return binary.BigEndian.AppendUint16(b, uint16(len(c.Data)))
}

func (c *SendReliable) decodeFields(b []byte) int { return int(binary.BigEndian.Uint16(b)) }
func (c *SendReliable) payload() []byte          { return c.Data }
func (c *SendReliable) setPayload(p []byte)      { c.Data = p }

// SendUnreliable carries a sequenced payload that may be dropped.
type SendUnreliable struct {
	CommandHeader
	UnreliableSequenceNumber uint16
	Data                     []byte
}

func (c *SendUnreliable) appendFields(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, c.UnreliableSequenceNumber)
	return binary.BigEndian.AppendUint16(b, uint16(len(c.Data)))
}

func (c *SendUnreliable) decodeFields(b []byte) int {
	c.UnreliableSequenceNumber = binary.BigEndian.Uint16(b[0:])
	return int(binary.BigEndian.Uint16(b[2:]))
}

func (c *SendUnreliable) payload() []byte     { return c.Data }
func (c *SendUnreliable) setPayload(p []byte) { c.Data = p }

// SendUnsequenced carries an unordered payload. UnsequencedGroup is used by
// the receiver for duplicate suppression only.
type SendUnsequenced struct {
	CommandHeader
	UnsequencedGroup uint16
	Data             []byte
}

func (c *SendUnsequenced) appendFields(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, c.UnsequencedGroup)
	return binary.BigEndian.AppendUint16(b, uint16(len(c.Data)))
}

func (c *SendUnsequenced) decodeFields(b []byte) int {
	c.UnsequencedGroup = binary.BigEndian.Uint16(b[0:])
	return int(binary.BigEndian.Uint16(b[2:]))
}

func (c *SendUnsequenced) payload() []byte     { return c.Data }
func (c *SendUnsequenced) setPayload(p []byte) { c.Data = p }

// SendFragment carries one fragment of an oversized message. The header
// kind is KindSendFragment for reliable messages and
// KindSendUnreliableFragment for unreliable ones.
type SendFragment struct {
	CommandHeader
	StartSequenceNumber uint16
	FragmentCount       uint32
	FragmentNumber      uint32
	TotalLength         uint32
	FragmentOffset      uint32
	Data                []byte
}

func (c *SendFragment) appendFields(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, c.StartSequenceNumber)
	b = binary.BigEndian.AppendUint16(b, uint16(len(c.Data)))
	b = binary.BigEndian.AppendUint32(b, c.FragmentCount)
	b = binary.BigEndian.AppendUint32(b, c.FragmentNumber)
	b = binary.BigEndian.AppendUint32(b, c.TotalLength)
	return binary.BigEndian.AppendUint32(b, c.FragmentOffset)
}

func (c *SendFragment) decodeFields(b []byte) int {
	c.StartSequenceNumber = binary.BigEndian.Uint16(b[0:])
	n := int(binary.BigEndian.Uint16(b[2:]))
	c.FragmentCount = binary.BigEndian.Uint32(b[4:])
	c.FragmentNumber = binary.BigEndian.Uint32(b[8:])
	c.TotalLength = binary.BigEndian.Uint32(b[12:])
	c.FragmentOffset = binary.BigEndian.Uint32(b[16:])
	return n
}

func (c *SendFragment) payload() []byte     { return c.Data }
func (c *SendFragment) setPayload(p []byte) { c.Data = p }

// Reliable reports whether the fragment belongs to a reliable message.
func (c *SendFragment) Reliable() bool { return c.Command == KindSendFragment }

// BandwidthLimit renegotiates bandwidth caps mid-session.
type BandwidthLimit struct {
	CommandHeader
	noPayload
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
}

func (c *BandwidthLimit) appendFields(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, c.IncomingBandwidth)
	return binary.BigEndian.AppendUint32(b, c.OutgoingBandwidth)
}

func (c *BandwidthLimit) decodeFields(b []byte) int {
	c.IncomingBandwidth = binary.BigEndian.Uint32(b[0:])
	c.OutgoingBandwidth = binary.BigEndian.Uint32(b[4:])
	return 0
}

// ThrottleConfigure renegotiates packet throttle parameters mid-session.
type ThrottleConfigure struct {
	CommandHeader
	noPayload
	PacketThrottleInterval     uint32
	PacketThrottleAcceleration uint32
	PacketThrottleDeceleration uint32
}

func (c *ThrottleConfigure) appendFields(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, c.PacketThrottleInterval)
	b = binary.BigEndian.AppendUint32(b, c.PacketThrottleAcceleration)
	return binary.BigEndian.AppendUint32(b, c.PacketThrottleDeceleration)
}

func (c *ThrottleConfigure) decodeFields(b []byte) int {
	c.PacketThrottleInterval = binary.BigEndian.Uint32(b[0:])
	c.PacketThrottleAcceleration = binary.BigEndian.Uint32(b[4:])
	c.PacketThrottleDeceleration = binary.BigEndian.Uint32(b[8:])
	return 0
}

// newCommand returns an empty variant for kind k.
func newCommand(k Kind) Command {
	switch k {
	case KindAcknowledge:
		return &Acknowledge{}
	case KindConnect:
		return &Connect{}
	case KindVerifyConnect:
		return &VerifyConnect{}
	case KindDisconnect:
		return &Disconnect{}
	case KindPing:
		return &Ping{}
	case KindSendReliable:
		return &SendReliable{}
	case KindSendUnreliable:
		return &SendUnreliable{}
	case KindSendFragment, KindSendUnreliableFragment:
		return &SendFragment{}
	case KindSendUnsequenced:
		return &SendUnsequenced{}
	case KindBandwidthLimit:
		return &BandwidthLimit{}
	case KindThrottleConfigure:
		return &ThrottleConfigure{}
	default:
		return nil
	}
}
