package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errKindMismatch = errors.New("command kind does not match variant")

// kindMatches reports whether the header kind of c is one the variant can
// encode.
func kindMatches(c Command) bool {
	k := c.Header().Command
	switch c.(type) {
	case *Acknowledge:
		return k == KindAcknowledge
	case *Connect:
		return k == KindConnect
	case *VerifyConnect:
		return k == KindVerifyConnect
	case *Disconnect:
		return k == KindDisconnect
	case *Ping:
		return k == KindPing
	case *SendReliable:
		return k == KindSendReliable
	case *SendUnreliable:
		return k == KindSendUnreliable
	case *SendFragment:
		return k == KindSendFragment || k == KindSendUnreliableFragment
	case *SendUnsequenced:
		return k == KindSendUnsequenced
	case *BandwidthLimit:
		return k == KindBandwidthLimit
	case *ThrottleConfigure:
		return k == KindThrottleConfigure
	default:
		return false
	}
}

// EncodedSize returns the number of bytes c occupies on the wire.
func EncodedSize(c Command) int {
	return CommandSize(c.Header().Command) + len(c.payload())
}

// AppendCommand appends the encoding of c to b.
func AppendCommand(b []byte, c Command) ([]byte, error) {
	h := c.Header()
	if !kindMatches(c) {
		return b, fmt.Errorf("%w: %s", errKindMismatch, h.Command)
	}
	if len(c.payload()) > 0xFFFF {
		return b, ErrPayloadTooLarge
	}

	b = append(b, uint8(h.Command)&CommandMask|h.Flags&(FlagAcknowledge|FlagUnsequenced), h.ChannelID)
	b = binary.BigEndian.AppendUint16(b, h.ReliableSequenceNumber)
	b = c.appendFields(b)
	return append(b, c.payload()...), nil
}

// EncodeCommand returns the encoding of c.
func EncodeCommand(c Command) ([]byte, error) {
	return AppendCommand(make([]byte, 0, EncodedSize(c)), c)
}

// DecodeCommand parses the command starting at b[offset] and returns it
// along with the number of bytes consumed. Payloads alias b.
func DecodeCommand(b []byte, offset int) (Command, int, error) {
	if offset < 0 || offset > len(b) {
		return nil, 0, fmt.Errorf("%w: offset %d outside %d bytes", ErrTruncatedCommand, offset, len(b))
	}
	rest := b[offset:]
	if len(rest) < CommandHeaderSize {
		return nil, 0, fmt.Errorf("%w: %d bytes left for command header", ErrTruncatedCommand, len(rest))
	}

	kind := Kind(rest[0] & CommandMask)
	c := newCommand(kind)
	if c == nil {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownCommand, kind)
	}
	size := CommandSize(kind)
	if len(rest) < size {
		return nil, 0, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncatedCommand, kind, size, len(rest))
	}

	h := c.Header()
	h.Command = kind
	h.Flags = rest[0] & (FlagAcknowledge | FlagUnsequenced)
	h.ChannelID = rest[1]
	h.ReliableSequenceNumber = binary.BigEndian.Uint16(rest[2:])

	dataLength := c.decodeFields(rest[CommandHeaderSize:size])
	if dataLength > len(rest)-size {
		return nil, 0, fmt.Errorf("%w: %s declares %d payload bytes, have %d", ErrTruncatedCommand, kind, dataLength, len(rest)-size)
	}
	if dataLength > 0 {
		c.setPayload(rest[size : size+dataLength : size+dataLength])
	}
	return c, size + dataLength, nil
}

// Datagram is a decoded protocol header with its commands.
type Datagram struct {
	Header   Header
	Commands []Command
}

// AppendDatagram appends the header and commands to b.
func AppendDatagram(b []byte, d Datagram, withIntegrity bool) ([]byte, error) {
	if len(d.Commands) > MaximumPacketCommands {
		return b, fmt.Errorf("datagram holds %d commands, limit is %d", len(d.Commands), MaximumPacketCommands)
	}
	b = AppendHeader(b, d.Header, withIntegrity)
	for _, c := range d.Commands {
		var err error
		if b, err = AppendCommand(b, c); err != nil {
			return b, err
		}
	}
	return b, nil
}

// DecodeDatagram parses a header and up to MaximumPacketCommands commands.
// Any decode error aborts the whole datagram.
func DecodeDatagram(b []byte, withIntegrity bool) (Datagram, error) {
	h, off, err := DecodeHeader(b, withIntegrity)
	if err != nil {
		return Datagram{}, err
	}

	d := Datagram{Header: h}
	for off < len(b) && len(d.Commands) < MaximumPacketCommands {
		c, n, err := DecodeCommand(b, off)
		if err != nil {
			return Datagram{}, err
		}
		off += n
		d.Commands = append(d.Commands, c)
	}
	return d, nil
}
