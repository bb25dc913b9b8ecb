package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader  = errors.New("malformed protocol header")
	ErrTruncatedCommand = errors.New("truncated command")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrPayloadTooLarge  = errors.New("payload exceeds 65535 bytes")
)

// Header layout:
//
//	[integrity u16 x3]  only in the integrity variant
//	peer word u16       peer id (bits 0-11), session (12-13), compressed (14), sent time (15)
//	[sent time u16]     only when the sent time flag is set
const (
	headerMinSize  = 2
	headerMaxSize  = 4
	integritySize  = 6
	sentTimeOffset = 2
)

// Header is the per-datagram protocol header.
type Header struct {
	PeerID      uint16
	SessionID   uint8
	Compressed  bool
	HasSentTime bool
	SentTime    uint16

	// Integrity is encoded ahead of the peer word when the codec runs in
	// the integrity variant; it is ignored otherwise.
	Integrity [3]uint16
}

// HeaderSize returns the encoded size of a header.
func HeaderSize(hasSentTime, withIntegrity bool) int {
	n := headerMinSize
	if hasSentTime {
		n = headerMaxSize
	}
	if withIntegrity {
		n += integritySize
	}
	return n
}

// MaxHeaderSize is the worst-case header size for the given variant.
func MaxHeaderSize(withIntegrity bool) int {
	return HeaderSize(true, withIntegrity)
}

func (h Header) word() uint16 {
	w := h.PeerID&MaximumPeerID | uint16(h.SessionID&3)<<HeaderSessionShift
	if h.Compressed {
		w |= HeaderFlagCompressed
	}
	if h.HasSentTime {
		w |= HeaderFlagSentTime
	}
	return w
}

// AppendHeader appends the encoding of h to b.
func AppendHeader(b []byte, h Header, withIntegrity bool) []byte {
	if withIntegrity {
		for _, w := range h.Integrity {
			b = binary.BigEndian.AppendUint16(b, w)
		}
	}
	b = binary.BigEndian.AppendUint16(b, h.word())
	if h.HasSentTime {
		b = binary.BigEndian.AppendUint16(b, h.SentTime)
	}
	return b
}

// EncodeHeader returns the encoding of h.
func EncodeHeader(h Header, withIntegrity bool) []byte {
	return AppendHeader(make([]byte, 0, HeaderSize(h.HasSentTime, withIntegrity)), h, withIntegrity)
}

// DecodeHeader parses a header from the start of b and returns it together
// with the number of bytes it occupies.
func DecodeHeader(b []byte, withIntegrity bool) (Header, int, error) {
	var h Header
	off := 0
	if withIntegrity {
		if len(b) < integritySize+headerMinSize {
			return Header{}, 0, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(b))
		}
		for i := range h.Integrity {
			h.Integrity[i] = binary.BigEndian.Uint16(b[2*i:])
		}
		off = integritySize
	}
	if len(b) < off+headerMinSize {
		return Header{}, 0, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(b))
	}

	w := binary.BigEndian.Uint16(b[off:])
	h.PeerID = w & MaximumPeerID
	h.SessionID = uint8((w & HeaderSessionMask) >> HeaderSessionShift)
	h.Compressed = w&HeaderFlagCompressed != 0
	h.HasSentTime = w&HeaderFlagSentTime != 0
	off += headerMinSize

	if h.HasSentTime {
		if len(b) < off+sentTimeOffset {
			return Header{}, 0, fmt.Errorf("%w: missing sent time", ErrMalformedHeader)
		}
		h.SentTime = binary.BigEndian.Uint16(b[off:])
		off += sentTimeOffset
	}
	return h, off, nil
}
