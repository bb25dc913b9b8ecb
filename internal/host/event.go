package host

import "net/netip"

// Class is the delivery guarantee of a message.
type Class uint8

const (
	ClassReliable Class = iota
	ClassUnreliable
	ClassUnsequenced
)

func (c Class) String() string {
	switch c {
	case ClassReliable:
		return "reliable"
	case ClassUnreliable:
		return "unreliable"
	case ClassUnsequenced:
		return "unsequenced"
	default:
		return "unknown"
	}
}

type EventType uint8

const (
	EventNone EventType = iota
	EventConnect
	EventDisconnect
	EventReceive
	EventTimeout
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	case EventTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Event is something the application must hear about.
//
// Value is the CONNECT data word for EventConnect and the reason code for
// EventDisconnect. Err is set when a connection ended in failure.
type Event struct {
	Type      EventType
	Peer      Handle
	Addr      netip.AddrPort
	ChannelID uint8
	Class     Class
	Data      []byte
	Value     uint32
	Err       error
}

// Datagram is an encoded datagram ready to be written to Addr.
type Datagram struct {
	Addr netip.AddrPort
	Data []byte
}

// Stats counts datagrams and the reasons they or their commands were
// dropped.
type Stats struct {
	DatagramsSent     uint64
	DatagramsReceived uint64

	Malformed         uint64
	Unroutable        uint64
	SequenceRejected  uint64
	Duplicates        uint64
	FragmentOverflows uint64
	Retransmits       uint64
	ThrottleDropped   uint64
	PeerTableFull     uint64
}
