package protocol

// Protocol limits shared by both ends of a connection.
const (
	MinimumMTU            = 576
	MaximumMTU            = 4096
	MaximumPacketCommands = 32
	MinimumWindowSize     = 4096
	MaximumWindowSize     = 65536
	MinimumChannelCount   = 1
	MaximumChannelCount   = 255
	MaximumPeerID         = 0xFFF
	MaximumFragmentCount  = 1024 * 1024
)

// ControlChannel is the channel id carried by connection-management
// commands (CONNECT, VERIFY_CONNECT, DISCONNECT, PING, BANDWIDTH_LIMIT,
// THROTTLE_CONFIGURE). Those commands are sequenced per peer rather than
// per channel.
const ControlChannel = 0xFF

// Command header flag bits, stored in the high bits of the command byte.
const (
	FlagAcknowledge uint8 = 1 << 7
	FlagUnsequenced uint8 = 1 << 6

	CommandMask uint8 = 0x0F
)

// Protocol header bits, stored around the 12-bit peer id.
const (
	HeaderFlagCompressed uint16 = 1 << 14
	HeaderFlagSentTime   uint16 = 1 << 15
	HeaderFlagMask              = HeaderFlagCompressed | HeaderFlagSentTime

	HeaderSessionMask  uint16 = 3 << 12
	HeaderSessionShift        = 12
)

// Kind identifies a command variant.
type Kind uint8

const (
	KindNone Kind = iota
	KindAcknowledge
	KindConnect
	KindVerifyConnect
	KindDisconnect
	KindPing
	KindSendReliable
	KindSendUnreliable
	KindSendFragment
	KindSendUnsequenced
	KindBandwidthLimit
	KindThrottleConfigure
	KindSendUnreliableFragment

	kindCount
)

var kindNames = [kindCount]string{
	KindNone:                   "NONE",
	KindAcknowledge:            "ACKNOWLEDGE",
	KindConnect:                "CONNECT",
	KindVerifyConnect:          "VERIFY_CONNECT",
	KindDisconnect:             "DISCONNECT",
	KindPing:                   "PING",
	KindSendReliable:           "SEND_RELIABLE",
	KindSendUnreliable:         "SEND_UNRELIABLE",
	KindSendFragment:           "SEND_FRAGMENT",
	KindSendUnsequenced:        "SEND_UNSEQUENCED",
	KindBandwidthLimit:         "BANDWIDTH_LIMIT",
	KindThrottleConfigure:      "THROTTLE_CONFIGURE",
	KindSendUnreliableFragment: "SEND_UNRELIABLE_FRAGMENT",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// Valid reports whether k names a command that may appear on the wire.
func (k Kind) Valid() bool {
	return k > KindNone && k < kindCount
}

// commandSizes holds the fixed encoded size of each command kind, command
// header included and payload excluded.
var commandSizes = [kindCount]int{
	KindNone:                   0,
	KindAcknowledge:            8,
	KindConnect:                48,
	KindVerifyConnect:          44,
	KindDisconnect:             8,
	KindPing:                   4,
	KindSendReliable:           6,
	KindSendUnreliable:         8,
	KindSendFragment:           24,
	KindSendUnsequenced:        8,
	KindBandwidthLimit:         12,
	KindThrottleConfigure:      16,
	KindSendUnreliableFragment: 24,
}

// CommandSize returns the fixed size of a command of kind k, or 0 for an
// invalid kind.
func CommandSize(k Kind) int {
	if k >= kindCount {
		return 0
	}
	return commandSizes[k]
}

// CommandHeaderSize is the size of the header shared by every command.
const CommandHeaderSize = 4
