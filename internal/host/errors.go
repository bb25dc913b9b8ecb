package host

import "errors"

var (
	// ErrConnectionRefused ends a handshake whose VERIFY_CONNECT does not
	// match the CONNECT that was sent, or that the remote side rejected.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrConnectionTimedOut ends a connection whose reliable commands went
	// unacknowledged past the retry budget.
	ErrConnectionTimedOut = errors.New("connection timed out")
	// ErrSuperseded ends a connection replaced by a new CONNECT from the
	// same address.
	ErrSuperseded = errors.New("connection superseded by a new connect")
	// ErrSequenceRejected marks a datagram or command dropped for a stale
	// session or sequence number. It is counted, never surfaced.
	ErrSequenceRejected = errors.New("sequence rejected")

	ErrUnknownPeer    = errors.New("unknown peer")
	ErrNotConnected   = errors.New("peer not connected")
	ErrNoFreePeer     = errors.New("no free peer slot")
	ErrPacketTooLarge = errors.New("packet too large")
	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidConfig  = errors.New("invalid host config")
)

// errIgnored marks a command dropped without acknowledgment while the rest
// of its datagram is still processed.
var errIgnored = errors.New("command ignored")

// errUnexpectedCommand stops processing of a datagram carrying a command
// the peer's state does not allow.
var errUnexpectedCommand = errors.New("unexpected command for peer state")
