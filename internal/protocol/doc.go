// Package protocol implements the enet wire format.
//
// A datagram is a protocol header followed by up to MaximumPacketCommands
// commands. Every command starts with a four byte command header (kind and
// flag bits, channel id, reliable sequence number) followed by fixed fields
// specific to the command kind and, for data commands, a length-prefixed
// payload. All integers are big-endian.
//
// Commands are modeled as a closed set of variant types implementing
// [Command]. Decoding never reads past the end of the buffer and reports
// [ErrMalformedHeader], [ErrTruncatedCommand] or [ErrUnknownCommand] for
// input that cannot be parsed; callers are expected to drop such datagrams.
package protocol
