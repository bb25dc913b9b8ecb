package socks5

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// CmdConnect is the SOCKS5 CONNECT command value.
	CmdConnect = txsocks5.CmdConnect
	// CmdUDPAssociate is the SOCKS5 UDP ASSOCIATE command value.
	CmdUDPAssociate = txsocks5.CmdUDP

	// RepServerFailure and RepCommandNotSupported are SOCKS5 reply codes.
	RepServerFailure       = txsocks5.RepServerFailure
	RepCommandNotSupported = txsocks5.RepCommandNotSupported

	// methodNoAcceptable is the RFC 1928 method reply refusing every offer.
	methodNoAcceptable = 0xFF
)

var (
	ErrProxyAuthFailed         = errors.New("socks5 proxy authentication failed")
	ErrProxyNoAcceptableMethod = errors.New("socks5 proxy accepted no offered method")
	ErrProxyRequestRejected    = errors.New("socks5 proxy rejected request")
)

// Auth configures optional username/password authentication for SOCKS5
// negotiation.
type Auth struct {
	Username string
	Password string
}

// ReplyError carries the reply code of a rejected SOCKS5 request. It matches
// ErrProxyRequestRejected with errors.Is.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s (%#02x)", ErrProxyRequestRejected, replyText(e.Code), e.Code)
}

func (e *ReplyError) Is(target error) bool { return target == ErrProxyRequestRejected }

func replyText(code byte) string {
	switch code {
	case txsocks5.RepServerFailure:
		return "general server failure"
	case txsocks5.RepNotAllowed:
		return "connection not allowed by ruleset"
	case txsocks5.RepNetworkUnreachable:
		return "network unreachable"
	case txsocks5.RepHostUnreachable:
		return "host unreachable"
	case txsocks5.RepConnectionRefused:
		return "connection refused"
	case txsocks5.RepTTLExpired:
		return "TTL expired"
	case txsocks5.RepCommandNotSupported:
		return "command not supported"
	case txsocks5.RepAddressNotSupported:
		return "address type not supported"
	default:
		return "unassigned reply"
	}
}

// WriteReply writes a SOCKS5 reply with code rep. A failure reply carries a
// zero address of the same family as bnd.
func WriteReply(conn net.Conn, rep byte, bnd netip.AddrPort) error {
	var r *txsocks5.Reply
	if rep != txsocks5.RepSuccess {
		atyp := byte(txsocks5.ATYPIPv4)
		if bnd.Addr().Is6() && !bnd.Addr().Is4In6() {
			atyp = txsocks5.ATYPIPv6
		}
		r = newZeroAddrReply(rep, atyp)
	} else {
		atyp, addr, port := encodeAddrPort(bnd)
		r = txsocks5.NewReply(rep, atyp, addr, port)
	}
	if _, err := r.WriteTo(conn); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

// WriteSuccessReply writes a SOCKS5 success reply using bnd as the bound
// address.
func WriteSuccessReply(conn net.Conn, bnd netip.AddrPort) error {
	return WriteReply(conn, txsocks5.RepSuccess, bnd)
}

func newZeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeNoAcceptableMethods(conn net.Conn) {
	_, _ = txsocks5.NewNegotiationReply(methodNoAcceptable).WriteTo(conn)
}
