package socks5

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

var errServerAuth = errors.New("socks5 client authentication failed")

// ServerNegotiate handles method selection on the proxy side. When auth has
// a username the client must offer and pass username/password
// authentication.
func ServerNegotiate(conn net.Conn, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	if auth.Username != "" {
		if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
			writeNoAcceptableMethods(conn)
			return fmt.Errorf("%w: client does not offer username/password", errServerAuth)
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
			return fmt.Errorf("negotiation reply: %w", err)
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return fmt.Errorf("%w: bad credentials for %q", errServerAuth, urq.Uname)
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		return nil
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		writeNoAcceptableMethods(conn)
		return fmt.Errorf("%w: client does not offer no-auth", errServerAuth)
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// Request is a parsed client request.
type Request struct {
	Cmd byte
	Dst netip.AddrPort
}

// ServerReadRequest reads one client request. Domain destinations must be
// literal IP addresses.
func ServerReadRequest(conn net.Conn) (Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return Request{}, fmt.Errorf("request: %w", err)
	}
	dst, err := decodeAddrPort(req.Atyp, req.DstAddr, req.DstPort)
	if err != nil {
		return Request{Cmd: req.Cmd}, fmt.Errorf("request destination: %w", err)
	}
	return Request{Cmd: req.Cmd, Dst: dst}, nil
}
