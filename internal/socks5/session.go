package socks5

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

// State is the position of a Session in the SOCKS5 client handshake.
type State int

const (
	StateNone State = iota
	StateSendAuthRequest
	StateReceiveAuthResponse
	StateSendAuthRequestUsername
	StateReceiveAuthResponseUsername
	StateSendRequest
	StateReceiveResponse
	StateConnectionFailed
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateSendAuthRequest:
		return "send-auth-request"
	case StateReceiveAuthResponse:
		return "receive-auth-response"
	case StateSendAuthRequestUsername:
		return "send-auth-request-username"
	case StateReceiveAuthResponseUsername:
		return "receive-auth-response-username"
	case StateSendRequest:
		return "send-request"
	case StateReceiveResponse:
		return "receive-response"
	case StateConnectionFailed:
		return "connection-failed"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateConnectionFailed || s == StateConnected
}

var errAlreadyStarted = errors.New("socks5 session already started")

// Config describes one UDP association.
type Config struct {
	// Proxy is the proxy's TCP control address. Its IP replaces an
	// unspecified relay address in the proxy's reply.
	Proxy netip.AddrPort
	Auth  Auth
	// Target is the address the client expects to send from, as carried in
	// the UDP ASSOCIATE request. The zero value sends 0.0.0.0:0.
	Target netip.AddrPort
}

// Session negotiates a UDP association without performing any I/O. Bytes
// returned by Outgoing are written to the control connection by the caller,
// and bytes read from it are handed to Feed.
type Session struct {
	cfg   Config
	state State
	err   error
	relay Relay

	in  []byte
	out bytes.Buffer
}

// NewSession returns a session in StateNone.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg}
}

func (s *Session) State() State { return s.state }

// Err returns the reason the session failed, or nil.
func (s *Session) Err() error { return s.err }

// Done reports whether the session reached a terminal state.
func (s *Session) Done() bool { return s.state.Terminal() }

// Relay returns the relay endpoint once the session is connected.
func (s *Session) Relay() (Relay, bool) {
	if s.state != StateConnected {
		return Relay{}, false
	}
	return s.relay, true
}

// Start begins the handshake.
func (s *Session) Start() error {
	if s.state != StateNone {
		return fmt.Errorf("%w: %s", errAlreadyStarted, s.state)
	}
	s.state = StateSendAuthRequest
	return nil
}

// Abort fails the session with err unless it already finished.
func (s *Session) Abort(err error) {
	if s.state.Terminal() {
		return
	}
	s.fail(err)
}

func (s *Session) fail(err error) {
	s.state = StateConnectionFailed
	s.err = err
	s.in = nil
	s.out.Reset()
}

// Step performs the pending send, if any, queueing its bytes for Outgoing
// and moving to the matching receive state. In other states it does
// nothing.
func (s *Session) Step() {
	switch s.state {
	case StateSendAuthRequest:
		methods := []byte{txsocks5.MethodNone, txsocks5.MethodUsernamePassword}
		_, _ = txsocks5.NewNegotiationRequest(methods).WriteTo(&s.out)
		s.state = StateReceiveAuthResponse

	case StateSendAuthRequestUsername:
		req := txsocks5.NewUserPassNegotiationRequest([]byte(s.cfg.Auth.Username), []byte(s.cfg.Auth.Password))
		_, _ = req.WriteTo(&s.out)
		s.state = StateReceiveAuthResponseUsername

	case StateSendRequest:
		target := s.cfg.Target
		if !target.IsValid() {
			target = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
		}
		if !target.Addr().Unmap().Is4() {
			s.fail(fmt.Errorf("%w: %s", ErrUnsupportedAddress, target))
			return
		}
		atyp, addr, port := encodeAddrPort(target)
		_, _ = txsocks5.NewRequest(txsocks5.CmdUDP, atyp, addr, port).WriteTo(&s.out)
		s.state = StateReceiveResponse
	}
}

// Outgoing returns and clears the bytes queued for the proxy.
func (s *Session) Outgoing() []byte {
	if s.out.Len() == 0 {
		return nil
	}
	b := bytes.Clone(s.out.Bytes())
	s.out.Reset()
	return b
}

// Feed hands bytes read from the proxy to the session. A reply split across
// several calls is held until complete. Feed parses at most up to the next
// send state; call Step to continue. It returns the session error once the
// session has failed.
func (s *Session) Feed(b []byte) error {
	if s.state == StateConnectionFailed {
		return s.err
	}
	if s.state == StateConnected {
		return nil
	}
	s.in = append(s.in, b...)

	for len(s.in) > 0 {
		r := bytes.NewReader(s.in)
		ok, err := s.parse(r)
		if err != nil {
			s.fail(err)
			return err
		}
		if !ok {
			return nil
		}
		s.in = s.in[len(s.in)-r.Len():]
		if !s.receiving() {
			return nil
		}
	}
	return nil
}

func (s *Session) receiving() bool {
	switch s.state {
	case StateReceiveAuthResponse, StateReceiveAuthResponseUsername, StateReceiveResponse:
		return true
	default:
		return false
	}
}

// parse consumes one reply from r for the current state. It returns false
// when r holds only part of a reply.
func (s *Session) parse(r *bytes.Reader) (bool, error) {
	switch s.state {
	case StateReceiveAuthResponse:
		rep, err := txsocks5.NewNegotiationReplyFrom(r)
		if err != nil {
			return partial(err)
		}
		switch rep.Method {
		case txsocks5.MethodNone:
			s.state = StateSendRequest
		case txsocks5.MethodUsernamePassword:
			if s.cfg.Auth.Username == "" {
				return false, fmt.Errorf("%w: proxy requires credentials", ErrProxyAuthFailed)
			}
			s.state = StateSendAuthRequestUsername
		default:
			return false, fmt.Errorf("%w: method %#02x", ErrProxyNoAcceptableMethod, rep.Method)
		}

	case StateReceiveAuthResponseUsername:
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(r)
		if err != nil {
			return partial(err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return false, fmt.Errorf("%w: status %#02x", ErrProxyAuthFailed, rep.Status)
		}
		s.state = StateSendRequest

	case StateReceiveResponse:
		rep, err := txsocks5.NewReplyFrom(r)
		if err != nil {
			return partial(err)
		}
		if rep.Rep != txsocks5.RepSuccess {
			return false, &ReplyError{Code: rep.Rep}
		}
		bnd, err := decodeAddrPort(rep.Atyp, rep.BndAddr, rep.BndPort)
		if err != nil {
			if rep.Atyp != txsocks5.ATYPDomain {
				return false, fmt.Errorf("relay address: %w", err)
			}
			bnd = netip.AddrPortFrom(netip.IPv4Unspecified(), portOf(rep.BndPort))
		}
		if bnd.Addr().IsUnspecified() {
			bnd = netip.AddrPortFrom(s.cfg.Proxy.Addr().Unmap(), bnd.Port())
		}
		s.relay = Relay{Addr: bnd}
		s.state = StateConnected

	default:
		return false, nil
	}
	return true, nil
}

func portOf(b []byte) uint16 {
	if len(b) != 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// partial turns a short read into a request for more input.
func partial(err error) (bool, error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return false, nil
	}
	return false, fmt.Errorf("parse proxy reply: %w", err)
}
