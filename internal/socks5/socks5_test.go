package socks5

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

var testProxy = netip.MustParseAddrPort("192.0.2.1:1080")

func TestClientAssociateToServer(t *testing.T) {
	tests := []struct {
		name string
		auth Auth
	}{
		{name: "no_auth"},
		{name: "user_pass", auth: Auth{Username: "user", Password: "pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			bnd := netip.MustParseAddrPort("198.51.100.7:40000")
			g := errgroup.Group{}
			g.Go(func() error {
				if err := ServerNegotiate(serverConn, tt.auth); err != nil {
					return err
				}
				req, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != CmdUDPAssociate {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				return WriteSuccessReply(serverConn, bnd)
			})

			s := NewSession(Config{Proxy: testProxy, Auth: tt.auth})
			relay, err := ClientAssociate(clientConn, s)
			if err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
			if relay.Addr != bnd {
				t.Fatalf("relay %s, want %s", relay.Addr, bnd)
			}
		})
	}
}

func TestClientAssociateAuthRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		return ServerNegotiate(serverConn, Auth{Username: "user", Password: "right"})
	})

	s := NewSession(Config{Proxy: testProxy, Auth: Auth{Username: "user", Password: "wrong"}})
	if _, err := ClientAssociate(clientConn, s); !errors.Is(err, ErrProxyAuthFailed) {
		t.Fatalf("expected ErrProxyAuthFailed, got %v", err)
	}
	if err := g.Wait(); err == nil {
		t.Fatal("expected server error")
	}
}

func TestClientAssociateConnectionClosed(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		buf := make([]byte, 16)
		_, _ = serverConn.Read(buf)
		serverConn.Close()
	}()

	s := NewSession(Config{Proxy: testProxy})
	if _, err := ClientAssociate(clientConn, s); err == nil {
		t.Fatal("expected error")
	}
	if s.State() != StateConnectionFailed {
		t.Fatalf("state %s", s.State())
	}
}

// drive feeds replies to s one step at a time and records each state it
// passes through.
func drive(t *testing.T, s *Session, replies [][]byte) ([]State, [][]byte) {
	t.Helper()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	states := []State{s.State()}
	var sent [][]byte
	for _, r := range replies {
		s.Step()
		states = append(states, s.State())
		if out := s.Outgoing(); out != nil {
			sent = append(sent, out)
		}
		if s.Done() {
			break
		}
		_ = s.Feed(r)
		states = append(states, s.State())
		if s.Done() {
			break
		}
	}
	return states, sent
}

func TestSessionNoAuth(t *testing.T) {
	s := NewSession(Config{Proxy: testProxy})
	states, sent := drive(t, s, [][]byte{
		{0x05, 0x00},
		{0x05, 0x00, 0x00, 0x01, 10, 0, 0, 1, 0x1F, 0x90},
	})

	wantStates := []State{
		StateSendAuthRequest,
		StateReceiveAuthResponse,
		StateSendRequest,
		StateReceiveResponse,
		StateConnected,
	}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
	wantSent := [][]byte{
		{0x05, 0x02, 0x00, 0x02},
		{0x05, 0x03, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
	}
	if diff := cmp.Diff(wantSent, sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}

	relay, ok := s.Relay()
	if !ok || relay.Addr != netip.MustParseAddrPort("10.0.0.1:8080") {
		t.Fatalf("relay %v %v", relay, ok)
	}
	if s.Err() != nil {
		t.Fatal(s.Err())
	}
}

func TestSessionUsernamePassword(t *testing.T) {
	s := NewSession(Config{Proxy: testProxy, Auth: Auth{Username: "ab", Password: "xyz"}})
	states, sent := drive(t, s, [][]byte{
		{0x05, 0x02},
		{0x01, 0x00},
		{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0x23, 0x28},
	})

	wantStates := []State{
		StateSendAuthRequest,
		StateReceiveAuthResponse,
		StateSendAuthRequestUsername,
		StateReceiveAuthResponseUsername,
		StateSendRequest,
		StateReceiveResponse,
		StateConnected,
	}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x01, 2, 'a', 'b', 3, 'x', 'y', 'z'}, sent[1]); diff != "" {
		t.Fatalf("userpass request (-want +got):\n%s", diff)
	}

	relay, _ := s.Relay()
	if want := netip.MustParseAddrPort("192.0.2.1:9000"); relay.Addr != want {
		t.Fatalf("unspecified relay address: got %s, want %s", relay.Addr, want)
	}
}

func TestSessionFailures(t *testing.T) {
	tests := []struct {
		name    string
		auth    Auth
		replies [][]byte
		want    error
		sends   int
	}{
		{
			name:    "no_acceptable_methods",
			replies: [][]byte{{0x05, 0xFF}},
			want:    ErrProxyNoAcceptableMethod,
			sends:   1,
		},
		{
			name:    "userpass_without_credentials",
			replies: [][]byte{{0x05, 0x02}},
			want:    ErrProxyAuthFailed,
			sends:   1,
		},
		{
			name:    "bad_credentials",
			auth:    Auth{Username: "u", Password: "p"},
			replies: [][]byte{{0x05, 0x02}, {0x01, 0x01}},
			want:    ErrProxyAuthFailed,
			sends:   2,
		},
		{
			name:    "request_rejected",
			replies: [][]byte{{0x05, 0x00}, {0x05, 0x07, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
			want:    ErrProxyRequestRejected,
			sends:   2,
		},
		{
			name:    "bad_version",
			replies: [][]byte{{0x04, 0x00}},
			sends:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(Config{Proxy: testProxy, Auth: tt.auth})
			_, sent := drive(t, s, tt.replies)
			if s.State() != StateConnectionFailed {
				t.Fatalf("state %s", s.State())
			}
			if tt.want != nil && !errors.Is(s.Err(), tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, s.Err())
			}
			if s.Err() == nil {
				t.Fatal("missing error")
			}
			if len(sent) != tt.sends {
				t.Fatalf("sent %d messages, want %d", len(sent), tt.sends)
			}
			if _, ok := s.Relay(); ok {
				t.Fatal("failed session has a relay")
			}
			s.Step()
			if s.Outgoing() != nil {
				t.Fatal("failed session produced output")
			}
		})
	}
}

func TestSessionReplyCode(t *testing.T) {
	s := NewSession(Config{Proxy: testProxy})
	drive(t, s, [][]byte{{0x05, 0x00}, {0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}})

	var re *ReplyError
	if !errors.As(s.Err(), &re) || re.Code != 0x05 {
		t.Fatalf("expected reply code 5, got %v", s.Err())
	}
}

func TestSessionPartialFeed(t *testing.T) {
	s := NewSession(Config{Proxy: testProxy})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Step()
	_ = s.Outgoing()

	for _, b := range []byte{0x05, 0x00} {
		if s.State() != StateReceiveAuthResponse {
			t.Fatalf("state %s before full reply", s.State())
		}
		if err := s.Feed([]byte{b}); err != nil {
			t.Fatal(err)
		}
	}
	if s.State() != StateSendRequest {
		t.Fatalf("state %s", s.State())
	}

	s.Step()
	_ = s.Outgoing()
	reply := []byte{0x05, 0x00, 0x00, 0x04, 0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0x04, 0x00}
	for i, b := range reply {
		if s.State() != StateReceiveResponse {
			t.Fatalf("state %s after %d bytes", s.State(), i)
		}
		if err := s.Feed([]byte{b}); err != nil {
			t.Fatal(err)
		}
	}
	relay, ok := s.Relay()
	if !ok || relay.Addr != netip.MustParseAddrPort("[2001:db8::1]:1024") {
		t.Fatalf("relay %v %v", relay, ok)
	}
}

func TestSessionFeedDoesNotStep(t *testing.T) {
	s := NewSession(Config{Proxy: testProxy})
	_ = s.Start()
	s.Step()
	_ = s.Outgoing()

	// A negotiation reply and a premature request reply in one read.
	if err := s.Feed([]byte{0x05, 0x00, 0x05, 0x00, 0x00, 0x01, 1, 2, 3, 4, 0, 80}); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateSendRequest {
		t.Fatalf("state %s", s.State())
	}
	s.Step()
	if err := s.Feed(nil); err != nil {
		t.Fatal(err)
	}
	relay, ok := s.Relay()
	if !ok || relay.Addr != netip.MustParseAddrPort("1.2.3.4:80") {
		t.Fatalf("relay %v %v", relay, ok)
	}
}

func TestSessionAbort(t *testing.T) {
	s := NewSession(Config{Proxy: testProxy})
	_ = s.Start()
	s.Step()

	cause := errors.New("control connection closed")
	s.Abort(cause)
	if s.State() != StateConnectionFailed || !errors.Is(s.Err(), cause) {
		t.Fatalf("state %s err %v", s.State(), s.Err())
	}
	if s.Outgoing() != nil {
		t.Fatal("aborted session kept output")
	}
	if err := s.Feed([]byte{0x05, 0x00}); !errors.Is(err, cause) {
		t.Fatalf("feed after abort: %v", err)
	}

	s.Abort(errors.New("second"))
	if !errors.Is(s.Err(), cause) {
		t.Fatal("abort replaced the first error")
	}
	if err := s.Start(); err == nil {
		t.Fatal("restart allowed")
	}
}

func TestSessionRejectsIPv6Target(t *testing.T) {
	s := NewSession(Config{Proxy: testProxy, Target: netip.MustParseAddrPort("[2001:db8::2]:5000")})
	drive(t, s, [][]byte{{0x05, 0x00}, nil})
	if !errors.Is(s.Err(), ErrUnsupportedAddress) {
		t.Fatalf("expected ErrUnsupportedAddress, got %v", s.Err())
	}
}

func TestStateString(t *testing.T) {
	if got := StateReceiveAuthResponseUsername.String(); got != "receive-auth-response-username" {
		t.Fatal(got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Fatal(got)
	}
}
