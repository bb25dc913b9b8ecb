package socks5

import (
	"fmt"
	"io"
)

// ClientAssociate drives s over a blocking control connection until it
// connects or fails, and returns the relay the proxy assigned. The caller
// keeps conn open for as long as the association is used.
func ClientAssociate(conn io.ReadWriter, s *Session) (Relay, error) {
	if err := s.Start(); err != nil {
		return Relay{}, err
	}

	buf := make([]byte, 512)
	for {
		s.Step()
		if out := s.Outgoing(); len(out) > 0 {
			if _, err := conn.Write(out); err != nil {
				s.Abort(fmt.Errorf("write to proxy: %w", err))
			}
		}

		switch s.State() {
		case StateConnected:
			r, _ := s.Relay()
			return r, nil
		case StateConnectionFailed:
			return Relay{}, s.Err()
		}

		n, err := conn.Read(buf)
		if n > 0 {
			_ = s.Feed(buf[:n])
		}
		if err != nil && !s.Done() {
			s.Abort(fmt.Errorf("read from proxy in %s: %w", s.State(), err))
		}
	}
}
