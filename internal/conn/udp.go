package conn

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// UDPOptions are socket options applied before the UDP socket is bound.
// Zero buffer sizes keep the system defaults.
type UDPOptions struct {
	ReadBuffer  int
	WriteBuffer int
	ReuseAddr   bool
}

// ListenUDP binds a UDP socket on addr.
func ListenUDP(ctx context.Context, addr string, opts UDPOptions) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = setSockopts(fd, opts)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}

	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	uc, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected %T", addr, pc)
	}
	if err := applyBuffers(uc, opts); err != nil {
		_ = uc.Close()
		return nil, err
	}
	return uc, nil
}
