//go:build !unix

package conn

import (
	"fmt"
	"net"
)

func setSockopts(uintptr, UDPOptions) error { return nil }

func applyBuffers(c *net.UDPConn, opts UDPOptions) error {
	if opts.ReadBuffer > 0 {
		if err := c.SetReadBuffer(opts.ReadBuffer); err != nil {
			return fmt.Errorf("set read buffer: %w", err)
		}
	}
	if opts.WriteBuffer > 0 {
		if err := c.SetWriteBuffer(opts.WriteBuffer); err != nil {
			return fmt.Errorf("set write buffer: %w", err)
		}
	}
	return nil
}
