package host

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/die-net/enet/internal/channel"
	"github.com/die-net/enet/internal/protocol"
	"github.com/die-net/enet/internal/throttle"
)

const (
	DefaultPeerCount         = 64
	DefaultMTU               = 1392
	DefaultPingInterval      = 500
	DefaultRetryLimit        = 8
	DefaultConnectRetryLimit = 5
	DefaultMaxTimeout        = 8000
)

// Config holds the limits a Host enforces and advertises. Zero values select
// the defaults.
type Config struct {
	Logger *zap.Logger

	PeerCount    int
	ChannelLimit int
	MTU          uint32

	// Bandwidth caps in bytes per second; zero is unlimited.
	IncomingBandwidth uint32
	OutgoingBandwidth uint32

	ThrottleInterval     uint32
	ThrottleAcceleration uint32
	ThrottleDeceleration uint32

	// Timing in milliseconds of the caller's clock.
	PingInterval uint32
	MaxTimeout   uint32

	RetryLimit        int
	ConnectRetryLimit int

	MaxMessageSize uint32

	// Integrity, when set, selects the header variant carrying a three word
	// marker. Datagrams with any other marker are dropped.
	Integrity *[3]uint16

	// ConnectID returns the nonce for each outgoing connection attempt.
	ConnectID func() uint32
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.PeerCount == 0 {
		c.PeerCount = DefaultPeerCount
	}
	if c.ChannelLimit == 0 {
		c.ChannelLimit = protocol.MaximumChannelCount
	}
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.ThrottleInterval == 0 {
		c.ThrottleInterval = throttle.DefaultInterval
	}
	if c.ThrottleAcceleration == 0 {
		c.ThrottleAcceleration = throttle.DefaultAcceleration
	}
	if c.ThrottleDeceleration == 0 {
		c.ThrottleDeceleration = throttle.DefaultDeceleration
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.ConnectRetryLimit == 0 {
		c.ConnectRetryLimit = DefaultConnectRetryLimit
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = channel.DefaultMaxMessageSize
	}
	if c.ConnectID == nil {
		c.ConnectID = rand.Uint32
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.PeerCount < 1 || c.PeerCount > protocol.MaximumPeerID:
		return fmt.Errorf("%w: peer count %d outside [1, %d]", ErrInvalidConfig, c.PeerCount, protocol.MaximumPeerID)
	case c.ChannelLimit < protocol.MinimumChannelCount || c.ChannelLimit > protocol.MaximumChannelCount:
		return fmt.Errorf("%w: channel limit %d outside [%d, %d]", ErrInvalidConfig, c.ChannelLimit, protocol.MinimumChannelCount, protocol.MaximumChannelCount)
	case c.MTU < protocol.MinimumMTU || c.MTU > protocol.MaximumMTU:
		return fmt.Errorf("%w: mtu %d outside [%d, %d]", ErrInvalidConfig, c.MTU, protocol.MinimumMTU, protocol.MaximumMTU)
	case c.RetryLimit < 0 || c.ConnectRetryLimit < 0:
		return fmt.Errorf("%w: negative retry limit", ErrInvalidConfig)
	}
	return nil
}

func clampMTU(mtu uint32) uint32 {
	return min(max(mtu, protocol.MinimumMTU), protocol.MaximumMTU)
}
