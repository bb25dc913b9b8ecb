package throttle

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/die-net/enet/internal/protocol"
)

// windowSizeScale is the bandwidth, in bytes per second, that earns one
// MinimumWindowSize of reliable data in transit.
const windowSizeScale = 64 * 1024

// AdmittedRate returns the send rate allowed toward a peer: the smaller of
// the local outgoing cap and the peer's advertised incoming cap. Zero means
// unlimited.
func AdmittedRate(localOutgoing, peerIncoming uint32) uint32 {
	switch {
	case localOutgoing == 0:
		return peerIncoming
	case peerIncoming == 0:
		return localOutgoing
	default:
		return min(localOutgoing, peerIncoming)
	}
}

// WindowSize derives a reliable window from the bandwidth admitted between
// a local cap and a peer cap. Unlimited on both sides yields the maximum
// window.
func WindowSize(local, peer uint32) uint32 {
	bw := AdmittedRate(local, peer)
	if bw == 0 {
		return protocol.MaximumWindowSize
	}
	return clampWindow(bw / windowSizeScale * protocol.MinimumWindowSize)
}

// ClampWindow limits w to the protocol's window bounds.
func ClampWindow(w uint32) uint32 { return clampWindow(w) }

func clampWindow(w uint32) uint32 {
	return min(max(w, protocol.MinimumWindowSize), protocol.MaximumWindowSize)
}

// Limiter caps unreliable bytes sent to a peer using the host's
// millisecond clock.
type Limiter struct {
	rate uint32
	l    *rate.Limiter
}

// NewLimiter returns a limiter for bytesPerSecond; zero is unlimited.
func NewLimiter(bytesPerSecond uint32) *Limiter {
	l := &Limiter{}
	l.SetRate(bytesPerSecond)
	return l
}

// SetRate changes the cap. The burst allowance is one second of traffic but
// never less than a full datagram.
func (l *Limiter) SetRate(bytesPerSecond uint32) {
	l.rate = bytesPerSecond
	if bytesPerSecond == 0 {
		l.l = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := max(int(bytesPerSecond), protocol.MaximumMTU)
	l.l = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Rate returns the configured cap.
func (l *Limiter) Rate() uint32 { return l.rate }

// Allow reports whether n bytes may be sent at now and consumes them if so.
func (l *Limiter) Allow(now uint32, n int) bool {
	return l.l.AllowN(time.UnixMilli(int64(now)), n)
}
