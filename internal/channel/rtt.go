package channel

// DefaultRoundTripTime is the estimate used before the first sample.
const DefaultRoundTripTime = 500

// RTT is a smoothed round-trip time estimator in milliseconds.
type RTT struct {
	Smoothed uint32
	Variance uint32
	Last     uint32
}

// NewRTT returns an estimator seeded with DefaultRoundTripTime.
func NewRTT() RTT {
	return RTT{Smoothed: DefaultRoundTripTime, Last: DefaultRoundTripTime}
}

// Sample folds one measured round trip into the estimate.
func (r *RTT) Sample(rtt uint32) {
	rtt = max(rtt, 1)
	r.Last = rtt
	r.Variance -= r.Variance / 4
	if rtt >= r.Smoothed {
		diff := rtt - r.Smoothed
		r.Smoothed += diff / 8
		r.Variance += diff / 4
	} else {
		diff := r.Smoothed - rtt
		r.Smoothed -= diff / 8
		r.Variance += diff / 4
	}
}

// Timeout returns the retransmission timeout for a fresh command.
func (r *RTT) Timeout() uint32 {
	return r.Smoothed + 4*r.Variance
}

// ExpandSentTime reconstructs a full millisecond timestamp from the low 16
// bits echoed in an acknowledgment, assuming it lies in the recent past of
// now.
func ExpandSentTime(now uint32, sent uint16) uint32 {
	t := uint32(sent) | now&0xFFFF0000
	if t&0x8000 > now&0x8000 {
		t -= 0x10000
	}
	return t
}
