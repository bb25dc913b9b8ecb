package throttle

// Scale is the fixed-point range of the throttle value; a value of Scale
// admits every unreliable command.
const Scale = 32

// Defaults advertised in CONNECT when the host does not override them.
const (
	DefaultInterval     = 5000
	DefaultAcceleration = 2
	DefaultDeceleration = 2
)

// counterStep spreads admissions evenly over the scale.
const counterStep = 7

// Throttle adapts the fraction of unreliable commands sent to the fraction of
// reliable commands acknowledged.
//
// Every Interval milliseconds the ratio of acknowledged to sent reliable
// commands is compared against 7/8. Above it, Value rises by Acceleration;
// otherwise it falls by Deceleration. Value stays within [0, Scale].
type Throttle struct {
	Interval     uint32
	Acceleration uint32
	Deceleration uint32

	Value uint32

	counter uint32
	epoch   uint32
	started bool
	sent    int
	acked   int
}

// New returns a fully open throttle.
func New(interval, acceleration, deceleration uint32) *Throttle {
	return &Throttle{
		Interval:     interval,
		Acceleration: acceleration,
		Deceleration: deceleration,
		Value:        Scale,
	}
}

// Configure replaces the adaptation parameters.
func (t *Throttle) Configure(interval, acceleration, deceleration uint32) {
	t.Interval = interval
	t.Acceleration = acceleration
	t.Deceleration = deceleration
}

// Sent records a reliable command sent at now.
func (t *Throttle) Sent(now uint32) {
	t.begin(now)
	t.sent++
}

// Acked records an acknowledgment received at now.
func (t *Throttle) Acked(now uint32) {
	t.begin(now)
	t.acked++
}

func (t *Throttle) begin(now uint32) {
	if !t.started {
		t.started = true
		t.epoch = now
	}
}

// Update closes the current interval if it has elapsed and adjusts Value.
// It reports whether an adjustment was made.
func (t *Throttle) Update(now uint32) bool {
	if !t.started || t.Interval == 0 || now-t.epoch < t.Interval {
		return false
	}
	sent, acked := t.sent, t.acked
	t.epoch, t.sent, t.acked = now, 0, 0
	if sent == 0 {
		return false
	}

	if acked*8 > sent*7 {
		t.Value = min(t.Value+t.Acceleration, Scale)
	} else if t.Value > t.Deceleration {
		t.Value -= t.Deceleration
	} else {
		t.Value = 0
	}
	return true
}

// Admit reports whether the next unreliable command should be sent.
func (t *Throttle) Admit() bool {
	if t.Value >= Scale {
		return true
	}
	t.counter = (t.counter + counterStep) % Scale
	return t.counter < t.Value
}
