package protocol

// halfRange is the distance at which 16-bit sequence comparison becomes
// ambiguous.
const halfRange = 0x8000

// SeqLess reports whether a precedes b in 16-bit wrapping sequence space:
// b is ahead of a by less than half the range. Two numbers exactly half the
// range apart are unordered and SeqLess is false in both directions.
func SeqLess(a, b uint16) bool {
	d := b - a
	return d != 0 && d < halfRange
}

// SeqGreater reports whether a is ahead of b.
func SeqGreater(a, b uint16) bool {
	return SeqLess(b, a)
}

// SeqDistance returns how far b is ahead of a, modulo 2^16.
func SeqDistance(a, b uint16) uint16 {
	return b - a
}
