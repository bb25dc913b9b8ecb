package channel

const (
	unsequencedWindowSize  = 1024
	freeUnsequencedWindows = 32
)

// UnsequencedWindow suppresses duplicate unsequenced commands. It remembers
// which groups of the current 1024-group window have been seen and rejects
// groups more than 32 windows ahead or behind the current one.
type UnsequencedWindow struct {
	incomingGroup uint16
	seen          [unsequencedWindowSize / 32]uint32
}

// Accept reports whether group is new and records it.
func (w *UnsequencedWindow) Accept(group uint16) bool {
	index := uint32(group) % unsequencedWindowSize
	g := uint32(group)
	if group < w.incomingGroup {
		g += 0x10000
	}
	if g >= uint32(w.incomingGroup)+freeUnsequencedWindows*unsequencedWindowSize {
		return false
	}
	g &= 0xFFFF

	if base := uint16(g - index); base != w.incomingGroup {
		w.incomingGroup = base
		w.seen = [unsequencedWindowSize / 32]uint32{}
	} else if w.seen[index/32]&(1<<(index%32)) != 0 {
		return false
	}
	w.seen[index/32] |= 1 << (index % 32)
	return true
}

// Reset forgets every group seen.
func (w *UnsequencedWindow) Reset() { *w = UnsequencedWindow{} }
