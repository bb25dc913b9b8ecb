package channel

import (
	"errors"
	"fmt"

	"github.com/die-net/enet/internal/protocol"
)

var (
	// ErrDuplicate reports a reliable command that was already received.
	// The sender still expects an acknowledgment for it.
	ErrDuplicate = errors.New("duplicate reliable command")
	// ErrOutOfWindow reports a reliable command too far ahead of the last
	// delivered one to be buffered.
	ErrOutOfWindow = errors.New("reliable command outside receive window")
	// ErrStale reports an unreliable command older than one already
	// delivered.
	ErrStale = errors.New("stale unreliable command")
)

// ReliableWindow is how far ahead of the last delivered reliable sequence
// number a command may be and still be buffered.
const ReliableWindow = 0x7000

// DefaultMaxMessageSize bounds reassembled messages.
const DefaultMaxMessageSize = 32 * 1024 * 1024

type pendingReliable struct {
	data     []byte
	assembly *Assembly
	start    uint16
}

// Channel is the sequencing and reassembly state of one sub-stream.
type Channel struct {
	maxMessageSize uint32

	outgoingReliable   uint16
	outgoingUnreliable uint16

	incomingReliable  uint16
	lastUnreliableRel uint16
	lastUnreliable    uint16

	pending              map[uint16]pendingReliable
	reliableAssemblies   map[uint16]*Assembly
	unreliableAssemblies map[uint32]*Assembly
}

// New returns a channel that accepts reassembled messages up to
// maxMessageSize bytes; zero selects DefaultMaxMessageSize.
func New(maxMessageSize uint32) *Channel {
	if maxMessageSize == 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Channel{
		maxMessageSize:       maxMessageSize,
		pending:              make(map[uint16]pendingReliable),
		reliableAssemblies:   make(map[uint16]*Assembly),
		unreliableAssemblies: make(map[uint32]*Assembly),
	}
}

// Reset discards all sequencing and reassembly state.
func (c *Channel) Reset() {
	*c = *New(c.maxMessageSize)
}

// NextReliable assigns the next outgoing reliable sequence number. The
// unreliable sub-sequence restarts after every reliable command.
func (c *Channel) NextReliable() uint16 {
	c.outgoingReliable++
	c.outgoingUnreliable = 0
	return c.outgoingReliable
}

// NextUnreliable assigns the next outgoing unreliable sequence number and
// returns it with the reliable sequence number it follows.
func (c *Channel) NextUnreliable() (reliable, unreliable uint16) {
	c.outgoingUnreliable++
	return c.outgoingReliable, c.outgoingUnreliable
}

// IncomingReliable returns the last reliable sequence number released.
func (c *Channel) IncomingReliable() uint16 { return c.incomingReliable }

// Pending returns the number of reliable commands buffered out of order.
func (c *Channel) Pending() int { return len(c.pending) }

// Assemblies returns the number of partially received messages.
func (c *Channel) Assemblies() int {
	return len(c.reliableAssemblies) + len(c.unreliableAssemblies)
}

// CheckReliable classifies seq against last, the last reliable sequence
// number released. Anything behind last by up to ReliableWindow is a
// duplicate; anything else not within ReliableWindow ahead is out of window.
func CheckReliable(last, seq uint16) error {
	d := protocol.SeqDistance(last, seq)
	switch {
	case d == 0 || d >= 0x10000-ReliableWindow:
		return ErrDuplicate
	case d > ReliableWindow:
		return fmt.Errorf("%w: %d ahead", ErrOutOfWindow, d)
	}
	return nil
}

func (c *Channel) checkReliable(seq uint16) error {
	if err := CheckReliable(c.incomingReliable, seq); err != nil {
		return err
	}
	if _, ok := c.pending[seq]; ok {
		return ErrDuplicate
	}
	return nil
}

// ReceiveReliable accepts a reliable payload and returns every message that
// can now be released in sequence order.
func (c *Channel) ReceiveReliable(seq uint16, data []byte) ([][]byte, error) {
	if err := c.checkReliable(seq); err != nil {
		return nil, err
	}
	c.pending[seq] = pendingReliable{data: data}
	return c.drain(), nil
}

// ReceiveReliableFragment accepts one fragment of a reliable message. The
// fragment is written into its assembly at once; the message is released
// when its position in the reliable order is reached.
func (c *Channel) ReceiveReliableFragment(seq uint16, f Fragment) ([][]byte, error) {
	if err := c.checkReliable(seq); err != nil {
		return nil, err
	}
	if err := f.Validate(c.maxMessageSize); err != nil {
		delete(c.reliableAssemblies, f.Start)
		return nil, err
	}
	if seq-f.Start != uint16(f.Number) {
		return nil, fmt.Errorf("%w: fragment %d at %d does not follow start %d", ErrFragmentOverflow, f.Number, seq, f.Start)
	}

	a, ok := c.reliableAssemblies[f.Start]
	if !ok {
		a = NewAssembly(f.Count, f.TotalLength)
		c.reliableAssemblies[f.Start] = a
	}
	if _, err := a.Add(f); err != nil {
		delete(c.reliableAssemblies, f.Start)
		return nil, err
	}

	c.pending[seq] = pendingReliable{assembly: a, start: f.Start}
	return c.drain(), nil
}

func (c *Channel) drain() [][]byte {
	var out [][]byte
	for {
		next := c.incomingReliable + 1
		p, ok := c.pending[next]
		if !ok {
			return out
		}
		delete(c.pending, next)
		c.incomingReliable = next

		if p.assembly == nil {
			out = append(out, p.data)
			continue
		}
		if p.assembly.Complete() && !p.assembly.delivered {
			p.assembly.delivered = true
			out = append(out, p.assembly.Bytes())
			if c.reliableAssemblies[p.start] == p.assembly {
				delete(c.reliableAssemblies, p.start)
			}
		}
	}
}

func (c *Channel) unreliableNewer(rel, unrel uint16) bool {
	if rel != c.lastUnreliableRel {
		return protocol.SeqLess(c.lastUnreliableRel, rel)
	}
	return protocol.SeqLess(c.lastUnreliable, unrel)
}

func (c *Channel) acceptUnreliable(rel, unrel uint16) {
	c.lastUnreliableRel, c.lastUnreliable = rel, unrel
	for key := range c.unreliableAssemblies {
		if !c.unreliableNewer(uint16(key>>16), uint16(key)) {
			delete(c.unreliableAssemblies, key)
		}
	}
}

// ReceiveUnreliable accepts a sequenced unreliable payload if it is newer
// than every unreliable message already delivered on the channel.
func (c *Channel) ReceiveUnreliable(rel, unrel uint16, data []byte) ([]byte, error) {
	if !c.unreliableNewer(rel, unrel) {
		return nil, ErrStale
	}
	c.acceptUnreliable(rel, unrel)
	return data, nil
}

// ReceiveUnreliableFragment accepts one fragment of an unreliable message
// and returns the message once complete. Partial messages superseded by a
// newer delivery are discarded.
func (c *Channel) ReceiveUnreliableFragment(rel uint16, f Fragment) ([]byte, error) {
	key := uint32(rel)<<16 | uint32(f.Start)
	if !c.unreliableNewer(rel, f.Start) {
		delete(c.unreliableAssemblies, key)
		return nil, ErrStale
	}
	if err := f.Validate(c.maxMessageSize); err != nil {
		delete(c.unreliableAssemblies, key)
		return nil, err
	}

	a, ok := c.unreliableAssemblies[key]
	if !ok {
		a = NewAssembly(f.Count, f.TotalLength)
		c.unreliableAssemblies[key] = a
	}
	if _, err := a.Add(f); err != nil {
		delete(c.unreliableAssemblies, key)
		return nil, err
	}
	if !a.Complete() {
		return nil, nil
	}

	delete(c.unreliableAssemblies, key)
	c.acceptUnreliable(rel, f.Start)
	return a.Bytes(), nil
}
