package channel

import (
	"errors"
	"fmt"

	"github.com/die-net/enet/internal/protocol"
)

// ErrFragmentOverflow reports a fragment whose count, number, offset or
// length violates the bounds of its message.
var ErrFragmentOverflow = errors.New("fragment overflow")

// Fragment is one piece of an oversized message.
type Fragment struct {
	Start       uint16 // start sequence number shared by every fragment
	Count       uint32
	Number      uint32
	TotalLength uint32
	Offset      uint32
	Data        []byte
}

// FromCommand converts a fragment command to a Fragment.
func FromCommand(c *protocol.SendFragment) Fragment {
	return Fragment{
		Start:       c.StartSequenceNumber,
		Count:       c.FragmentCount,
		Number:      c.FragmentNumber,
		TotalLength: c.TotalLength,
		Offset:      c.FragmentOffset,
		Data:        c.Data,
	}
}

// Validate checks f against the protocol limits and the largest message the
// receiver accepts.
func (f Fragment) Validate(maxMessageSize uint32) error {
	switch {
	case f.Count == 0 || f.Count > protocol.MaximumFragmentCount:
		return fmt.Errorf("%w: count %d", ErrFragmentOverflow, f.Count)
	case f.Number >= f.Count:
		return fmt.Errorf("%w: number %d of %d", ErrFragmentOverflow, f.Number, f.Count)
	case f.TotalLength == 0 || f.TotalLength > maxMessageSize:
		return fmt.Errorf("%w: total length %d", ErrFragmentOverflow, f.TotalLength)
	case f.TotalLength < f.Count:
		return fmt.Errorf("%w: %d fragments for %d bytes", ErrFragmentOverflow, f.Count, f.TotalLength)
	case f.Offset >= f.TotalLength || uint32(len(f.Data)) > f.TotalLength-f.Offset:
		return fmt.Errorf("%w: %d bytes at offset %d of %d", ErrFragmentOverflow, len(f.Data), f.Offset, f.TotalLength)
	}
	return nil
}

// Split cuts data into fragments of at most capacity bytes. Start is left
// zero for the caller to fill in.
func Split(data []byte, capacity int) []Fragment {
	if capacity <= 0 || len(data) == 0 {
		return nil
	}
	count := (len(data) + capacity - 1) / capacity
	frags := make([]Fragment, 0, count)
	for off := 0; off < len(data); off += capacity {
		end := min(off+capacity, len(data))
		frags = append(frags, Fragment{
			Count:       uint32(count),
			Number:      uint32(len(frags)),
			TotalLength: uint32(len(data)),
			Offset:      uint32(off),
			Data:        data[off:end],
		})
	}
	return frags
}

// Assembly collects the fragments of one message.
type Assembly struct {
	count     uint32
	remaining uint32
	filled    []uint32
	data      []byte
	delivered bool
}

// NewAssembly allocates a buffer for a message of totalLength bytes split
// into count fragments.
func NewAssembly(count, totalLength uint32) *Assembly {
	return &Assembly{
		count:     count,
		remaining: count,
		filled:    make([]uint32, (count+31)/32),
		data:      make([]byte, totalLength),
	}
}

// Matches reports whether f belongs to a message of the same shape.
func (a *Assembly) Matches(f Fragment) bool {
	return a.count == f.Count && uint32(len(a.data)) == f.TotalLength
}

// Add copies f into the buffer. It reports false without error when the
// fragment number was already filled.
func (a *Assembly) Add(f Fragment) (bool, error) {
	if !a.Matches(f) {
		return false, fmt.Errorf("%w: fragment shape %d/%d does not match %d/%d", ErrFragmentOverflow, f.Count, f.TotalLength, a.count, len(a.data))
	}
	if f.Number >= a.count || f.Offset >= uint32(len(a.data)) || uint32(len(f.Data)) > uint32(len(a.data))-f.Offset {
		return false, fmt.Errorf("%w: fragment %d out of bounds", ErrFragmentOverflow, f.Number)
	}

	word, bit := f.Number/32, uint32(1)<<(f.Number%32)
	if a.filled[word]&bit != 0 {
		return false, nil
	}
	a.filled[word] |= bit
	a.remaining--
	copy(a.data[f.Offset:], f.Data)
	return true, nil
}

// Complete reports whether every fragment slot has been filled.
func (a *Assembly) Complete() bool { return a.remaining == 0 }

// Received returns how many distinct fragments have been added.
func (a *Assembly) Received() uint32 { return a.count - a.remaining }

// Bytes returns the reassembled message.
func (a *Assembly) Bytes() []byte { return a.data }
