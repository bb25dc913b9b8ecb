package channel

import (
	"errors"
	"fmt"

	"github.com/die-net/enet/internal/protocol"
)

// ErrRetryBudget reports a reliable command that went unacknowledged after
// its last permitted retransmission.
var ErrRetryBudget = errors.New("retransmission retry budget exhausted")

// Outstanding is a reliable command that has been sent and is waiting for an
// acknowledgment.
type Outstanding struct {
	Command    protocol.Command
	FirstSent  uint32
	SentTime   uint32
	Timeout    uint32
	Attempts   int
	RetryLimit int
	size       int
}

// RetransmitQueue tracks a peer's unacknowledged reliable commands in send
// order.
type RetransmitQueue struct {
	// MaxTimeout caps the per-command retransmission timeout as it backs
	// off; zero leaves it unbounded.
	MaxTimeout uint32

	items     []*Outstanding
	inTransit int
}

// Add records cmd as sent at now with an initial timeout.
func (q *RetransmitQueue) Add(cmd protocol.Command, now, timeout uint32, retryLimit int) *Outstanding {
	o := &Outstanding{
		Command:    cmd,
		FirstSent:  now,
		SentTime:   now,
		Timeout:    max(timeout, 1),
		RetryLimit: retryLimit,
		size:       protocol.EncodedSize(cmd),
	}
	q.items = append(q.items, o)
	q.inTransit += o.size
	return o
}

// Remove drops the command matching channelID and seq and returns it.
func (q *RetransmitQueue) Remove(channelID uint8, seq uint16) (*Outstanding, bool) {
	for i, o := range q.items {
		h := o.Command.Header()
		if h.ChannelID == channelID && h.ReliableSequenceNumber == seq {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.inTransit -= o.size
			return o, true
		}
	}
	return nil, false
}

// Expired returns the commands whose timeout elapsed by now, doubling each
// one's timeout for the next attempt. It fails once any command has used
// its retry budget.
func (q *RetransmitQueue) Expired(now uint32) ([]*Outstanding, error) {
	var due []*Outstanding
	for _, o := range q.items {
		if now-o.SentTime < o.Timeout {
			continue
		}
		if o.Attempts >= o.RetryLimit {
			h := o.Command.Header()
			return nil, fmt.Errorf("%w: %s seq %d on channel %d after %d attempts", ErrRetryBudget, h.Command, h.ReliableSequenceNumber, h.ChannelID, o.Attempts+1)
		}
		o.Attempts++
		o.SentTime = now
		o.Timeout *= 2
		if q.MaxTimeout > 0 {
			o.Timeout = min(o.Timeout, q.MaxTimeout)
		}
		due = append(due, o)
	}
	return due, nil
}

// Len returns the number of unacknowledged commands.
func (q *RetransmitQueue) Len() int { return len(q.items) }

// InTransit returns the encoded bytes of unacknowledged commands.
func (q *RetransmitQueue) InTransit() int { return q.inTransit }

// Reset forgets every outstanding command.
func (q *RetransmitQueue) Reset() {
	q.items = nil
	q.inTransit = 0
}
