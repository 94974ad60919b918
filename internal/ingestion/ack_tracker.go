package ingestion

import (
	"sync"

	"TroveLedger/internal/core"
)

type heldAck struct {
	seq int64
	ack func()
}

// AckTracker holds the acks of applied commands until the persistence
// worker reports their sequence as committed. An acked JetStream message is
// never redelivered, so acking before the event log has it would lose the
// command on a crash.
type AckTracker struct {
	mu   sync.Mutex
	held []heldAck // ascending sequence
}

func NewAckTracker() *AckTracker {
	return &AckTracker{}
}

// Hold parks ack until seq is released. Sequences arrive in core order.
func (t *AckTracker) Hold(seq int64, ack func()) {
	if ack == nil {
		return
	}
	t.mu.Lock()
	t.held = append(t.held, heldAck{seq: seq, ack: ack})
	t.mu.Unlock()
}

// HoldBehindPending parks ack behind the newest held sequence, or acks it at
// once when nothing is held. Used for redelivered duplicates whose original
// may still be waiting for its flush.
func (t *AckTracker) HoldBehindPending(ack func()) {
	if ack == nil {
		return
	}
	t.mu.Lock()
	if n := len(t.held); n > 0 {
		t.held = append(t.held, heldAck{seq: t.held[n-1].seq, ack: ack})
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	ack()
}

// Release acks every held command up to the last sequence of a committed
// batch. Matches the persistence worker's OnFlushed hook.
func (t *AckTracker) Release(outputs []core.CoreOutput) {
	var upTo int64 = -1
	for i := range outputs {
		if env := outputs[i].Envelope; env != nil && env.Sequence > upTo {
			upTo = env.Sequence
		}
	}
	if upTo < 0 {
		return
	}

	t.mu.Lock()
	n := 0
	for n < len(t.held) && t.held[n].seq <= upTo {
		n++
	}
	ready := make([]heldAck, n)
	copy(ready, t.held[:n])
	t.held = append(t.held[:0], t.held[n:]...)
	t.mu.Unlock()

	for _, h := range ready {
		h.ack()
	}
}

// Pending returns the number of acks waiting for a flush.
func (t *AckTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}
