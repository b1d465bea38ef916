package multipart

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateAck is returned when a part is acknowledged more than once.
var ErrDuplicateAck = errors.New("part already acknowledged")

// Outcome is the state of a single part.
type Outcome int

const (
	// OutcomePending is the state of a part that was not acknowledged yet.
	OutcomePending Outcome = iota
	// OutcomeSucceeded is the state of an acknowledged part.
	OutcomeSucceeded
	// OutcomeFailed is the state of a part that failed permanently.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Tracker counts the parts that are still pending.
// Acks are de-duplicated by part index and the decrement-and-check is serialized, so exactly
// one Ack call observes the count reaching zero.
type Tracker struct {
	mu        sync.Mutex
	outcomes  []Outcome
	reasons   map[int]error
	pending   int
	finalized bool
}

// NewTracker creates a Tracker for totalParts pending parts.
func NewTracker(totalParts int) *Tracker {
	return &Tracker{
		outcomes: make([]Outcome, totalParts),
		reasons:  map[int]error{},
		pending:  totalParts,
	}
}

// Ack marks the part as succeeded.
// It returns true for the single call that brings the pending count to zero.
// Repeated acks of the same part return ErrDuplicateAck and leave the count untouched.
func (t *Tracker) Ack(index int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.outcomes) {
		return false, fmt.Errorf("part index %d out of range [0, %d)", index, len(t.outcomes))
	}
	if t.outcomes[index] == OutcomeSucceeded {
		return false, fmt.Errorf("part %d: %w", index, ErrDuplicateAck)
	}

	t.outcomes[index] = OutcomeSucceeded
	delete(t.reasons, index)
	t.pending--

	if t.pending == 0 && !t.finalized {
		t.finalized = true
		return true, nil
	}
	return false, nil
}

// Fail records a permanent failure of a part. Succeeded parts are left untouched.
func (t *Tracker) Fail(index int, reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.outcomes) || t.outcomes[index] == OutcomeSucceeded {
		return
	}
	t.outcomes[index] = OutcomeFailed
	t.reasons[index] = reason
}

// Outcome returns the state of a part and the failure reason for failed parts.
func (t *Tracker) Outcome(index int) (Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.outcomes) {
		return OutcomePending, fmt.Errorf("part index %d out of range [0, %d)", index, len(t.outcomes))
	}
	return t.outcomes[index], t.reasons[index]
}

// Pending returns the number of parts not acknowledged yet.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Succeeded returns the number of acknowledged parts.
func (t *Tracker) Succeeded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outcomes) - t.pending
}
