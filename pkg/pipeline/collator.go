package pipeline

import (
	"fmt"
	"sync"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// maxReportedGaps bounds the positions listed in a consistency error.
const maxReportedGaps = 10

// Collator reorders outcomes arriving in completion order. It accepts concurrent
// Add calls and reports any position that is out of range, repeated, or missing
// as an internal consistency error.
type Collator struct {
	mu       sync.Mutex
	slots    []Outcome
	filled   []bool
	received int
	err      error
}

// NewCollator creates a collator expecting positions 0..n-1.
func NewCollator(n int) *Collator {
	return &Collator{
		slots:  make([]Outcome, n),
		filled: make([]bool, n),
	}
}

// Add stores o in its slot. The first violation is kept and returned by Result.
func (c *Collator) Add(o Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case o.Position < 0 || o.Position >= len(c.slots):
		c.fail(sdkerrors.NewConsistencyError(fmt.Sprintf("outcome position %d outside [0, %d)", o.Position, len(c.slots))))
	case c.filled[o.Position]:
		c.fail(sdkerrors.NewConsistencyError(fmt.Sprintf("duplicate outcome for position %d", o.Position)))
	default:
		c.slots[o.Position] = o
		c.filled[o.Position] = true
		c.received++
		return nil
	}
	return c.err
}

func (c *Collator) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Received returns the number of accepted outcomes.
func (c *Collator) Received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Result returns the dense ordered result, or the consistency error when a
// position was out of range, repeated, or never delivered. No partial result is
// returned on error.
func (c *Collator) Result() (RunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if c.received != len(c.slots) {
		var missing []int
		for pos, ok := range c.filled {
			if !ok && len(missing) < maxReportedGaps {
				missing = append(missing, pos)
			}
		}
		return nil, sdkerrors.NewConsistencyError(fmt.Sprintf("%d of %d outcomes missing, first missing positions %v",
			len(c.slots)-c.received, len(c.slots), missing))
	}

	result := make(RunResult, len(c.slots))
	copy(result, c.slots)
	return result, nil
}

// Collect drains stream into a collator for n records and returns the ordered
// result. The stream is always drained so producers never block.
func Collect(stream <-chan Outcome, n int) (RunResult, error) {
	c := NewCollator(n)
	for o := range stream {
		_ = c.Add(o)
	}
	return c.Result()
}
