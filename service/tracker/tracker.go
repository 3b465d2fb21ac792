// Package tracker validates that a resource counter of the system under test
// returns to its baseline (or moves by an expected delta) around a scope.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotStarted is returned by End or Validate before Start.
	ErrNotStarted = errors.New("tracker: not started")
	// ErrNotEnded is returned by Validate before End.
	ErrNotEnded = errors.New("tracker: not ended")
	// ErrUnreadable means a snapshot could not be taken, for example because
	// the module exporting the counter is gone. It is not a leak.
	ErrUnreadable = errors.New("tracker: counter unreadable")
)

// LeakError reports a counter that did not return to the expected value.
type LeakError struct {
	Counter   string
	Start     int64
	End       int64
	Expected  int64
	Tolerance int64
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("counter %s: start=%d end=%d delta=%d, expected delta %d±%d",
		e.Counter, e.Start, e.End, e.End-e.Start, e.Expected, e.Tolerance)
}

// Snapshot is one reading of the counter.
type Snapshot struct {
	Value int64
	Err   error
	Taken bool
}

// Tracker takes a start and an end snapshot of a counter.
type Tracker struct {
	counter Counter
	start   Snapshot
	end     Snapshot
	mu      sync.Mutex
}

// New creates a tracker for counter.
func New(counter Counter) *Tracker {
	return &Tracker{counter: counter}
}

// Start takes the baseline snapshot. A read failure is returned and also
// remembered for Validate.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.read(ctx)
	t.end = Snapshot{}
	return t.start.Err
}

// End takes the closing snapshot.
func (t *Tracker) End(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.start.Taken {
		return ErrNotStarted
	}
	t.end = t.read(ctx)
	return t.end.Err
}

// Snapshots returns the start and end readings.
func (t *Tracker) Snapshots() (Snapshot, Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start, t.end
}

// Validate checks that end-start equals expectedDelta within tolerance.
// Unreadable snapshots yield ErrUnreadable, mismatches a *LeakError.
func (t *Tracker) Validate(expectedDelta, tolerance int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.start.Taken:
		return ErrNotStarted
	case t.start.Err != nil:
		return t.start.Err
	case !t.end.Taken:
		return ErrNotEnded
	case t.end.Err != nil:
		return t.end.Err
	}
	delta := t.end.Value - t.start.Value
	if diff := delta - expectedDelta; diff > tolerance || diff < -tolerance {
		return &LeakError{
			Counter:   t.counter.Name(),
			Start:     t.start.Value,
			End:       t.end.Value,
			Expected:  expectedDelta,
			Tolerance: tolerance,
		}
	}
	return nil
}

// Track runs fn between Start and End and validates a zero delta.
func Track(ctx context.Context, counter Counter, tolerance int64, fn func() error) error {
	t := New(counter)
	if err := t.Start(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if err := t.End(ctx); err != nil {
		return err
	}
	return t.Validate(0, tolerance)
}

func (t *Tracker) read(ctx context.Context) Snapshot {
	value, err := t.counter.Read(ctx)
	if err != nil {
		return Snapshot{Taken: true, Err: fmt.Errorf("%w: %s: %v", ErrUnreadable, t.counter.Name(), err)}
	}
	return Snapshot{Taken: true, Value: value}
}
