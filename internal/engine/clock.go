package engine

import "time"

// Clock is the single injectable source of wall-clock reads used by the
// engine (spec.md §4.3: "All wall-clock reads happen here through a
// single injectable clock"). Production code uses SystemClock; tests
// use a FixedClock or a ticking fake to make elapsed-time assertions
// deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Useful for "now" snapshots
// in tests that don't care about elapsed time.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
