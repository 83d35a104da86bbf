package audit

import (
	"context"
	"sync"
)

// FakeQueue is an in-memory Queue for unit tests of the engine and
// httpapi layers, grounded on the same "record everything, let the
// test assert on it" shape as the teacher's test fakes. It performs no
// I/O and never fails unless configured to.
type FakeQueue struct {
	mu            sync.Mutex
	jobs          []Job
	highWaterMark int
	failNext      bool
	closed        bool
}

// NewFakeQueue constructs a FakeQueue with the given high-water mark
// (0 disables back-pressure).
func NewFakeQueue(highWaterMark int) *FakeQueue {
	return &FakeQueue{highWaterMark: highWaterMark}
}

func (q *FakeQueue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return &ErrBacklogged{Depth: len(q.jobs), Limit: q.highWaterMark}
	}
	if q.failNext {
		q.failNext = false
		return &ErrBacklogged{Depth: len(q.jobs), Limit: q.highWaterMark}
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *FakeQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *FakeQueue) HighWaterMark() int { return q.highWaterMark }

func (q *FakeQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Jobs returns a snapshot of everything enqueued so far, for assertions.
func (q *FakeQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// FailNext makes the next Enqueue call return ErrBacklogged, simulating
// transient back-pressure in tests.
func (q *FakeQueue) FailNext() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failNext = true
}
