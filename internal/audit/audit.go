// Package audit implements the Audit Write Queue (component B, spec.md
// §4.2): a durable, retrying, asynchronous pipeline from state mutation
// to audit record, decoupled from the engine's hot path.
package audit

import (
	"context"
	"time"

	"github.com/syncclock/timingsvc/internal/session"
)

// EventType classifies the mutation that produced a Job.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Job is the durable unit of work: a single state transition to record
// (§4.2 Contract).
type Job struct {
	SessionID     string
	StateSnapshot *session.Session
	EventType     EventType
	Timestamp     time.Time
}

// Queue is the interface the engine depends on. Enqueue returns as soon
// as the job is accepted — it MUST NOT perform I/O synchronously (§4.2
// Contract: "non-blocking from the engine's perspective").
type Queue interface {
	Enqueue(job Job) error

	// Depth reports the current in-flight job count, used (via
	// IsBacklogged) by the engine to decide whether to reject
	// non-critical writes (§4.2 Back-pressure).
	Depth() int

	// HighWaterMark returns the configured back-pressure threshold.
	HighWaterMark() int

	// Close stops accepting new jobs and waits for in-flight workers to
	// drain, up to the given deadline.
	Close(ctx context.Context) error
}

// ErrBacklogged is returned by Enqueue when the queue cannot accept a
// job (PostgresQueue: its buffered channel is full). Crossing
// HighWaterMark does not make Enqueue fail; that condition is reported
// by IsBacklogged.
type ErrBacklogged struct {
	Depth int
	Limit int
}

func (e *ErrBacklogged) Error() string {
	return "audit queue backlog exceeds high-water mark"
}

// IsBacklogged reports whether the queue should start rejecting
// non-critical mutations (§4.2 Back-pressure). The hot-path switch
// operation never consults this — only adjust_time and similar
// lower-priority writes do.
func IsBacklogged(q Queue) bool {
	return q.HighWaterMark() > 0 && q.Depth() > q.HighWaterMark()
}
