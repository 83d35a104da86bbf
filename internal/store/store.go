// Package store implements the Primary State Store adapter (component A,
// spec.md §4.1): the sole gatekeeper of the authoritative session record,
// CAS on the version counter, TTL refresh, and the two pub/sub channels
// the coordination plane depends on.
package store

import (
	"context"
	"fmt"

	"github.com/syncclock/timingsvc/internal/session"
)

// StateChangeChannel is the single well-known cluster-wide channel name
// for mutation events (§4.1).
const StateChangeChannel = "session-updates"

// FanoutChannel returns the per-session fan-out channel name (§4.1).
func FanoutChannel(sessionID string) string {
	return fmt.Sprintf("ws:%s", sessionID)
}

// ErrNotFound is returned by Update/Delete when the key is absent.
var ErrNotFound = fmt.Errorf("session not found")

// ErrAlreadyExists is returned by Create when the key is already present.
var ErrAlreadyExists = fmt.Errorf("session already exists")

// ConflictError is returned by Update when the stored version does not
// match expectedVersion (§4.1).
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: expected version %d, actual %d", e.Expected, e.Actual)
}

// StateChangeHandler is invoked for every cluster-wide mutation. rec is
// nil for a tombstone (delete).
type StateChangeHandler func(sessionID string, rec *session.Session)

// FanoutHandler is invoked for every per-session fan-out message.
type FanoutHandler func(sessionID string, message []byte)

// Store is the interface the engine and the coordination plane depend
// on. RedisStore is the production implementation; MemStore is an
// in-process fake used by engine and coordination-plane unit tests.
type Store interface {
	// Get returns the current record, or (nil, nil) on miss/TTL expiry.
	Get(ctx context.Context, sessionID string) (*session.Session, error)

	// Create fails with ErrAlreadyExists if the key is present. Sets
	// Version=1 and CreatedAt=UpdatedAt=now, and the default TTL.
	Create(ctx context.Context, rec *session.Session) error

	// Update is an atomic CAS: it succeeds only if the stored version
	// equals expectedVersion, in which case it increments the version,
	// refreshes the TTL, publishes on StateChangeChannel, and returns
	// the new version. Returns *ConflictError on mismatch, ErrNotFound
	// if the key is missing.
	Update(ctx context.Context, sessionID string, rec *session.Session, expectedVersion int64) (int64, error)

	// Delete removes the record, publishes a tombstone (nil record) on
	// StateChangeChannel.
	Delete(ctx context.Context, sessionID string) error

	// PublishFanout is a one-shot, non-durable publish to the
	// per-session fan-out channel (out-of-band messages, e.g. time
	// warnings — §4.4 Egress).
	PublishFanout(ctx context.Context, sessionID string, message []byte) error

	// SubscribeStateChange establishes (once, at start-up) a long-lived
	// subscription invoking handler for every cluster-wide mutation.
	SubscribeStateChange(ctx context.Context, handler StateChangeHandler) error

	// SubscribeFanout establishes a long-lived subscription over the
	// ws:{session_id} channel family, invoking handler for every
	// message regardless of which session it targets.
	SubscribeFanout(ctx context.Context, handler FanoutHandler) error

	// Close releases underlying connections.
	Close() error
}
