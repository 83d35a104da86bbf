// Package coordination implements the Coordination Plane (component D,
// spec.md §4.4): a single long-lived subscriber established once at
// start-up, decoding every cluster-wide mutation event and handing it
// to the real-time delivery layer. Receivers are idempotent — a
// session that has already delivered a snapshot at version >= the
// incoming one drops the older one (§4.4 Ingress).
package coordination

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/session"
	"github.com/syncclock/timingsvc/internal/store"
)

// Delivery is the subset of the real-time delivery layer (E) the
// coordination plane hands decoded events to, satisfied by *ws.Hub
// without this package importing ws.
type Delivery interface {
	BroadcastStateUpdate(sessionID string, state *session.Session)
	BroadcastSessionDeleted(sessionID string)
}

// Plane owns the process-lifetime subscriptions to the primary store's
// state-change and fan-out channels (§4.4: "subscriptions are
// process-global; they MUST be established once at start-up, not per
// request."). Its shape — a single Start(ctx)-driven subscriber loop —
// follows the teacher's internal/monitor.Monitor.Start, adapted from a
// ticker-poll to a pubsub-range.
type Plane struct {
	store    store.Store
	delivery Delivery
	log      *zap.Logger

	mu          sync.Mutex
	lastVersion map[string]int64 // session_id -> highest version delivered
}

// New constructs a Plane. Call Start once at process start-up.
func New(s store.Store, delivery Delivery, log *zap.Logger) *Plane {
	return &Plane{
		store:       s,
		delivery:    delivery,
		log:         log,
		lastVersion: make(map[string]int64),
	}
}

// Start establishes the ingress and egress subscriptions. It returns
// once both subscriptions are registered; delivery happens on the
// store's own goroutines for the lifetime of ctx.
func (p *Plane) Start(ctx context.Context) error {
	if err := p.store.SubscribeStateChange(ctx, p.handleStateChange); err != nil {
		return err
	}
	if err := p.store.SubscribeFanout(ctx, p.handleFanout); err != nil {
		return err
	}
	p.log.Info("coordination plane subscriptions established")
	return nil
}

// handleStateChange is invoked from a store-owned goroutine for every
// cluster-wide mutation (§4.4 Ingress). It MUST NOT perform I/O itself
// beyond the non-blocking hand-off to the delivery layer — here, that
// hand-off is the delivery layer's own best-effort channel writes,
// never a synchronous network call.
func (p *Plane) handleStateChange(sessionID string, rec *session.Session) {
	if rec == nil {
		p.mu.Lock()
		delete(p.lastVersion, sessionID)
		p.mu.Unlock()
		p.delivery.BroadcastSessionDeleted(sessionID)
		return
	}

	p.mu.Lock()
	seen, ok := p.lastVersion[sessionID]
	if ok && rec.Version <= seen {
		p.mu.Unlock()
		return
	}
	p.lastVersion[sessionID] = rec.Version
	p.mu.Unlock()

	p.delivery.BroadcastStateUpdate(sessionID, rec)
}

// handleFanout handles out-of-band, non-state messages (§4.4 Egress).
// No spec.md message type currently uses this channel; the hook exists
// so engine-issued warnings (e.g. a future time-warning frame) have
// somewhere to go without a coordination-plane API change.
func (p *Plane) handleFanout(sessionID string, message []byte) {
	p.log.Debug("fanout message received", zap.String("session_id", sessionID), zap.Int("bytes", len(message)))
}
