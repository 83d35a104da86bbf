package coordination

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/session"
	"github.com/syncclock/timingsvc/internal/store"
)

type recordingDelivery struct {
	mu      sync.Mutex
	updates []*session.Session
	deletes []string
}

func (d *recordingDelivery) BroadcastStateUpdate(sessionID string, state *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, state)
}

func (d *recordingDelivery) BroadcastSessionDeleted(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes = append(d.deletes, sessionID)
}

func (d *recordingDelivery) snapshot() ([]*session.Session, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := make([]*session.Session, len(d.updates))
	copy(u, d.updates)
	del := make([]string, len(d.deletes))
	copy(del, d.deletes)
	return u, del
}

func TestHandleStateChangeDeliversInOrder(t *testing.T) {
	delivery := &recordingDelivery{}
	p := New(store.NewMemStore(), delivery, zap.NewNop())

	p.handleStateChange("s1", &session.Session{SessionID: "s1", Version: 1})
	p.handleStateChange("s1", &session.Session{SessionID: "s1", Version: 2})

	updates, _ := delivery.snapshot()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Version != 1 || updates[1].Version != 2 {
		t.Errorf("updates out of order: %+v", updates)
	}
}

func TestHandleStateChangeDropsStaleVersion(t *testing.T) {
	delivery := &recordingDelivery{}
	p := New(store.NewMemStore(), delivery, zap.NewNop())

	p.handleStateChange("s1", &session.Session{SessionID: "s1", Version: 5})
	p.handleStateChange("s1", &session.Session{SessionID: "s1", Version: 3}) // stale, arrived out of order

	updates, _ := delivery.snapshot()
	if len(updates) != 1 {
		t.Fatalf("expected the stale version to be dropped, got %d updates", len(updates))
	}
	if updates[0].Version != 5 {
		t.Errorf("expected only version 5 to survive, got %d", updates[0].Version)
	}
}

func TestHandleStateChangeNilRecordIsTombstone(t *testing.T) {
	delivery := &recordingDelivery{}
	p := New(store.NewMemStore(), delivery, zap.NewNop())

	p.handleStateChange("s1", &session.Session{SessionID: "s1", Version: 1})
	p.handleStateChange("s1", nil)

	updates, deletes := delivery.snapshot()
	if len(updates) != 1 {
		t.Errorf("expected 1 update before tombstone, got %d", len(updates))
	}
	if len(deletes) != 1 || deletes[0] != "s1" {
		t.Errorf("expected a tombstone delivery for s1, got %v", deletes)
	}
}

func TestStartEstablishesBothSubscriptions(t *testing.T) {
	s := store.NewMemStore()
	delivery := &recordingDelivery{}
	p := New(s, delivery, zap.NewNop())

	if err := p.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_ = s.Create(t.Context(), &session.Session{SessionID: "s1"})

	// Delivery runs on a goroutine spawned by MemStore.notifyStateChange;
	// poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if u, _ := delivery.snapshot(); len(u) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("expected a state-change delivery after Create within 1s")
}
