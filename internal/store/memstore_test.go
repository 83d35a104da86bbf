package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/syncclock/timingsvc/internal/session"
)

func TestMemStoreCreateThenGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := &session.Session{SessionID: "s1", SyncMode: session.PerParticipant}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("Version = %d, want 1", rec.Version)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != "s1" || got.Version != 1 {
		t.Errorf("Get returned %+v", got)
	}
}

func TestMemStoreCreateDuplicate(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	rec := &session.Session{SessionID: "dup"}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, &session.Session{SessionID: "dup"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemStoreGetMissingReturnsNilNil(t *testing.T) {
	s := NewMemStore()
	got, err := s.Get(context.Background(), "missing")
	if err != nil || got != nil {
		t.Errorf("Get(missing) = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestMemStoreUpdateVersionMismatch(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	rec := &session.Session{SessionID: "s1"}
	_ = s.Create(ctx, rec)

	_, err := s.Update(ctx, "s1", &session.Session{SessionID: "s1"}, 99)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Expected != 99 || conflict.Actual != 1 {
		t.Errorf("conflict = %+v", conflict)
	}
}

func TestMemStoreUpdateSucceedsIncrementsVersion(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	rec := &session.Session{SessionID: "s1"}
	_ = s.Create(ctx, rec)

	newVersion, err := s.Update(ctx, "s1", &session.Session{SessionID: "s1", Status: session.Running}, 1)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if newVersion != 2 {
		t.Errorf("newVersion = %d, want 2", newVersion)
	}
}

// TestMemStoreConcurrentUpdateExactlyOneWins exercises property P3:
// for concurrent CAS calls at the same base version, exactly one
// succeeds and the rest observe a conflict.
func TestMemStoreConcurrentUpdateExactlyOneWins(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Create(ctx, &session.Session{SessionID: "s1"})

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "s1", &session.Session{SessionID: "s1"}, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				var conflict *ConflictError
				if errors.As(err, &conflict) {
					conflicts++
				}
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if conflicts != n-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, n-1)
	}
}

func TestMemStoreDeletePublishesTombstone(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Create(ctx, &session.Session{SessionID: "s1"})

	received := make(chan bool, 1)
	_ = s.SubscribeStateChange(ctx, func(sessionID string, rec *session.Session) {
		if sessionID == "s1" && rec == nil {
			received <- true
		}
	})

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Error("expected tombstone notification within 1s")
	}
}

func TestMemStoreDeleteMissing(t *testing.T) {
	s := NewMemStore()
	if err := s.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
