package store

import (
	"context"
	"sync"
	"time"

	"github.com/syncclock/timingsvc/internal/session"
)

// MemStore is an in-process Store implementation with the same map +
// sync.RWMutex shape as the teacher's internal/session/store.go
// (session_id -> record), extended with CAS-on-version and an
// in-process pub/sub fan-out so it stands in for RedisStore in engine
// and coordination-plane unit tests without a live Redis.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	stateSubs  []StateChangeHandler
	fanoutSubs []FanoutHandler
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*session.Session)}
}

func (m *MemStore) Get(_ context.Context, sessionID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *MemStore) Create(_ context.Context, rec *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[rec.SessionID]; exists {
		return ErrAlreadyExists
	}

	now := time.Now().UTC()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.sessions[rec.SessionID] = rec.Clone()

	m.notifyStateChange(rec.SessionID, rec.Clone())
	return nil
}

func (m *MemStore) Update(_ context.Context, sessionID string, rec *session.Session, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	if stored.Version != expectedVersion {
		return 0, &ConflictError{Expected: expectedVersion, Actual: stored.Version}
	}

	rec.Version = stored.Version + 1
	rec.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = rec.Clone()

	m.notifyStateChange(sessionID, rec.Clone())
	return rec.Version, nil
}

func (m *MemStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)

	m.notifyStateChange(sessionID, nil)
	return nil
}

func (m *MemStore) PublishFanout(_ context.Context, sessionID string, message []byte) error {
	m.mu.RLock()
	subs := append([]FanoutHandler(nil), m.fanoutSubs...)
	m.mu.RUnlock()
	for _, h := range subs {
		h(sessionID, message)
	}
	return nil
}

func (m *MemStore) SubscribeStateChange(_ context.Context, handler StateChangeHandler) error {
	m.mu.Lock()
	m.stateSubs = append(m.stateSubs, handler)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) SubscribeFanout(_ context.Context, handler FanoutHandler) error {
	m.mu.Lock()
	m.fanoutSubs = append(m.fanoutSubs, handler)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Close() error { return nil }

// notifyStateChange must be called with m.mu held.
func (m *MemStore) notifyStateChange(sessionID string, rec *session.Session) {
	for _, h := range m.stateSubs {
		go h(sessionID, rec)
	}
}
