// Package engine implements the Session State Engine (component C,
// spec.md §4.3): the pure state-transition core. Given
// (current_record, operation, now) it produces (new_record,
// side_effects); all wall-clock reads happen through a single
// injectable Clock, and all persistence happens through the store.Store
// interface via a bounded read-apply-CAS retry loop.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/audit"
	"github.com/syncclock/timingsvc/internal/session"
	"github.com/syncclock/timingsvc/internal/store"
)

// maxCASRetries bounds the engine-driven read-apply-CAS loop when the
// caller did not supply an explicit expected_version (§4.3.1, §5).
const maxCASRetries = 3

// Metrics is the subset of observability hooks the engine calls. The
// internal/metrics package implements this against prometheus
// collectors; tests use NoopMetrics.
type Metrics interface {
	ObserveSwitchLatency(d time.Duration)
	IncCASConflict()
	SetAuditQueueDepth(depth int)
}

// NoopMetrics discards every observation; used when no metrics sink is
// wired (e.g. unit tests).
type NoopMetrics struct{}

func (NoopMetrics) ObserveSwitchLatency(time.Duration) {}
func (NoopMetrics) IncCASConflict()                    {}
func (NoopMetrics) SetAuditQueueDepth(int)             {}

// Engine is the session state engine. It holds no session state itself
// — every field here is a collaborator, not session data.
type Engine struct {
	store   store.Store
	queue   audit.Queue
	clock   Clock
	log     *zap.Logger
	metrics Metrics
}

// New constructs an Engine. metrics may be nil, in which case
// NoopMetrics is used.
func New(s store.Store, q audit.Queue, clock Clock, log *zap.Logger, metrics Metrics) *Engine {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Engine{store: s, queue: q, clock: clock, log: log, metrics: metrics}
}

func timePtr(t time.Time) *time.Time { return &t }

// mutate performs the read-apply-CAS loop shared by every mutating
// operation (§4.3.1: "Every mutation carries an expected_version; if
// absent, the engine performs a read-apply-CAS loop with bounded retry
// (3 attempts). If the caller supplied an explicit version, CAS
// mismatch fails fast.").
//
// fn receives a clone of the current record and mutates it in place;
// fn's own validation errors (ValidationError, InvalidTransitionError,
// StaleActorError, ...) are never retried — only a CAS version
// conflict triggers a retry, and only when expectedVersion is nil.
func (e *Engine) mutate(ctx context.Context, sessionID string, expectedVersion *int64, eventType audit.EventType, fn func(s *session.Session) error) (*session.Session, error) {
	attempts := 1
	if expectedVersion == nil {
		attempts = maxCASRetries
	}

	var lastConflict error
	for i := 0; i < attempts; i++ {
		cur, err := e.store.Get(ctx, sessionID)
		if err != nil {
			return nil, &StoreUnavailableError{Cause: err}
		}
		if cur == nil {
			return nil, &NotFoundError{SessionID: sessionID}
		}

		base := cur.Version
		if expectedVersion != nil && *expectedVersion != base {
			return nil, &ConcurrencyConflictError{SessionID: sessionID, Expected: *expectedVersion, Actual: base}
		}

		working := cur.Clone()
		if err := fn(working); err != nil {
			return nil, err
		}
		// CheckInvariants reads the derived is_active field (I1), which
		// fn doesn't maintain directly — recompute it first.
		working.ApplyDerivedFields(e.clock.Now())
		if violations := session.CheckInvariants(working); len(violations) != 0 {
			return nil, &InvariantViolationError{SessionID: sessionID, Violations: violations}
		}

		newVersion, err := e.store.Update(ctx, sessionID, working, base)
		if err == nil {
			working.Version = newVersion
			e.enqueueAudit(sessionID, working, eventType)
			return working, nil
		}

		var conflict *store.ConflictError
		if asConflict(err, &conflict) {
			e.metrics.IncCASConflict()
			lastConflict = &ConcurrencyConflictError{SessionID: sessionID, Expected: conflict.Expected, Actual: conflict.Actual}
			if expectedVersion != nil {
				return nil, lastConflict
			}
			continue
		}
		if isNotFound(err) {
			return nil, &NotFoundError{SessionID: sessionID}
		}
		return nil, &StoreUnavailableError{Cause: err}
	}

	return nil, lastConflict
}

func (e *Engine) enqueueAudit(sessionID string, snapshot *session.Session, eventType audit.EventType) {
	job := audit.Job{
		SessionID:     sessionID,
		StateSnapshot: snapshot.Clone(),
		EventType:     eventType,
		Timestamp:     e.clock.Now(),
	}
	if err := e.queue.Enqueue(job); err != nil {
		e.log.Warn("audit enqueue failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	e.metrics.SetAuditQueueDepth(e.queue.Depth())
}

// Get is the read path (§4.3.5): it never mutates the store, only
// overlays the derived fields (time_remaining_ms, is_active) computed
// against the current instant.
func (e *Engine) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	rec, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, &StoreUnavailableError{Cause: err}
	}
	if rec == nil {
		return nil, &NotFoundError{SessionID: sessionID}
	}
	rec.ApplyDerivedFields(e.clock.Now())
	return rec, nil
}

// ParticipantInput is the wire shape for a participant supplied at
// create or add_participant time.
type ParticipantInput struct {
	ParticipantID    string
	ParticipantIndex int
	TotalTimeMS      int64
	GroupID          string
}

// CreateRequest is the validated input to Create (POST /sessions).
type CreateRequest struct {
	SessionID      string
	SyncMode       session.SyncMode
	Participants   []ParticipantInput
	TimePerCycleMS *int64
	IncrementMS    int64
	MaxTimeMS      *int64
}

// Create builds and persists a new session record (§4.3.1 create).
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*session.Session, error) {
	if req.SessionID == "" {
		return nil, &ValidationError{Field: "session_id", Reason: "required"}
	}
	if !req.SyncMode.Valid() {
		return nil, &ValidationError{Field: "sync_mode", Reason: "unrecognized mode"}
	}
	if len(req.Participants) == 0 {
		return nil, &ValidationError{Field: "participants", Reason: "at least one participant is required"}
	}

	seenID := make(map[string]bool, len(req.Participants))
	seenIdx := make(map[int]bool, len(req.Participants))
	participants := make([]session.Participant, 0, len(req.Participants))
	groupPool := make(map[string]int64)

	for _, p := range req.Participants {
		if p.ParticipantID == "" {
			return nil, &ValidationError{Field: "participant_id", Reason: "required"}
		}
		if seenID[p.ParticipantID] {
			return nil, &ValidationError{Field: "participant_id", Reason: "duplicate: " + p.ParticipantID}
		}
		if seenIdx[p.ParticipantIndex] {
			return nil, &ValidationError{Field: "participant_index", Reason: "duplicate index"}
		}
		seenID[p.ParticipantID] = true
		seenIdx[p.ParticipantIndex] = true

		participants = append(participants, session.Participant{
			ParticipantID:    p.ParticipantID,
			ParticipantIndex: p.ParticipantIndex,
			TotalTimeMS:      p.TotalTimeMS,
			GroupID:          p.GroupID,
		})

		if req.SyncMode == session.PerGroup && p.GroupID != "" {
			if _, ok := groupPool[p.GroupID]; !ok {
				groupPool[p.GroupID] = p.TotalTimeMS
			}
		}
	}

	var totalTimeMS int64
	if req.SyncMode == session.Global && len(participants) > 0 {
		totalTimeMS = participants[0].TotalTimeMS
	}

	rec := &session.Session{
		SessionID:      req.SessionID,
		SyncMode:       req.SyncMode,
		Status:         session.Pending,
		Participants:   participants,
		TotalTimeMS:    totalTimeMS,
		TimePerCycleMS: req.TimePerCycleMS,
		IncrementMS:    req.IncrementMS,
		MaxTimeMS:      req.MaxTimeMS,
	}
	if len(groupPool) > 0 {
		rec.GroupPoolMS = groupPool
	}

	if err := e.store.Create(ctx, rec); err != nil {
		if isAlreadyExists(err) {
			return nil, &AlreadyExistsError{SessionID: req.SessionID}
		}
		return nil, &StoreUnavailableError{Cause: err}
	}

	e.enqueueAudit(req.SessionID, rec, audit.EventCreate)
	return rec, nil
}

// Start transitions pending → running (§4.3.1 start).
func (e *Engine) Start(ctx context.Context, sessionID string, expectedVersion *int64) (*session.Session, error) {
	return e.mutate(ctx, sessionID, expectedVersion, audit.EventUpdate, func(s *session.Session) error {
		// start's only legal predecessor is pending; resume shares
		// running as a target from paused, so the narrower equality
		// check stays primary and ValidTransition is an added guard.
		if s.Status != session.Pending || !session.ValidTransition(s.Status, session.Running) {
			return &InvalidTransitionError{SessionID: sessionID, From: s.Status.String(), Operation: "start"}
		}
		if s.ActiveParticipantID == "" {
			first := firstParticipant(s)
			if first == nil {
				return &ValidationError{Field: "participants", Reason: "session has no participants"}
			}
			s.ActiveParticipantID = first.ParticipantID
		}
		now := e.clock.Now()
		s.Status = session.Running
		s.SessionStartedAt = timePtr(now)
		s.CycleStartedAt = timePtr(now)
		return nil
	})
}

// SwitchResult is the hot-path response shape (§6 POST .../switch).
type SwitchResult struct {
	Record          *session.Session
	Previous        string
	NewActive       string
	SwitchTimestamp time.Time
	LatencyMS       int64
}

// Switch is the hot path (§4.3.2), target < 50ms end-to-end.
func (e *Engine) Switch(ctx context.Context, sessionID string, expectedVersion *int64, expectedCurrentParticipantID, expectedNextParticipantID string) (*SwitchResult, error) {
	wallStart := time.Now()
	result := &SwitchResult{}

	rec, err := e.mutate(ctx, sessionID, expectedVersion, audit.EventUpdate, func(s *session.Session) error {
		// switch doesn't itself carry a single (from, to) pair at this
		// guard — it's an eligibility check, with the actual transition
		// (to running again, expired, or completed) decided below.
		if s.Status != session.Running {
			return &InvalidTransitionError{SessionID: sessionID, From: s.Status.String(), Operation: "switch"}
		}
		if expectedCurrentParticipantID != "" && expectedCurrentParticipantID != s.ActiveParticipantID {
			return &StaleActorError{SessionID: sessionID, Expected: expectedCurrentParticipantID, Actual: s.ActiveParticipantID}
		}

		outgoing := s.ActiveParticipant()
		if outgoing == nil {
			return &ValidationError{Field: "active_participant_id", Reason: "no active participant on a running session"}
		}
		result.Previous = outgoing.ParticipantID

		now := e.clock.Now()
		var elapsedMS int64
		if s.CycleStartedAt != nil {
			elapsedMS = now.Sub(*s.CycleStartedAt).Milliseconds()
			if elapsedMS < 0 {
				elapsedMS = 0
			}
		}

		_, expired := debitOnSwitch(s, outgoing, elapsedMS)
		if expired {
			// §4.3.2 step 6: expire, end session, do not rotate. No
			// increment_ms is applied on an exact-zero crossing (open
			// question resolved in DESIGN.md).
			outgoing.HasExpired = true
			s.Status = session.Expired
			s.SessionCompletedAt = timePtr(now)
			s.CycleStartedAt = nil
			result.NewActive = ""
			return nil
		}

		nextID, allOthersExpired, err := nextParticipant(s, outgoing.ParticipantID, expectedNextParticipantID)
		if err != nil {
			return err
		}
		if allOthersExpired {
			s.Status = session.Completed
			s.SessionCompletedAt = timePtr(now)
			s.CycleStartedAt = nil
			result.NewActive = outgoing.ParticipantID
			return nil
		}

		outgoing.CycleCount++
		if s.IncrementMS > 0 {
			outgoing.TotalTimeMS += s.IncrementMS
		}
		s.ActiveParticipantID = nextID
		s.CycleStartedAt = timePtr(now)
		result.NewActive = nextID
		return nil
	})

	elapsed := time.Since(wallStart)
	e.metrics.ObserveSwitchLatency(elapsed)

	if err != nil {
		return nil, err
	}

	result.Record = rec
	result.SwitchTimestamp = e.clock.Now()
	result.LatencyMS = elapsed.Milliseconds()
	return result, nil
}

// Pause transitions running → paused (§4.3.1 pause).
func (e *Engine) Pause(ctx context.Context, sessionID string, expectedVersion *int64) (*session.Session, error) {
	return e.mutate(ctx, sessionID, expectedVersion, audit.EventUpdate, func(s *session.Session) error {
		if !session.ValidTransition(s.Status, session.Paused) {
			return &InvalidTransitionError{SessionID: sessionID, From: s.Status.String(), Operation: "pause"}
		}
		now := e.clock.Now()
		if active := s.ActiveParticipant(); active != nil && s.CycleStartedAt != nil {
			elapsedMS := now.Sub(*s.CycleStartedAt).Milliseconds()
			if elapsedMS < 0 {
				elapsedMS = 0
			}
			debitOnPause(s, active, elapsedMS)
		}
		s.Status = session.Paused
		s.CycleStartedAt = nil
		return nil
	})
}

// Resume transitions paused → running (§4.3.1 resume).
func (e *Engine) Resume(ctx context.Context, sessionID string, expectedVersion *int64) (*session.Session, error) {
	return e.mutate(ctx, sessionID, expectedVersion, audit.EventUpdate, func(s *session.Session) error {
		// resume's only legal predecessor is paused; start shares
		// running as a target from pending, so the narrower equality
		// check stays primary and ValidTransition is an added guard.
		if s.Status != session.Paused || !session.ValidTransition(s.Status, session.Running) {
			return &InvalidTransitionError{SessionID: sessionID, From: s.Status.String(), Operation: "resume"}
		}
		s.Status = session.Running
		s.CycleStartedAt = timePtr(e.clock.Now())
		return nil
	})
}

// Complete transitions running|paused → completed (§4.3.1 complete).
func (e *Engine) Complete(ctx context.Context, sessionID string, expectedVersion *int64) (*session.Session, error) {
	return e.mutate(ctx, sessionID, expectedVersion, audit.EventUpdate, func(s *session.Session) error {
		if !session.ValidTransition(s.Status, session.Completed) {
			return &InvalidTransitionError{SessionID: sessionID, From: s.Status.String(), Operation: "complete"}
		}
		s.Status = session.Completed
		s.SessionCompletedAt = timePtr(e.clock.Now())
		s.CycleStartedAt = nil
		return nil
	})
}

// Delete removes the record and fans out a tombstone (§4.3.1 delete;
// legal from any status).
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	snapshot, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return &StoreUnavailableError{Cause: err}
	}
	if snapshot == nil {
		return &NotFoundError{SessionID: sessionID}
	}

	if err := e.store.Delete(ctx, sessionID); err != nil {
		if isNotFound(err) {
			return &NotFoundError{SessionID: sessionID}
		}
		return &StoreUnavailableError{Cause: err}
	}

	e.enqueueAudit(sessionID, snapshot, audit.EventDelete)
	return nil
}

// AddParticipant appends a rotation slot (§4.3.1 add_participant).
func (e *Engine) AddParticipant(ctx context.Context, sessionID string, expectedVersion *int64, in ParticipantInput) (*session.Session, error) {
	return e.mutate(ctx, sessionID, expectedVersion, audit.EventUpdate, func(s *session.Session) error {
		if s.Status != session.Pending {
			return &InvalidTransitionError{SessionID: sessionID, From: s.Status.String(), Operation: "add_participant"}
		}
		if in.ParticipantID == "" {
			return &ValidationError{Field: "participant_id", Reason: "required"}
		}
		if s.ParticipantByID(in.ParticipantID) != nil {
			return &ValidationError{Field: "participant_id", Reason: "duplicate"}
		}
		for _, p := range s.Participants {
			if p.ParticipantIndex == in.ParticipantIndex {
				return &ValidationError{Field: "participant_index", Reason: "duplicate"}
			}
		}
		s.Participants = append(s.Participants, session.Participant{
			ParticipantID:    in.ParticipantID,
			ParticipantIndex: in.ParticipantIndex,
			TotalTimeMS:      in.TotalTimeMS,
			GroupID:          in.GroupID,
		})
		if s.SyncMode == session.PerGroup && in.GroupID != "" {
			if s.GroupPoolMS == nil {
				s.GroupPoolMS = make(map[string]int64)
			}
			if _, ok := s.GroupPoolMS[in.GroupID]; !ok {
				s.GroupPoolMS[in.GroupID] = in.TotalTimeMS
			}
		}
		return nil
	})
}

// AdjustTime sets a participant's total_time_ms out of band, requiring
// a reason (§4.3.1 adjust_time). Subject to audit back-pressure: when
// the audit queue is backlogged this non-critical write is rejected
// rather than the hot-path switch (§4.2 Back-pressure, §7 AuditBacklog).
func (e *Engine) AdjustTime(ctx context.Context, sessionID string, expectedVersion *int64, participantID string, newTotalTimeMS int64, reason string) (*session.Session, error) {
	if audit.IsBacklogged(e.queue) {
		return nil, &AuditBacklogError{Depth: e.queue.Depth()}
	}
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}

	return e.mutate(ctx, sessionID, expectedVersion, audit.EventUpdate, func(s *session.Session) error {
		if s.Status.IsTerminal() {
			return &InvalidTransitionError{SessionID: sessionID, From: s.Status.String(), Operation: "adjust_time"}
		}
		p := s.ParticipantByID(participantID)
		if p == nil {
			return &ValidationError{Field: "participant_id", Reason: "not a member of this session"}
		}
		p.TotalTimeMS = newTotalTimeMS
		return nil
	})
}
