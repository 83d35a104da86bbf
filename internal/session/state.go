// Package session defines the session-timing data model shared by the
// engine, the primary store adapter, and the real-time delivery layer.
package session

import (
	"encoding/json"
	"reflect"
	"time"
)

// SyncMode selects the time-accounting rules applied on switch (§4.3.3).
type SyncMode int

const (
	PerParticipant SyncMode = iota
	PerCycle
	PerGroup
	Global
	CountUp
)

var syncModeNames = map[SyncMode]string{
	PerParticipant: "per_participant",
	PerCycle:       "per_cycle",
	PerGroup:       "per_group",
	Global:         "global",
	CountUp:        "count_up",
}

var syncModeFromName = map[string]SyncMode{
	"per_participant": PerParticipant,
	"per_cycle":       PerCycle,
	"per_group":       PerGroup,
	"global":          Global,
	"count_up":        CountUp,
}

func (m SyncMode) String() string {
	if s, ok := syncModeNames[m]; ok {
		return s
	}
	return "unknown"
}

func (m SyncMode) Valid() bool {
	_, ok := syncModeNames[m]
	return ok
}

func (m SyncMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *SyncMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := syncModeFromName[s]
	if !ok {
		return &json.UnmarshalTypeError{Value: s, Type: reflect.TypeOf(*m)}
	}
	*m = v
	return nil
}

// Status is the session lifecycle state (§4.3.6).
type Status int

const (
	Pending Status = iota
	Running
	Paused
	Expired
	Completed
	Cancelled
)

var statusNames = map[Status]string{
	Pending:   "pending",
	Running:   "running",
	Paused:    "paused",
	Expired:   "expired",
	Completed: "completed",
	Cancelled: "cancelled",
}

var statusFromName = map[string]Status{
	"pending":   Pending,
	"running":   Running,
	"paused":    Paused,
	"expired":   Expired,
	"completed": Completed,
	"cancelled": Cancelled,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// IsTerminal reports whether the status is one from which no mutating
// operation other than delete is legal (spec.md I5).
func (s Status) IsTerminal() bool {
	return s == Expired || s == Completed || s == Cancelled
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, ok := statusFromName[str]
	if !ok {
		return &json.UnmarshalTypeError{Value: str, Type: reflect.TypeOf(*s)}
	}
	*s = v
	return nil
}

// Participant is one rotation slot in a session (§3).
type Participant struct {
	ParticipantID    string `json:"participant_id"`
	ParticipantIndex int    `json:"participant_index"`
	TotalTimeMS      int64  `json:"total_time_ms"`
	TimeUsedMS       int64  `json:"time_used_ms"`
	CycleCount       int    `json:"cycle_count"`
	HasExpired       bool   `json:"has_expired"`
	GroupID          string `json:"group_id,omitempty"`

	// derived: recomputed by ApplyDerivedFields on every read (§4.3.5).
	// The engine also applies them before each write, so the stored
	// record carries the values as of its last write; those stored
	// values are never read back as authoritative.
	IsActive        bool  `json:"is_active"`
	TimeRemainingMS int64 `json:"time_remaining_ms"`
}

// Session is the authoritative per-session record (§3).
type Session struct {
	SessionID           string        `json:"session_id"`
	SyncMode             SyncMode     `json:"sync_mode"`
	Status               Status       `json:"status"`
	Version              int64        `json:"version"`
	Participants         []Participant `json:"participants"`
	ActiveParticipantID  string        `json:"active_participant_id,omitempty"`
	TotalTimeMS          int64         `json:"total_time_ms"`
	TimePerCycleMS       *int64        `json:"time_per_cycle_ms,omitempty"`
	IncrementMS          int64         `json:"increment_ms"`
	MaxTimeMS            *int64        `json:"max_time_ms,omitempty"`
	CycleStartedAt       *time.Time    `json:"cycle_started_at,omitempty"`
	SessionStartedAt     *time.Time    `json:"session_started_at,omitempty"`
	SessionCompletedAt   *time.Time    `json:"session_completed_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`

	// GroupPoolMS tracks remaining pooled budget per group_id, used only
	// by PerGroup mode. Keyed by group id.
	GroupPoolMS map[string]int64 `json:"group_pool_ms,omitempty"`
}

// Clone returns a deep copy of the session, duplicating pointer and slice
// fields so the copy can be mutated independently of the original.
// Mirrors the teacher's SessionState.Clone shape.
func (s *Session) Clone() *Session {
	c := *s
	if len(s.Participants) > 0 {
		c.Participants = make([]Participant, len(s.Participants))
		copy(c.Participants, s.Participants)
	}
	if s.TimePerCycleMS != nil {
		v := *s.TimePerCycleMS
		c.TimePerCycleMS = &v
	}
	if s.MaxTimeMS != nil {
		v := *s.MaxTimeMS
		c.MaxTimeMS = &v
	}
	if s.CycleStartedAt != nil {
		v := *s.CycleStartedAt
		c.CycleStartedAt = &v
	}
	if s.SessionStartedAt != nil {
		v := *s.SessionStartedAt
		c.SessionStartedAt = &v
	}
	if s.SessionCompletedAt != nil {
		v := *s.SessionCompletedAt
		c.SessionCompletedAt = &v
	}
	if len(s.GroupPoolMS) > 0 {
		c.GroupPoolMS = make(map[string]int64, len(s.GroupPoolMS))
		for k, v := range s.GroupPoolMS {
			c.GroupPoolMS[k] = v
		}
	}
	return &c
}

// ParticipantByID returns a pointer into s.Participants for in-place
// mutation, or nil if not found.
func (s *Session) ParticipantByID(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ParticipantID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// ActiveParticipant returns the participant currently on the clock, or nil.
func (s *Session) ActiveParticipant() *Participant {
	if s.ActiveParticipantID == "" {
		return nil
	}
	return s.ParticipantByID(s.ActiveParticipantID)
}

// ApplyDerivedFields computes time_remaining_ms and is_active for every
// participant as of now, per spec.md §4.3.5. It never mutates
// TotalTimeMS/TimeUsedMS — only the derived fields. Safe to call
// repeatedly; idempotent for a fixed now.
func (s *Session) ApplyDerivedFields(now time.Time) {
	for i := range s.Participants {
		p := &s.Participants[i]
		isActive := s.Status == Running && p.ParticipantID == s.ActiveParticipantID
		p.IsActive = isActive

		budget := p.TotalTimeMS
		if s.SyncMode == PerGroup && p.GroupID != "" {
			if v, ok := s.GroupPoolMS[p.GroupID]; ok {
				budget = v
			}
		}

		switch {
		case s.SyncMode == CountUp:
			p.TimeRemainingMS = 0
		case isActive && s.CycleStartedAt != nil:
			elapsed := now.Sub(*s.CycleStartedAt).Milliseconds()
			remaining := budget - elapsed
			if remaining < 0 {
				remaining = 0
			}
			p.TimeRemainingMS = remaining
		default:
			p.TimeRemainingMS = budget
		}
	}
}

// GroupMembers returns the indices of participants sharing groupID.
func (s *Session) GroupMembers(groupID string) []int {
	var idx []int
	for i, p := range s.Participants {
		if p.GroupID == groupID {
			idx = append(idx, i)
		}
	}
	return idx
}
