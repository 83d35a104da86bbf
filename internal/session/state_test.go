package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSyncModeMarshalJSON(t *testing.T) {
	tests := []struct {
		mode     SyncMode
		expected string
	}{
		{PerParticipant, `"per_participant"`},
		{PerCycle, `"per_cycle"`},
		{PerGroup, `"per_group"`},
		{Global, `"global"`},
		{CountUp, `"count_up"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.mode)
		if err != nil {
			t.Errorf("Marshal(%v) error: %v", tt.mode, err)
			continue
		}
		if string(data) != tt.expected {
			t.Errorf("Marshal(%v) = %s, want %s", tt.mode, data, tt.expected)
		}
	}
}

func TestSyncModeUnmarshalJSON(t *testing.T) {
	var m SyncMode
	if err := json.Unmarshal([]byte(`"per_cycle"`), &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if m != PerCycle {
		t.Errorf("got %v, want PerCycle", m)
	}

	var bad SyncMode
	if err := json.Unmarshal([]byte(`"not_a_mode"`), &bad); err == nil {
		t.Error("expected error for unknown sync_mode")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{Pending, false},
		{Running, false},
		{Paused, false},
		{Expired, true},
		{Completed, true},
		{Cancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("IsTerminal(%v) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{Pending, Running, true},
		{Pending, Paused, false},
		{Running, Paused, true},
		{Paused, Running, true},
		{Running, Expired, true},
		{Running, Completed, true},
		{Running, Cancelled, true},
		{Expired, Running, false},
		{Completed, Paused, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestApplyDerivedFieldsPerParticipantRunning(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	start := now.Add(-3 * time.Second)
	s := &Session{
		SyncMode:            PerParticipant,
		Status:              Running,
		ActiveParticipantID: "p1",
		CycleStartedAt:      &start,
		Participants: []Participant{
			{ParticipantID: "p1", TotalTimeMS: 60000},
			{ParticipantID: "p2", TotalTimeMS: 60000},
		},
	}
	s.ApplyDerivedFields(now)

	p1 := s.ParticipantByID("p1")
	if !p1.IsActive {
		t.Error("p1 should be active")
	}
	if p1.TimeRemainingMS != 57000 {
		t.Errorf("p1.TimeRemainingMS = %d, want 57000", p1.TimeRemainingMS)
	}

	p2 := s.ParticipantByID("p2")
	if p2.IsActive {
		t.Error("p2 should not be active")
	}
	if p2.TimeRemainingMS != 60000 {
		t.Errorf("p2.TimeRemainingMS = %d, want 60000", p2.TimeRemainingMS)
	}
}

func TestApplyDerivedFieldsClampsToZero(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	start := now.Add(-90 * time.Second)
	s := &Session{
		SyncMode:            PerParticipant,
		Status:              Running,
		ActiveParticipantID: "p1",
		CycleStartedAt:      &start,
		Participants: []Participant{
			{ParticipantID: "p1", TotalTimeMS: 60000},
		},
	}
	s.ApplyDerivedFields(now)
	if s.Participants[0].TimeRemainingMS != 0 {
		t.Errorf("TimeRemainingMS = %d, want 0", s.Participants[0].TimeRemainingMS)
	}
}

func TestCloneDeepCopiesPointersAndSlices(t *testing.T) {
	ts := time.Now()
	cycleMS := int64(30000)
	s := &Session{
		SessionID:      "s1",
		TimePerCycleMS: &cycleMS,
		CycleStartedAt: &ts,
		Participants:   []Participant{{ParticipantID: "p1", TotalTimeMS: 1000}},
		GroupPoolMS:    map[string]int64{"g1": 5000},
	}
	clone := s.Clone()

	clone.Participants[0].TotalTimeMS = 999
	*clone.TimePerCycleMS = 1
	clone.GroupPoolMS["g1"] = 1

	if s.Participants[0].TotalTimeMS != 1000 {
		t.Error("mutating clone.Participants mutated original")
	}
	if *s.TimePerCycleMS != 30000 {
		t.Error("mutating clone.TimePerCycleMS mutated original")
	}
	if s.GroupPoolMS["g1"] != 5000 {
		t.Error("mutating clone.GroupPoolMS mutated original")
	}
}

func TestCheckInvariants(t *testing.T) {
	start := time.Now()
	s := &Session{
		Status:              Running,
		ActiveParticipantID: "p1",
		CycleStartedAt:      &start,
		Participants: []Participant{
			{ParticipantID: "p1", IsActive: true},
			{ParticipantID: "p2", IsActive: false},
		},
	}
	if v := CheckInvariants(s); len(v) != 0 {
		t.Errorf("expected no violations, got %v", v)
	}

	s.Participants[1].IsActive = true
	if v := CheckInvariants(s); len(v) == 0 {
		t.Error("expected I1 violation for two active participants")
	}
}
