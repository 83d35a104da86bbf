package session

// CheckInvariants checks I1 and I4 from spec.md §3 against a session
// snapshot, plus that active_participant_id names a known participant.
// I2 (version CAS) and I5 (terminal statuses) are enforced by the store
// and by each engine operation's own guards rather than here, and I3 is
// not checked. The engine calls it after every mutation, before the
// record is persisted (property P1); it also runs directly in this
// package's own tests.
func CheckInvariants(s *Session) []string {
	var violations []string

	activeCount := 0
	for _, p := range s.Participants {
		if p.IsActive {
			activeCount++
		}
	}
	// I1
	if s.Status == Running && s.ActiveParticipantID != "" {
		if activeCount != 1 {
			violations = append(violations, "I1: exactly one participant must be active while running")
		}
	} else if activeCount != 0 {
		violations = append(violations, "I1: no participant may be active while not running")
	}

	// I4
	if (s.CycleStartedAt != nil) != (s.Status == Running) {
		violations = append(violations, "I4: cycle_started_at must be non-nil iff status is running")
	}

	// Membership sanity: active participant id, if set, must exist.
	if s.ActiveParticipantID != "" && s.ParticipantByID(s.ActiveParticipantID) == nil {
		violations = append(violations, "active_participant_id does not reference a known participant")
	}

	return violations
}

// ValidTransition reports whether moving from one status to a distinct
// other status is legal per I6, as refined by the per-operation table
// in §4.3.1 (the `complete` operation's precondition is status ∈
// {running, paused}, so paused → completed is legal even though I6's
// prose enumeration omits it). Engine operations never need from == to
// to hold: each operation has a single, specific set of legal
// predecessor statuses, never "stay where you are".
func ValidTransition(from, to Status) bool {
	switch from {
	case Pending:
		return to == Running || to == Cancelled
	case Running:
		return to == Paused || to == Expired || to == Completed || to == Cancelled
	case Paused:
		return to == Running || to == Completed || to == Cancelled
	default:
		// Expired, Completed, Cancelled are terminal; only deletion
		// (modeled outside the Status type) is legal beyond this point.
		return false
	}
}
