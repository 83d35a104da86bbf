package engine

import "github.com/syncclock/timingsvc/internal/session"

// nextParticipant determines the participant who takes the clock next,
// per spec.md §4.3.4: ascending participant_index, wrapping, skipping
// has_expired participants. If override is non-empty, it is validated
// as a member and not expired. Returns ("", true) if every other
// participant is expired (the remaining one wins outright).
func nextParticipant(s *session.Session, currentID string, override string) (nextID string, allOthersExpired bool, err error) {
	if override != "" {
		p := s.ParticipantByID(override)
		if p == nil {
			return "", false, &ValidationError{Field: "next_participant_id", Reason: "not a member of this session"}
		}
		if p.HasExpired {
			return "", false, &ValidationError{Field: "next_participant_id", Reason: "participant has already expired"}
		}
		return override, false, nil
	}

	ordered := orderedByIndex(s.Participants)
	if len(ordered) == 0 {
		return "", false, nil
	}

	curIdx := -1
	for i, p := range ordered {
		if p.ParticipantID == currentID {
			curIdx = i
			break
		}
	}

	candidateCount := 0
	var sole string
	for _, p := range ordered {
		if p.ParticipantID != currentID && !p.HasExpired {
			candidateCount++
			sole = p.ParticipantID
		}
	}
	if candidateCount == 0 {
		return "", true, nil
	}

	for step := 1; step <= len(ordered); step++ {
		idx := (curIdx + step) % len(ordered)
		cand := ordered[idx]
		if cand.ParticipantID == currentID {
			continue
		}
		if cand.HasExpired {
			continue
		}
		return cand.ParticipantID, false, nil
	}

	// Defensive fallback: exactly one non-expired candidate exists but
	// the wrap above somehow missed it (e.g. currentID absent from the
	// slice). Should be unreachable given candidateCount > 0.
	return sole, false, nil
}

// orderedByIndex returns participants sorted ascending by
// ParticipantIndex. Uses insertion sort since session participant
// counts are small (turn-based sessions, not bulk data).
func orderedByIndex(participants []session.Participant) []session.Participant {
	ordered := make([]session.Participant, len(participants))
	copy(ordered, participants)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].ParticipantIndex < ordered[j-1].ParticipantIndex; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}

// firstParticipant returns the member with the lowest ParticipantIndex,
// used by start() when active_participant_id was not pre-set (§4.3.1).
func firstParticipant(s *session.Session) *session.Participant {
	if len(s.Participants) == 0 {
		return nil
	}
	ordered := orderedByIndex(s.Participants)
	return s.ParticipantByID(ordered[0].ParticipantID)
}
