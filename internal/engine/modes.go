package engine

import "github.com/syncclock/timingsvc/internal/session"

// debitOnSwitch applies the mode-specific debit for the elapsed cycle to
// the outgoing (currently active) participant, per spec.md §4.3.3. It
// returns the remaining budget after the debit, clamped to zero, and
// whether that budget has been exhausted (crossing into expiration).
func debitOnSwitch(s *session.Session, outgoing *session.Participant, elapsedMS int64) (remaining int64, expired bool) {
	return debitByMode(s, outgoing, elapsedMS)
}

func debitByMode(s *session.Session, outgoing *session.Participant, elapsedMS int64) (remaining int64, expired bool) {
	switch s.SyncMode {
	case session.PerParticipant:
		outgoing.TimeUsedMS += elapsedMS
		remaining = outgoing.TotalTimeMS - elapsedMS
		if remaining <= 0 {
			remaining = 0
			expired = true
		}
		outgoing.TotalTimeMS = remaining

	case session.PerCycle:
		// The outgoing participant's budget is ignored on switch — the
		// next turn starts fresh. Elapsed time is only added to
		// time_used_ms; time_per_cycle_ms is not consulted, so no
		// per-turn budget is enforced and a turn never expires here.
		outgoing.TimeUsedMS += elapsedMS
		remaining = outgoing.TotalTimeMS
		expired = false

	case session.PerGroup:
		pool := s.TotalTimeMS
		if outgoing.GroupID != "" {
			if v, ok := s.GroupPoolMS[outgoing.GroupID]; ok {
				pool = v
			}
		}
		pool -= elapsedMS
		if pool <= 0 {
			pool = 0
			expired = true
		}
		outgoing.TimeUsedMS += elapsedMS
		if outgoing.GroupID != "" {
			if s.GroupPoolMS == nil {
				s.GroupPoolMS = make(map[string]int64)
			}
			s.GroupPoolMS[outgoing.GroupID] = pool
		}
		outgoing.TotalTimeMS = pool
		remaining = pool

	case session.Global:
		pool := s.TotalTimeMS - elapsedMS
		if pool <= 0 {
			pool = 0
			expired = true
		}
		outgoing.TimeUsedMS += elapsedMS
		s.TotalTimeMS = pool
		remaining = pool

	case session.CountUp:
		outgoing.TimeUsedMS += elapsedMS
		remaining = outgoing.TotalTimeMS
		if s.MaxTimeMS != nil && outgoing.TimeUsedMS >= *s.MaxTimeMS {
			expired = true
		}

	default:
		remaining = outgoing.TotalTimeMS
	}

	return remaining, expired
}

// debitOnPause applies the same accounting as a switch's debit step, used
// by the pause operation (§4.3.1: "subtract from active participant's
// total_time_ms (if applicable to the mode)").
func debitOnPause(s *session.Session, active *session.Participant, elapsedMS int64) {
	_, _ = debitByMode(s, active, elapsedMS)
}
