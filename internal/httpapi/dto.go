package httpapi

import (
	"time"

	"github.com/syncclock/timingsvc/internal/engine"
	"github.com/syncclock/timingsvc/internal/session"
)

// createSessionRequest is the body of POST /sessions (§6).
type createSessionRequest struct {
	SessionID      string             `json:"session_id"`
	SyncMode       string             `json:"sync_mode"`
	Participants   []participantInput `json:"participants"`
	TimePerCycleMS *int64             `json:"time_per_cycle_ms,omitempty"`
	IncrementMS    int64              `json:"increment_ms"`
	MaxTimeMS      *int64             `json:"max_time_ms,omitempty"`
}

type participantInput struct {
	ParticipantID    string `json:"participant_id"`
	ParticipantIndex int    `json:"participant_index"`
	TotalTimeMS      int64  `json:"total_time_ms"`
	GroupID          string `json:"group_id,omitempty"`
}

func (p participantInput) toEngine() engine.ParticipantInput {
	return engine.ParticipantInput{
		ParticipantID:    p.ParticipantID,
		ParticipantIndex: p.ParticipantIndex,
		TotalTimeMS:      p.TotalTimeMS,
		GroupID:          p.GroupID,
	}
}

// versionedRequest is embedded by every mutating request body carrying
// an optional explicit CAS version (§4.3.1).
type versionedRequest struct {
	Version *int64 `json:"version,omitempty"`
}

type switchRequest struct {
	versionedRequest
	CurrentParticipantID string `json:"current_participant_id,omitempty"`
	NextParticipantID    string `json:"next_participant_id,omitempty"`
}

type addParticipantRequest struct {
	versionedRequest
	ParticipantID    string `json:"participant_id"`
	ParticipantIndex int    `json:"participant_index"`
	TotalTimeMS      int64  `json:"total_time_ms"`
	GroupID          string `json:"group_id,omitempty"`
}

type adjustTimeRequest struct {
	versionedRequest
	TotalTimeMS int64  `json:"total_time_ms"`
	Reason      string `json:"reason"`
}

// sessionResponse wraps a full session record with the server_time the
// client aligns against (§4.3.5, §6).
type sessionResponse struct {
	*session.Session
	ServerTimeMS int64 `json:"server_time_ms"`
}

func wrapSession(s *session.Session, now time.Time) sessionResponse {
	return sessionResponse{Session: s, ServerTimeMS: now.UnixMilli()}
}

type switchResponse struct {
	SessionID            string    `json:"session_id"`
	Previous             string    `json:"previous_participant_id"`
	NewActive            string    `json:"new_active_participant_id,omitempty"`
	ExpiredParticipantID string    `json:"expired_participant_id,omitempty"`
	Status               string    `json:"status"`
	SwitchTimestamp      time.Time `json:"switch_timestamp"`
	LatencyMS            int64     `json:"latency_ms"`
}

func wrapSwitch(sessionID string, r *engine.SwitchResult) switchResponse {
	resp := switchResponse{
		SessionID:       sessionID,
		Previous:        r.Previous,
		NewActive:       r.NewActive,
		Status:          r.Record.Status.String(),
		SwitchTimestamp: r.SwitchTimestamp,
		LatencyMS:       r.LatencyMS,
	}
	if r.Record.Status == session.Expired {
		resp.ExpiredParticipantID = r.Previous
	}
	return resp
}

type timeResponse struct {
	ServerTime  time.Time `json:"server_time"`
	TimestampMS int64     `json:"timestamp_ms"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
