package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/engine"
	"github.com/syncclock/timingsvc/internal/session"
)

// Handler exposes the REST surface of §6 over an Engine. It holds no
// session state itself; every request is a thin translation to an
// Engine call and back to a DTO.
type Handler struct {
	engine *engine.Engine
	clock  engine.Clock
	log    *zap.Logger
}

// NewHandler constructs a Handler. clock supplies server_time_ms on
// responses; in production this is the same SystemClock wired into the
// engine.
func NewHandler(e *engine.Engine, clock engine.Clock, log *zap.Logger) *Handler {
	return &Handler{engine: e, clock: clock, log: log}
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err.Error() == "EOF" {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sessionIDParam(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

// CreateSession handles POST /sessions (§6).
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	quoted, _ := json.Marshal(req.SyncMode)
	var mode session.SyncMode
	if err := mode.UnmarshalJSON(quoted); err != nil {
		writeError(w, &engine.ValidationError{Field: "sync_mode", Reason: "unrecognized mode"})
		return
	}

	participants := make([]engine.ParticipantInput, 0, len(req.Participants))
	for _, p := range req.Participants {
		participants = append(participants, p.toEngine())
	}

	rec, err := h.engine.Create(r.Context(), engine.CreateRequest{
		SessionID:      req.SessionID,
		SyncMode:       mode,
		Participants:   participants,
		TimePerCycleMS: req.TimePerCycleMS,
		IncrementMS:    req.IncrementMS,
		MaxTimeMS:      req.MaxTimeMS,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wrapSession(rec, h.clock.Now()))
}

// GetSession handles GET /sessions/:sessionID (§6).
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Get(r.Context(), sessionIDParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSession(rec, h.clock.Now()))
}

// DeleteSession handles DELETE /sessions/:sessionID (§6).
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDParam(r)
	if err := h.engine.Delete(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "deleted"})
}

// StartSession handles POST /sessions/:sessionID/start (§6).
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req versionedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	rec, err := h.engine.Start(r.Context(), sessionIDParam(r), req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSession(rec, h.clock.Now()))
}

// SwitchSession handles POST /sessions/:sessionID/switch, the hot path
// of §4.3.2.
func (h *Handler) SwitchSession(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	sessionID := sessionIDParam(r)
	result, err := h.engine.Switch(r.Context(), sessionID, req.Version, req.CurrentParticipantID, req.NextParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSwitch(sessionID, result))
}

// PauseSession handles POST /sessions/:sessionID/pause (§6).
func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	var req versionedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	rec, err := h.engine.Pause(r.Context(), sessionIDParam(r), req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSession(rec, h.clock.Now()))
}

// ResumeSession handles POST /sessions/:sessionID/resume (§6).
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	var req versionedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	rec, err := h.engine.Resume(r.Context(), sessionIDParam(r), req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSession(rec, h.clock.Now()))
}

// CompleteSession handles POST /sessions/:sessionID/complete (§6).
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	var req versionedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	rec, err := h.engine.Complete(r.Context(), sessionIDParam(r), req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSession(rec, h.clock.Now()))
}

// AddParticipant handles POST /sessions/:sessionID/participants (§6).
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var req addParticipantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	rec, err := h.engine.AddParticipant(r.Context(), sessionIDParam(r), req.Version, engine.ParticipantInput{
		ParticipantID:    req.ParticipantID,
		ParticipantIndex: req.ParticipantIndex,
		TotalTimeMS:      req.TotalTimeMS,
		GroupID:          req.GroupID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSession(rec, h.clock.Now()))
}

// AdjustParticipantTime handles PATCH /sessions/:sessionID/participants/:participantID
// (§6, §4.3.1 adjust_time).
func (h *Handler) AdjustParticipantTime(w http.ResponseWriter, r *http.Request) {
	var req adjustTimeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, &engine.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	rec, err := h.engine.AdjustTime(r.Context(), sessionIDParam(r), req.Version, chi.URLParam(r, "participantID"), req.TotalTimeMS, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wrapSession(rec, h.clock.Now()))
}

// ServerTime handles GET /time, the clock-sync anchor clients use to
// reconcile time_remaining_ms against their own wall clock (§4.3.5).
func (h *Handler) ServerTime(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	writeJSON(w, http.StatusOK, timeResponse{ServerTime: now, TimestampMS: now.UnixMilli()})
}
