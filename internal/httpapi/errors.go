package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/syncclock/timingsvc/internal/engine"
)

// writeError maps a typed engine error to an HTTP status and body per
// the taxonomy in spec.md §7. Unrecognized errors are reported as
// Internal (500); neither this function nor the handlers log them.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Kind: kind, Message: err.Error()}})
}

func classify(err error) (status int, kind string) {
	var (
		validation   *engine.ValidationError
		notFound     *engine.NotFoundError
		invalidTrans *engine.InvalidTransitionError
		conflict     *engine.ConcurrencyConflictError
		stale        *engine.StaleActorError
		unavailable  *engine.StoreUnavailableError
		backlog      *engine.AuditBacklogError
		exists       *engine.AlreadyExistsError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &exists):
		return http.StatusConflict, "already_exists"
	case errors.As(err, &invalidTrans):
		return http.StatusConflict, "invalid_transition"
	case errors.As(err, &conflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.As(err, &stale):
		return http.StatusConflict, "stale_actor"
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.As(err, &backlog):
		return http.StatusServiceUnavailable, "audit_backlog"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
