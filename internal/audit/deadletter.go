package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

// deadLetterStore records jobs that exhausted every retry attempt into
// sync_dead_letters (§4.2: "moved to a dead-letter sink and an alert is
// raised"). Raising the alert itself is the caller's concern (the
// worker logs at error level; an external alerting pipeline is out of
// scope per spec.md §1).
type deadLetterStore struct {
	db *sqlx.DB
}

func newDeadLetterStore(db *sqlx.DB) *deadLetterStore {
	return &deadLetterStore{db: db}
}

func (d *deadLetterStore) record(ctx context.Context, job Job, cause error) error {
	snapshot, err := json.Marshal(job.StateSnapshot)
	if err != nil {
		snapshot = []byte("null")
	}

	var causeMsg string
	if cause != nil {
		causeMsg = cause.Error()
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO sync_dead_letters (session_id, event_type, snapshot, failure_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, job.SessionID, string(job.EventType), snapshot, causeMsg, time.Now())
	return err
}
