package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/session"
)

// backoffSchedule is the fixed 5-attempt exponential schedule from
// spec.md §4.2: 2s, 4s, 8s, 16s, 32s.
var backoffSchedule = []time.Duration{
	2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
}

// Config bounds the PostgresQueue's behavior (§4.2).
type Config struct {
	Workers        int // fixed at 10 per spec.md, configurable for tests
	HighWaterMark  int
	QueueCapacity  int // buffered-channel capacity; a safety valve, not the back-pressure signal
	RetentionCount int // last N completed jobs kept for introspection (default 100)
	RetentionTTL   time.Duration // default 1h
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.RetentionCount <= 0 {
		c.RetentionCount = 100
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = time.Hour
	}
	return c
}

// PostgresQueue is the production Queue: a buffered channel drained by a
// fixed worker pool, each worker upserting into sync_sessions and
// inserting into sync_events (§6 Persistent state) via sqlx over
// lib/pq, with exponential-backoff retry and poison/dead-letter
// classification.
//
// The worker-pool + non-blocking-enqueue shape follows the teacher's
// internal/ws/broadcast.go client.send buffered channel + writePump
// goroutine idiom.
type PostgresQueue struct {
	db     *sqlx.DB
	cfg    Config
	logger *zap.Logger

	jobs  chan Job
	depth atomic.Int64

	deadLetter *deadLetterStore
	retention  *retentionLog

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewPostgresQueue constructs a queue and starts its worker pool. db
// must already be connected (lib/pq driver registered via sqlx.Connect
// or sqlx.NewDb — left to the caller, per main.go's bootstrap order).
func NewPostgresQueue(db *sqlx.DB, cfg Config, logger *zap.Logger) *PostgresQueue {
	cfg = cfg.withDefaults()
	q := &PostgresQueue{
		db:         db,
		cfg:        cfg,
		logger:     logger,
		jobs:       make(chan Job, cfg.QueueCapacity),
		deadLetter: newDeadLetterStore(db),
		retention:  newRetentionLog(cfg.RetentionCount, cfg.RetentionTTL),
		closed:     make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

func (q *PostgresQueue) Enqueue(job Job) error {
	select {
	case <-q.closed:
		return errors.New("audit: queue is closed")
	default:
	}

	select {
	case q.jobs <- job:
		q.depth.Add(1)
		return nil
	default:
		// Channel genuinely full: a safety valve distinct from the
		// soft HighWaterMark signal the engine checks proactively.
		return &ErrBacklogged{Depth: int(q.depth.Load()), Limit: q.cfg.QueueCapacity}
	}
}

func (q *PostgresQueue) Depth() int         { return int(q.depth.Load()) }
func (q *PostgresQueue) HighWaterMark() int { return q.cfg.HighWaterMark }

// Close stops accepting work (Enqueue calls that start after Close
// return an error; Enqueue must not run concurrently with Close) and
// waits for in-flight jobs to drain, bounded by ctx.
func (q *PostgresQueue) Close(ctx context.Context) error {
	q.closeOnce.Do(func() {
		close(q.closed)
		close(q.jobs)
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *PostgresQueue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(job)
		q.depth.Add(-1)
	}
}

func (q *PostgresQueue) process(job Job) {
	attempt := 0
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := q.writeJob(ctx, job)
		if err == nil {
			return nil
		}
		if isPoison(err) {
			q.logger.Error("audit job is poison, not retrying",
				zap.String("session_id", job.SessionID), zap.Error(err))
			return backoff.Permanent(err)
		}
		q.logger.Warn("audit job failed, retrying",
			zap.String("session_id", job.SessionID),
			zap.Int("attempt", attempt+1), zap.Error(err))
		attempt++
		return err
	}

	err := backoff.Retry(op, newFixedSchedule())
	if err == nil {
		q.retention.recordCompleted(job)
		return
	}

	q.logger.Error("audit job exhausted retries, moving to dead letter",
		zap.String("session_id", job.SessionID), zap.Error(err))
	if dlErr := q.deadLetter.record(context.Background(), job, err); dlErr != nil {
		q.logger.Error("failed to record dead letter", zap.Error(dlErr))
	}
}

// writeJob performs the durable write: upsert sync_sessions (summary),
// insert sync_events (append-only log with full snapshot), per §6.
func (q *PostgresQueue) writeJob(ctx context.Context, job Job) error {
	snapshot, err := json.Marshal(job.StateSnapshot)
	if err != nil {
		// Malformed snapshot can never succeed on retry: poison.
		return &poisonError{cause: err}
	}

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status, syncMode string
	if job.StateSnapshot != nil {
		status = job.StateSnapshot.Status.String()
		syncMode = job.StateSnapshot.SyncMode.String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_sessions (session_id, sync_mode, status, version, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			sync_mode = EXCLUDED.sync_mode,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`, job.SessionID, syncMode, status, versionOf(job.StateSnapshot), snapshot, job.Timestamp)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_events (session_id, event_type, snapshot, occurred_at)
		VALUES ($1, $2, $3, $4)
	`, job.SessionID, string(job.EventType), snapshot, job.Timestamp)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func versionOf(s *session.Session) int64 {
	if s == nil {
		return 0
	}
	return s.Version
}

// poisonError marks an error as non-retryable (a constraint violation
// or a snapshot that will never successfully marshal/unmarshal).
type poisonError struct{ cause error }

func (e *poisonError) Error() string { return e.cause.Error() }
func (e *poisonError) Unwrap() error { return e.cause }

// isPoison classifies constraint violations as poison (§4.2
// Classification): not retried. Transport/timeout errors fall through
// to the retry path.
func isPoison(err error) bool {
	var p *poisonError
	if errors.As(err, &p) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 23 = integrity constraint violation.
		return len(pqErr.Code) >= 2 && pqErr.Code[:2] == "23"
	}
	return false
}

// fixedSchedule implements backoff.BackOff over the literal 5-attempt
// table in backoffSchedule rather than a computed exponential curve,
// so the retry timing matches spec.md §4.2 exactly.
type fixedSchedule struct{ next int }

func newFixedSchedule() *fixedSchedule { return &fixedSchedule{} }

func (f *fixedSchedule) Reset() { f.next = 0 }

func (f *fixedSchedule) NextBackOff() time.Duration {
	if f.next >= len(backoffSchedule) {
		return backoff.Stop
	}
	d := backoffSchedule[f.next]
	f.next++
	return d
}
