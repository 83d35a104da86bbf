package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestIsPoisonConstraintViolation(t *testing.T) {
	err := &pq.Error{Code: "23505"} // unique_violation
	if !isPoison(err) {
		t.Error("expected constraint violation to be classified as poison")
	}
}

func TestIsPoisonTransportErrorRetryable(t *testing.T) {
	err := errors.New("connection reset by peer")
	if isPoison(err) {
		t.Error("expected transport error to be retryable, not poison")
	}
}

func TestIsPoisonMarshalFailure(t *testing.T) {
	err := &poisonError{cause: errors.New("json: unsupported type")}
	if !isPoison(err) {
		t.Error("expected poisonError to be classified as poison")
	}
}

func TestFixedScheduleMatchesSpecTable(t *testing.T) {
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
	}
	s := newFixedSchedule()
	for i, d := range want {
		got := s.NextBackOff()
		if got != d {
			t.Errorf("attempt %d: backoff = %v, want %v", i, got, d)
		}
	}
	if s.NextBackOff() != -1 { // backoff.Stop
		t.Error("expected backoff.Stop after exhausting the schedule")
	}
}

func TestRetentionLogBoundsByCount(t *testing.T) {
	r := newRetentionLog(3, time.Hour)
	for i := 0; i < 10; i++ {
		r.recordCompleted(Job{SessionID: "s1"})
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestIsBackloggedHonorsHighWaterMark(t *testing.T) {
	q := NewFakeQueue(2)
	if IsBacklogged(q) {
		t.Error("empty queue should not be backlogged")
	}
	_ = q.Enqueue(Job{SessionID: "a"})
	_ = q.Enqueue(Job{SessionID: "b"})
	_ = q.Enqueue(Job{SessionID: "c"})
	if !IsBacklogged(q) {
		t.Error("expected queue to be backlogged past the high-water mark")
	}
}

func TestIsBackloggedDisabledWhenMarkIsZero(t *testing.T) {
	q := NewFakeQueue(0)
	for i := 0; i < 100; i++ {
		_ = q.Enqueue(Job{SessionID: "a"})
	}
	if IsBacklogged(q) {
		t.Error("high-water mark of 0 should disable back-pressure")
	}
}
