package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syncclock/timingsvc/internal/session"
)

const sessionKeyPrefix = "session:"

// DefaultTTL is the default session TTL, refreshed on every write
// (spec.md §3 Lifecycle).
const DefaultTTL = 3600 * time.Second

// RedisStore implements Store using Redis: JSON-blob-per-key encoding,
// WATCH/MULTI/EXEC optimistic locking, and native PUBLISH/SUBSCRIBE for
// the two logical channels. Grounded on the pack's creastat-storage
// Redis session driver (key scheme, TTL-on-read) and abramin-Credo's
// WATCH/MULTI/EXEC conflict-detection pattern.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore over an already-configured client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", sessionID, err)
	}

	var rec session.Session
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", sessionID, err)
	}

	// Refresh TTL on read (§3 Lifecycle: "TTL, refreshed on every write");
	// a read-side refresh keeps actively polled sessions alive too. A
	// failure here is not fatal to the read.
	_ = s.client.Expire(ctx, s.key(sessionID), s.ttl).Err()

	return &rec, nil
}

func (s *RedisStore) Create(ctx context.Context, rec *session.Session) error {
	now := time.Now().UTC()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", rec.SessionID, err)
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.SessionID), val, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store: create %s: %w", rec.SessionID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	s.publishStateChange(ctx, rec.SessionID, rec)
	return nil
}

// Update performs the CAS described in §4.1: succeeds only if the stored
// version equals expectedVersion. Uses WATCH/MULTI/EXEC, the mechanism
// spec.md §9 calls out as the non-"client-side read-then-write"
// acceptable form of optimistic locking for a Redis backend.
func (s *RedisStore) Update(ctx context.Context, sessionID string, rec *session.Session, expectedVersion int64) (int64, error) {
	key := s.key(sessionID)
	var newVersion int64

	txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored session.Session
		if err := json.Unmarshal([]byte(val), &stored); err != nil {
			return err
		}

		if stored.Version != expectedVersion {
			return &ConflictError{Expected: expectedVersion, Actual: stored.Version}
		}

		rec.Version = stored.Version + 1
		rec.UpdatedAt = time.Now().UTC()
		newVersion = rec.Version

		newVal, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)

	if txErr != nil {
		var conflict *ConflictError
		if errors.As(txErr, &conflict) {
			return 0, conflict
		}
		if errors.Is(txErr, ErrNotFound) {
			return 0, ErrNotFound
		}
		if errors.Is(txErr, redis.TxFailedErr) {
			// Someone else committed between our GET and EXEC; the
			// caller's retry loop will re-read and discover the true
			// current version.
			return 0, &ConflictError{Expected: expectedVersion, Actual: -1}
		}
		return 0, fmt.Errorf("store: update %s: %w", sessionID, txErr)
	}

	s.publishStateChange(ctx, sessionID, rec)
	return newVersion, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", sessionID, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.publishStateChange(ctx, sessionID, nil)
	return nil
}

func (s *RedisStore) PublishFanout(ctx context.Context, sessionID string, message []byte) error {
	if err := s.client.Publish(ctx, FanoutChannel(sessionID), message).Err(); err != nil {
		return fmt.Errorf("store: publish fanout %s: %w", sessionID, err)
	}
	return nil
}

// stateChangeEnvelope is the length-framed JSON blob published on
// StateChangeChannel (§4.1): the post-mutation record, or a tombstone.
type stateChangeEnvelope struct {
	SessionID string           `json:"session_id"`
	Record    *session.Session `json:"record"`
	Tombstone bool             `json:"tombstone"`
}

func (s *RedisStore) publishStateChange(ctx context.Context, sessionID string, rec *session.Session) {
	env := stateChangeEnvelope{SessionID: sessionID, Record: rec, Tombstone: rec == nil}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	// A publish failure (or an encode failure above) does not fail the
	// mutation — the store is the source of truth. The error is
	// discarded; nothing logs it.
	_ = s.client.Publish(ctx, StateChangeChannel, data).Err()
}

func (s *RedisStore) SubscribeStateChange(ctx context.Context, handler StateChangeHandler) error {
	sub := s.client.Subscribe(ctx, StateChangeChannel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env stateChangeEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				handler(env.SessionID, env.Record)
			}
		}
	}()
	return nil
}

func (s *RedisStore) SubscribeFanout(ctx context.Context, handler FanoutHandler) error {
	sub := s.client.PSubscribe(ctx, "ws:*")
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				sessionID := msg.Channel[len("ws:"):]
				handler(sessionID, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
