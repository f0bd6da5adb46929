package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// pendingTTL bounds how long a crashed request can block its key.
const pendingTTL = 30 * time.Second

const keyPrefix = "accounts:idempotency:"

// ErrNotFound is returned by Get when the key has expired or was released.
var ErrNotFound = errors.New("idempotency record not found")

// Record is the stored state of one idempotent request.
type Record struct {
	Fingerprint string      `json:"fingerprint"`
	Completed   bool        `json:"completed"`
	Status      int         `json:"status,omitempty"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

// Store persists idempotency records.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Complete(ctx context.Context, key string, rec *Record) error
	Release(ctx context.Context, key string) error
}

// RedisStore implements Store on Redis. Reserve uses SETNX so only one
// request per key runs at a time across all instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Reserve claims key for a new request. It returns false if the key is
// already pending or completed.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string) (bool, error) {
	payload, err := json.Marshal(Record{Fingerprint: fingerprint})
	if err != nil {
		return false, fmt.Errorf("marshal idempotency record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+key, payload, pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Complete stores the final response under key for the full TTL.
func (s *RedisStore) Complete(ctx context.Context, key string, rec *Record) error {
	rec.Completed = true
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release drops a reservation so the client may retry with the same key.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable. Used as a readiness check.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
