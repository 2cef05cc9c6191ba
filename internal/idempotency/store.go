// Package idempotency remembers the outcome of keyed workflow runs so a
// retried request replays the recorded envelope instead of running again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/switchboard/model"
)

// Store records run outcomes by idempotency key.
type Store interface {
	// Check returns the recorded envelope for key. A key recorded with a
	// different input hash yields a CONFLICT error with found set.
	Check(ctx context.Context, key, inputHash string) (resp *model.Response, found bool, err error)
	// Put records resp under key for ttl.
	Put(ctx context.Context, key, inputHash string, resp model.Response, ttl time.Duration) error
}

type entry struct {
	InputHash string         `json:"input_hash"`
	Response  model.Response `json:"response"`
}

// Key builds the storage key for a client key scoped to one workflow.
func Key(workflowID, key string) string {
	return fmt.Sprintf("idem:%s:%s", workflowID, key)
}

// HashInput returns a stable digest of v's JSON form. Map keys are sorted by
// encoding/json, so equal inputs hash equally.
func HashInput(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = fmt.Appendf(nil, "%v", v)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func conflict(key string) error {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with different input", key))
}

// --- MemoryStore ---

// MemoryStore is an in-process Store with per-entry expiry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

// Check looks up key, dropping it when expired.
func (s *MemoryStore) Check(_ context.Context, key, inputHash string) (*model.Response, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	if e.data.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	resp := e.data.Response
	return &resp, true, nil
}

// Put records resp under key.
func (s *MemoryStore) Put(_ context.Context, key, inputHash string, resp model.Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		data:      entry{InputHash: inputHash, Response: resp},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore keeps entries in Redis with a key TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up key in Redis.
func (s *RedisStore) Check(ctx context.Context, key, inputHash string) (*model.Response, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if e.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	return &e.Response, true, nil
}

// Put records resp under key with ttl.
func (s *RedisStore) Put(ctx context.Context, key, inputHash string, resp model.Response, ttl time.Duration) error {
	data, err := json.Marshal(entry{InputHash: inputHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}
