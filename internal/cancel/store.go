// Package cancel implements the process-external cancellation flag store.
// Cancellation is a pull model: the container executor polls
// IsCancelled every second during a run; this store only needs to answer
// that question cheaply and degrade safely when Redis is unreachable.
package cancel

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/beacon/internal/logging"
)

const (
	keyPrefix = "cancel:"
	// A cancellation flag outlives any single run by a
	// wide margin so a slow poller never misses it.
	flagTTL = time.Hour
)

// Store is the Redis-backed cancellation flag store.
type Store struct {
	client *redis.Client
}

// New creates a cancellation Store over an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(runID string) string {
	return keyPrefix + runID
}

// Set persists a cancellation flag for runID with a 1 hour TTL.
// Best-effort: a Redis error is logged, never returned, since the executor
// has nothing useful to do with it beyond continuing to poll.
func (s *Store) Set(ctx context.Context, runID string) {
	if s == nil || s.client == nil || runID == "" {
		return
	}
	if err := s.client.Set(ctx, s.key(runID), "1", flagTTL).Err(); err != nil {
		logging.Op().Warn("cancel: set flag failed", "run_id", runID, "error", err)
	}
}

// IsCancelled reports whether runID has a cancellation flag set. A
// connectivity failure degrades to "not cancelled" — losing the Redis link
// must never produce a false-positive cancellation.
func (s *Store) IsCancelled(ctx context.Context, runID string) bool {
	if s == nil || s.client == nil || runID == "" {
		return false
	}
	n, err := s.client.Exists(ctx, s.key(runID)).Result()
	if err != nil {
		logging.Op().Warn("cancel: check flag failed, degrading to not-cancelled", "run_id", runID, "error", err)
		return false
	}
	return n > 0
}

// Clear removes the cancellation flag for runID. Best-effort.
func (s *Store) Clear(ctx context.Context, runID string) {
	if s == nil || s.client == nil || runID == "" {
		return
	}
	if err := s.client.Del(ctx, s.key(runID)).Err(); err != nil {
		logging.Op().Warn("cancel: clear flag failed", "run_id", runID, "error", err)
	}
}
