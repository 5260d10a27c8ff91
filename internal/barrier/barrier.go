// Package barrier implements the per-execution-group completion barrier:
// a transient Redis set tracking which locations have reported in for a
// monitor tick, so that exactly one worker — the one that observes the
// last expected location — becomes the aggregator.
package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/beacon/internal/domain"
)

const (
	keyPrefix = "barrier:"
	// 120s is generously longer than the ~200ms settle sleep
	// the aggregator performs after observing the barrier is complete.
	ttl = 120 * time.Second
)

// Barrier wraps the SADD/SCARD/EXPIRE protocol over Redis.
type Barrier struct {
	client *redis.Client
}

// New creates a Barrier over an existing Redis client.
func New(client *redis.Client) *Barrier {
	return &Barrier{client: client}
}

func key(groupID string) string {
	return keyPrefix + groupID
}

// Report registers that location has reported in for groupID and returns
// whether this call observed the barrier as complete — i.e. this worker is
// the aggregator. SADD is atomic, so exactly one caller observes
// scard == expected even under concurrent reports.
func (b *Barrier) Report(ctx context.Context, groupID string, location domain.LocationCode, expected int) (complete bool, err error) {
	k := key(groupID)

	pipe := b.client.TxPipeline()
	added := pipe.SAdd(ctx, k, string(location))
	pipe.Expire(ctx, k, ttl)
	card := pipe.SCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("barrier: report %s/%s: %w", groupID, location, err)
	}

	// SCARD runs in the same MULTI/EXEC as this call's SADD, so only the
	// call that added the last expected member sees the count reach expected.
	return added.Val() == 1 && int(card.Val()) == expected, nil
}

// Delete removes the barrier key once the aggregator has consumed it,
// preventing a stale barrier from lingering for the TTL window.
func (b *Barrier) Delete(ctx context.Context, groupID string) error {
	return b.client.Del(ctx, key(groupID)).Err()
}
