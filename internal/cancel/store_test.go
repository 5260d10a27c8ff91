package cancel

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestSetCheckClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if s.IsCancelled(ctx, "run-1") {
		t.Error("expected a fresh run not to be cancelled")
	}

	s.Set(ctx, "run-1")
	if !s.IsCancelled(ctx, "run-1") {
		t.Error("expected run-1 to be cancelled after Set")
	}

	s.Clear(ctx, "run-1")
	if s.IsCancelled(ctx, "run-1") {
		t.Error("expected run-1 not to be cancelled after Clear")
	}
}

func TestFlagCarriesTTL(t *testing.T) {
	s, mr := newTestStore(t)
	s.Set(context.Background(), "run-2")
	if ttl := mr.TTL(s.key("run-2")); ttl <= 0 {
		t.Errorf("expected a positive TTL on the cancellation flag, got %v", ttl)
	}
}

func TestConnectivityLossDegradesToNotCancelled(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "run-3")
	mr.Close()

	if s.IsCancelled(ctx, "run-3") {
		t.Error("expected a Redis outage to degrade to not-cancelled, never a false positive")
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	ctx := context.Background()
	s.Set(ctx, "run-4")
	s.Clear(ctx, "run-4")
	if s.IsCancelled(ctx, "run-4") {
		t.Error("expected a nil store to answer not-cancelled")
	}
}
