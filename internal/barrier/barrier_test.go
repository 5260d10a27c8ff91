package barrier

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oriys/beacon/internal/domain"
)

func newTestBarrier(t *testing.T) (*Barrier, *miniredis.Miniredis) {
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

func TestReportLastLocationCompletes(t *testing.T) {
	b, _ := newTestBarrier(t)
	ctx := context.Background()

	complete, err := b.Report(ctx, "g1", domain.LocationUSEast, 2)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if complete {
		t.Error("expected the first of two locations not to complete the barrier")
	}

	complete, err = b.Report(ctx, "g1", domain.LocationEUCentral, 2)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !complete {
		t.Error("expected the second of two locations to complete the barrier")
	}
}

func TestReportIsIdempotentPerLocation(t *testing.T) {
	b, _ := newTestBarrier(t)
	ctx := context.Background()

	if _, err := b.Report(ctx, "g2", domain.LocationUSEast, 2); err != nil {
		t.Fatalf("Report: %v", err)
	}
	// A queue-layer redelivery re-reports the same location; the set
	// membership must not double-count it.
	complete, err := b.Report(ctx, "g2", domain.LocationUSEast, 2)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if complete {
		t.Error("expected a re-report of the same location not to complete the barrier")
	}
}

func TestReportConcurrentSingleAggregator(t *testing.T) {
	b, _ := newTestBarrier(t)
	ctx := context.Background()
	locations := []domain.LocationCode{
		domain.LocationUSEast, domain.LocationEUCentral, domain.LocationAsiaPacific,
	}

	var wg sync.WaitGroup
	completions := make(chan bool, len(locations))
	for _, loc := range locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			complete, err := b.Report(ctx, "g3", loc, len(locations))
			if err != nil {
				t.Errorf("Report(%s): %v", loc, err)
				return
			}
			completions <- complete
		}()
	}
	wg.Wait()
	close(completions)

	aggregators := 0
	for c := range completions {
		if c {
			aggregators++
		}
	}
	if aggregators != 1 {
		t.Errorf("expected exactly one worker to observe the completed barrier, got %d", aggregators)
	}
}

func TestBarrierKeyExpires(t *testing.T) {
	b, mr := newTestBarrier(t)
	ctx := context.Background()

	if _, err := b.Report(ctx, "g4", domain.LocationUSEast, 2); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if ttl := mr.TTL(key("g4")); ttl <= 0 {
		t.Errorf("expected a positive TTL on the barrier key, got %v", ttl)
	}
}

func TestDeleteRemovesBarrier(t *testing.T) {
	b, mr := newTestBarrier(t)
	ctx := context.Background()

	if _, err := b.Report(ctx, "g5", domain.LocationUSEast, 1); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := b.Delete(ctx, "g5"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists(key("g5")) {
		t.Error("expected the barrier key to be deleted")
	}
}
