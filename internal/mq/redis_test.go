package mq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client), mr
}

func TestPublishConsumeAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Publish(ctx, "monitor-us-east", json.RawMessage(`{"monitorId":"m1"}`), nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected a message id")
	}

	msg, err := q.Consume(ctx, "monitor-us-east", nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if msg.ID != id {
		t.Errorf("consumed id %s, want %s", msg.ID, id)
	}
	if msg.Attempt != 1 {
		t.Errorf("expected attempt 1 on first delivery, got %d", msg.Attempt)
	}

	if err := q.Ack(ctx, msg.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := q.Consume(ctx, "monitor-us-east", nil); err != ErrNoMessage {
		t.Errorf("expected an empty queue after ack, got %v", err)
	}
}

func TestPublishDeduplicatesByIdempotencyKey(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	opts := &PublishOptions{IdempotencyKey: "m1:g1:us-east", IdempotencyTTL: time.Minute}

	first, err := q.Publish(ctx, "monitor-us-east", json.RawMessage(`{}`), opts)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if first == "" {
		t.Fatal("expected the first publish to enqueue")
	}

	second, err := q.Publish(ctx, "monitor-us-east", json.RawMessage(`{}`), opts)
	if err != nil {
		t.Fatalf("Publish (duplicate): %v", err)
	}
	if second != "" {
		t.Error("expected the duplicate publish to be dropped within the dedup window")
	}

	if _, err := q.Consume(ctx, "monitor-us-east", nil); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := q.Consume(ctx, "monitor-us-east", nil); err != ErrNoMessage {
		t.Error("expected exactly one delivered message for deduplicated publishes")
	}
}

func TestNackReschedulesImmediately(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Publish(ctx, "k6-global", json.RawMessage(`{}`), nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg, err := q.Consume(ctx, "k6-global", nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if err := q.Nack(ctx, msg.ID, "transient failure", time.Time{}); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	redelivered, err := q.Consume(ctx, "k6-global", nil)
	if err != nil {
		t.Fatalf("Consume after nack: %v", err)
	}
	if redelivered.ID != msg.ID {
		t.Errorf("expected the same message redelivered, got %s", redelivered.ID)
	}
	if redelivered.Attempt != 2 {
		t.Errorf("expected attempt 2 on redelivery, got %d", redelivered.Attempt)
	}
}

func TestDelayedPublishPromotes(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Publish(ctx, "monitor-eu-central", json.RawMessage(`{}`), &PublishOptions{
		DelayUntil: time.Now().Add(50 * time.Millisecond),
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := q.Consume(ctx, "monitor-eu-central", nil); err != ErrNoMessage {
		t.Error("expected the delayed message to be invisible before promotion")
	}

	mr.FastForward(time.Second)
	time.Sleep(60 * time.Millisecond)
	promoted, err := q.PromoteDelayed(ctx, "monitor-eu-central")
	if err != nil {
		t.Fatalf("PromoteDelayed: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 promoted message, got %d", promoted)
	}
	if _, err := q.Consume(ctx, "monitor-eu-central", nil); err != nil {
		t.Errorf("expected the promoted message to be consumable, got %v", err)
	}
}

func TestReclaimExpiredRequeues(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Publish(ctx, "playwright-global", json.RawMessage(`{}`), nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg, err := q.Consume(ctx, "playwright-global", &ConsumeOptions{LeaseDuration: time.Millisecond})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	reclaimed, err := q.ReclaimExpired(ctx, "playwright-global")
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed message, got %d", reclaimed)
	}

	redelivered, err := q.Consume(ctx, "playwright-global", nil)
	if err != nil {
		t.Fatalf("Consume after reclaim: %v", err)
	}
	if redelivered.ID != msg.ID {
		t.Errorf("expected the stalled message redelivered, got %s", redelivered.ID)
	}
}
