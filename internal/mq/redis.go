package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-backed MessageQueue built from lists and sorted
// sets: ready work sits in a Redis List (LPUSH/BRPOP) for near-zero-latency
// delivery, leased-but-unacked messages move to a ZSET keyed by lease
// deadline so a stalled consumer's work becomes visible again, and
// dead-lettered messages land in a side List per topic for inspection.
//
// Delivery is at-least-once: Consume pops from the ready list and records
// the message body under a per-message string key plus a deadline entry in
// the lease ZSET; Ack removes both; a message whose lease expires before Ack
// is requeued when ReclaimExpired is run for its topic.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

const (
	redisQueuePrefix   = "beacon:mq:"
	defaultLeaseMillis = 60_000
)

func readyKey(topic string) string { return redisQueuePrefix + "ready:" + topic }
func delayedKey(topic string) string { return redisQueuePrefix + "delayed:" + topic }
func leaseKey(topic string) string { return redisQueuePrefix + "lease:" + topic }
func bodyKey(messageID string) string {
	return redisQueuePrefix + "body:" + messageID
}
func topicOfKey(messageID string) string { return redisQueuePrefix + "topic:" + messageID }
func dedupKey(topic, idempotencyKey string) string {
	return redisQueuePrefix + "dedup:" + topic + ":" + idempotencyKey
}
func deadLetterKey(topic string) string { return redisQueuePrefix + "dead:" + topic }

// Publish enqueues payload onto topic. A DelayUntil in the future stores the
// message in a per-topic delayed ZSET instead of the ready list; a separate
// promotion pass (PromoteDelayed) moves it to ready once its time arrives.
func (q *RedisQueue) Publish(ctx context.Context, topic string, payload json.RawMessage, opts *PublishOptions) (string, error) {
	if opts != nil && opts.IdempotencyKey != "" {
		ttl := opts.IdempotencyTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		ok, err := q.client.SetNX(ctx, dedupKey(topic, opts.IdempotencyKey), "1", ttl).Result()
		if err != nil {
			return "", fmt.Errorf("mq publish dedup check: %w", err)
		}
		if !ok {
			return "", nil // duplicate within the dedup window; not an error
		}
	}

	id := uuid.NewString()
	msg := Message{
		ID:        id,
		Topic:     topic,
		Payload:   payload,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("mq publish marshal: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, bodyKey(id), raw, 0)
	pipe.Set(ctx, topicOfKey(id), topic, 0)
	if opts != nil && !opts.DelayUntil.IsZero() && opts.DelayUntil.After(time.Now()) {
		pipe.ZAdd(ctx, delayedKey(topic), redis.Z{Score: float64(opts.DelayUntil.UnixMilli()), Member: id})
	} else {
		pipe.LPush(ctx, readyKey(topic), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("mq publish: %w", err)
	}
	return id, nil
}

// PromoteDelayed moves due delayed messages for topic onto the ready list.
// Callers invoke this periodically; it is not run implicitly by
// Publish/Consume.
func (q *RedisQueue) PromoteDelayed(ctx context.Context, topic string) (int, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, delayedKey(topic), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("mq promote delayed: %w", err)
	}
	for _, id := range ids {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey(topic), id)
		pipe.LPush(ctx, readyKey(topic), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("mq promote delayed exec: %w", err)
		}
	}
	return len(ids), nil
}

// Consume blocks briefly (1s) for a ready message, leases it for
// opts.LeaseDuration (default 60s), and returns it. ErrNoMessage is
// returned on a timed-out poll so callers can loop without treating it as
// a failure.
func (q *RedisQueue) Consume(ctx context.Context, topic string, opts *ConsumeOptions) (*Message, error) {
	result, err := q.client.BRPop(ctx, time.Second, readyKey(topic)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoMessage
		}
		return nil, fmt.Errorf("mq consume: %w", err)
	}
	if len(result) < 2 {
		return nil, ErrNoMessage
	}
	id := result[1]

	raw, err := q.client.Get(ctx, bodyKey(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("mq consume fetch body: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("mq consume unmarshal: %w", err)
	}
	msg.Attempt++

	lease := time.Duration(defaultLeaseMillis) * time.Millisecond
	if opts != nil && opts.LeaseDuration > 0 {
		lease = opts.LeaseDuration
	}
	deadline := time.Now().Add(lease).UnixMilli()
	if err := q.client.ZAdd(ctx, leaseKey(topic), redis.Z{Score: float64(deadline), Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("mq consume lease: %w", err)
	}

	updated, _ := json.Marshal(msg)
	_ = q.client.Set(ctx, bodyKey(id), updated, 0).Err()

	return &msg, nil
}

// Ack removes a message's body and lease entry, completing it.
func (q *RedisQueue) Ack(ctx context.Context, messageID string) error {
	topic, err := q.client.Get(ctx, topicOfKey(messageID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("mq ack lookup topic: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, bodyKey(messageID))
	pipe.Del(ctx, topicOfKey(messageID))
	pipe.ZRem(ctx, leaseKey(topic), messageID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("mq ack: %w", err)
	}
	return nil
}

// Nack clears the lease and re-schedules the message for nextRetry (or
// immediately if nextRetry is zero/past).
func (q *RedisQueue) Nack(ctx context.Context, messageID string, reason string, nextRetry time.Time) error {
	topic, err := q.client.Get(ctx, topicOfKey(messageID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("mq nack lookup topic: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, leaseKey(topic), messageID)
	if nextRetry.After(time.Now()) {
		pipe.ZAdd(ctx, delayedKey(topic), redis.Z{Score: float64(nextRetry.UnixMilli()), Member: messageID})
	} else {
		pipe.LPush(ctx, readyKey(topic), messageID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("mq nack: %w", err)
	}
	return nil
}

// DeadLetter moves a message out of circulation entirely and records it on
// the topic's dead-letter list for operator inspection.
func (q *RedisQueue) DeadLetter(ctx context.Context, messageID string, reason string) error {
	topic, err := q.client.Get(ctx, topicOfKey(messageID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("mq dead-letter lookup topic: %w", err)
	}

	entry, _ := json.Marshal(map[string]string{"message_id": messageID, "reason": reason})
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, leaseKey(topic), messageID)
	pipe.LPush(ctx, deadLetterKey(topic), entry)
	pipe.LTrim(ctx, deadLetterKey(topic), 0, 999)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("mq dead-letter: %w", err)
	}
	return nil
}

// ReclaimExpired requeues messages whose lease has expired without an Ack,
// intended to be polled periodically by each consumer process.
func (q *RedisQueue) ReclaimExpired(ctx context.Context, topic string) (int, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, leaseKey(topic), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("mq reclaim: %w", err)
	}
	for _, id := range ids {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, leaseKey(topic), id)
		pipe.LPush(ctx, readyKey(topic), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("mq reclaim exec: %w", err)
		}
	}
	return len(ids), nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ MessageQueue = (*RedisQueue)(nil)
