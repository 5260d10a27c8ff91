// Package logs publishes and tails live k6 console output over Redis
// Pub/Sub, grounded on the same publish/subscribe shape as
// internal/cache's invalidation channel.
package logs

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "k6:run:"
const channelSuffix = ":console"

// ConsoleChannel returns the Pub/Sub channel name a given run's live k6
// console output is published to.
func ConsoleChannel(runID string) string {
	return fmt.Sprintf("%s%s%s", channelPrefix, runID, channelSuffix)
}

// ConsolePublisher streams UTF-8 console chunks for a run to subscribers —
// typically a dashboard tailing a live k6 invocation.
type ConsolePublisher struct {
	client *redis.Client
}

// NewConsolePublisher wraps client for console streaming.
func NewConsolePublisher(client *redis.Client) *ConsolePublisher {
	return &ConsolePublisher{client: client}
}

// Publish sends one chunk of console output for runID. Publish failures are
// deliberately non-fatal to the run: live streaming is best-effort and must
// never block or fail k6 execution.
func (p *ConsolePublisher) Publish(ctx context.Context, runID, chunk string) error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Publish(ctx, ConsoleChannel(runID), chunk).Err()
}

// Subscribe returns a channel of console chunks for runID. Callers must
// drain or close the returned subscription via the returned cancel func.
func (p *ConsolePublisher) Subscribe(ctx context.Context, runID string) (<-chan string, func()) {
	sub := p.client.Subscribe(ctx, ConsoleChannel(runID))
	out := make(chan string, 64)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}
