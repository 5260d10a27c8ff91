package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/mq"

	"golang.org/x/sync/errgroup"
)

// Run blocks, consuming the three scheduler queues until ctx is cancelled:
// monitor-scheduler carries tick signals that trigger DispatchDue; the
// job-scheduler and k6-job-scheduler queues carry domain.JobTrigger payloads
// routed through DispatchJob. One queue's outage never stops the others,
// mirroring the regional worker's consumeLoop shape (internal/worker).
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.consumeLoop(ctx, QueueMonitorScheduler, d.handleMonitorTick) })
	g.Go(func() error { return d.consumeLoop(ctx, QueueJobScheduler, d.handleJobTrigger) })
	g.Go(func() error { return d.consumeLoop(ctx, QueueK6JobScheduler, d.handleJobTrigger) })

	return g.Wait()
}

func (d *Dispatcher) handleMonitorTick(ctx context.Context, msg *mq.Message) error {
	results, err := d.DispatchDue(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			logging.Op().Warn("dispatcher: monitor dispatch failed", "monitor_id", r.MonitorID, "error", r.Err)
		}
	}
	return nil
}

func (d *Dispatcher) handleJobTrigger(ctx context.Context, msg *mq.Message) error {
	var trigger domain.JobTrigger
	if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
		return err
	}
	return d.DispatchJob(ctx, trigger)
}

// consumeLoop pulls messages from queueName one at a time, acking/nacking
// per the handler's verdict. Only ctx cancellation ends the loop.
func (d *Dispatcher) consumeLoop(ctx context.Context, queueName string, handle func(context.Context, *mq.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := d.queue.Consume(ctx, queueName, &mq.ConsumeOptions{LeaseDuration: 2 * time.Minute})
		if err != nil {
			if err == mq.ErrNoMessage {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Op().Warn("dispatcher: consume failed", "queue", queueName, "error", err)
			continue
		}

		if err := handle(ctx, msg); err != nil {
			logging.Op().Warn("dispatcher: job failed, nacking", "queue", queueName, "message_id", msg.ID, "error", err)
			if nackErr := d.queue.Nack(ctx, msg.ID, err.Error(), time.Now().Add(5*time.Second)); nackErr != nil {
				logging.Op().Warn("dispatcher: nack failed", "message_id", msg.ID, "error", nackErr)
			}
			continue
		}
		if ackErr := d.queue.Ack(ctx, msg.ID); ackErr != nil {
			logging.Op().Warn("dispatcher: ack failed", "message_id", msg.ID, "error", ackErr)
		}
	}
}
