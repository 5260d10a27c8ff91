package dispatcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/mq"
	"github.com/oriys/beacon/internal/observability"
	"github.com/oriys/beacon/internal/scheduler"
	"github.com/oriys/beacon/internal/store"
)

// Dispatcher fans monitor ticks out to the regional monitor queues and
// routes job triggers onto the Playwright/k6 queues.
type Dispatcher struct {
	store store.Store
	queue mq.MessageQueue
}

// New creates a Dispatcher over a persistent store and message queue.
func New(s store.Store, q mq.MessageQueue) *Dispatcher {
	return &Dispatcher{store: s, queue: q}
}

// randomHex returns n random hex characters for the executionGroupId
// suffix.
func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// constant suffix rather than panic so dispatch still proceeds.
		return "000000"
	}
	return hex.EncodeToString(buf)[:n]
}

// NewExecutionGroupID mints M.id + "-" + epochMs + "-" + randomHex.
func NewExecutionGroupID(monitorID string) string {
	return fmt.Sprintf("%s-%d-%s", monitorID, time.Now().UnixMilli(), randomHex(8))
}

// FanOutMonitor fans a scheduler trigger out for a single
// monitor tick: compute effective locations, mint an execution group, and
// enqueue one job per location with a deterministic dedup key.
func (d *Dispatcher) FanOutMonitor(ctx context.Context, m *domain.MonitorSpec) (executionGroupID string, err error) {
	locations := m.Location.EffectiveLocations()
	executionGroupID = NewExecutionGroupID(m.ID)

	ctx, span := observability.StartSpan(ctx, "dispatcher.FanOutMonitor",
		observability.AttrMonitorID.String(m.ID),
		observability.AttrExecutionGroup.String(executionGroupID))
	defer span.End()

	for _, location := range locations {
		job := MonitorJob{
			MonitorID:         m.ID,
			Type:              m.Kind,
			Target:            m.Target,
			Config:            m.Config,
			ExecutionLocation: location,
			ExecutionGroupID:  executionGroupID,
			ExpectedLocations: locations,
			RetryLimit:        MonitorAttempts,
			Trace:             observability.ExtractTraceContext(ctx),
		}
		payload, marshalErr := json.Marshal(job)
		if marshalErr != nil {
			return executionGroupID, fmt.Errorf("marshal monitor job: %w", marshalErr)
		}

		jobID := m.ID + ":" + executionGroupID + ":" + string(location)
		if _, pubErr := d.queue.Publish(ctx, MonitorQueue(location), payload, &mq.PublishOptions{
			IdempotencyKey: jobID,
			IdempotencyTTL: 5 * time.Minute,
		}); pubErr != nil {
			return executionGroupID, fmt.Errorf("publish monitor job to %s: %w", MonitorQueue(location), pubErr)
		}
	}

	return executionGroupID, nil
}

// DispatchDue loads every monitor whose nextRunAt has passed, fans each out,
// creates its RunRecord in the running state before enqueue, and
// refreshes lastRunAt/nextRunAt bookkeeping. Individual monitor failures are
// logged by the caller via the returned per-monitor errors slice rather than
// aborting the whole tick.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) ([]DispatchResult, error) {
	due, err := d.store.ListMonitorsDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due monitors: %w", err)
	}

	results := make([]DispatchResult, 0, len(due))
	for _, m := range due {
		results = append(results, d.dispatchOne(ctx, m, now))
	}
	return results, nil
}

// DispatchResult is one monitor's outcome within a DispatchDue tick.
type DispatchResult struct {
	MonitorID        string
	ExecutionGroupID string
	Err              error
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m *domain.MonitorSpec, now time.Time) DispatchResult {
	runID := m.ID + ":" + fmt.Sprintf("%d", now.UnixMilli())
	run := &domain.RunRecord{
		RunID:     runID,
		JobID:     m.ID,
		Status:    domain.RunRunning,
		StartedAt: &now,
		CreatedAt: now,
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		return DispatchResult{MonitorID: m.ID, Err: fmt.Errorf("create run record: %w", err)}
	}

	groupID, err := d.FanOutMonitor(ctx, m)
	if err != nil {
		return DispatchResult{MonitorID: m.ID, Err: err}
	}

	nextRunAt := now
	if m.CronExpr != "" {
		if computed, cronErr := scheduler.NextRunAt(m.CronExpr, now); cronErr == nil {
			nextRunAt = computed
		}
	}
	if err := d.store.UpdateMonitorRunBookkeeping(ctx, m.ID, now, nextRunAt); err != nil {
		return DispatchResult{MonitorID: m.ID, ExecutionGroupID: groupID, Err: fmt.Errorf("update run bookkeeping: %w", err)}
	}

	return DispatchResult{MonitorID: m.ID, ExecutionGroupID: groupID}
}
