package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/mq"
	"github.com/oriys/beacon/internal/observability"
)

// ErrK6RequiresPerformanceTest is the errorDetails recorded when a k6 job
// trigger does not carry exactly one "performance" test script.
const ErrK6RequiresPerformanceTest = "k6 jobs require performance tests"

// DispatchJob routes a JobTrigger onto playwright-global or k6-{location}
// (falling back to k6-global when the trigger carries no location),
// creating the RunRecord in the running state before enqueue.
func (d *Dispatcher) DispatchJob(ctx context.Context, trigger domain.JobTrigger) error {
	now := time.Now()
	run := &domain.RunRecord{
		RunID:     trigger.RunID,
		JobID:     trigger.JobID,
		Location:  domain.NormalizeLocation(trigger.Location),
		Status:    domain.RunRunning,
		StartedAt: &now,
		CreatedAt: now,
	}

	switch trigger.JobType {
	case domain.JobTypeK6:
		if err := validateK6Trigger(trigger); err != nil {
			run.Status = domain.RunFailed
			run.ErrorDetails = err.Error()
			if createErr := d.store.CreateRun(ctx, run); createErr != nil {
				return fmt.Errorf("create failed run record: %w", createErr)
			}
			return err
		}
		return d.dispatchK6(ctx, trigger, run)
	case domain.JobTypePlaywright:
		return d.dispatchPlaywright(ctx, trigger, run)
	default:
		run.Status = domain.RunFailed
		run.ErrorDetails = fmt.Sprintf("unknown job type %q", trigger.JobType)
		if err := d.store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create failed run record: %w", err)
		}
		return fmt.Errorf("unknown job type %q", trigger.JobType)
	}
}

// validateK6Trigger enforces that a k6 job carries exactly one test of kind
// "performance".
func validateK6Trigger(trigger domain.JobTrigger) error {
	performanceTests := 0
	for _, ts := range trigger.TestScripts {
		if ts.Type == "performance" {
			performanceTests++
		}
	}
	if len(trigger.TestScripts) != 1 || performanceTests != 1 {
		return fmt.Errorf("%s", ErrK6RequiresPerformanceTest)
	}
	return nil
}

func (d *Dispatcher) dispatchK6(ctx context.Context, trigger domain.JobTrigger, run *domain.RunRecord) error {
	if err := d.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run record: %w", err)
	}

	test := trigger.TestScripts[0]
	location := domain.NormalizeLocation(trigger.Location)
	job := K6Job{
		RunID:          trigger.RunID,
		JobID:          trigger.JobID,
		TestID:         test.ID,
		Script:         test.Script,
		Tests:          trigger.TestScripts,
		OrganizationID: trigger.OrganizationID,
		ProjectID:      trigger.ProjectID,
		Location:       location,
		JobType:        domain.JobTypeK6,
		Trace:          observability.ExtractTraceContext(ctx),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal k6 job: %w", err)
	}

	queueName := QueueK6Global
	if !domain.IsLocationWildcard(trigger.Location) {
		queueName = K6Queue(location)
	}

	if _, err := d.queue.Publish(ctx, queueName, payload, &mq.PublishOptions{
		IdempotencyKey: trigger.JobID + ":" + trigger.RunID,
		IdempotencyTTL: 5 * time.Minute,
	}); err != nil {
		return fmt.Errorf("publish k6 job to %s: %w", queueName, err)
	}
	return nil
}

func (d *Dispatcher) dispatchPlaywright(ctx context.Context, trigger domain.JobTrigger, run *domain.RunRecord) error {
	if err := d.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run record: %w", err)
	}

	job := PlaywrightJob{
		RunID:          trigger.RunID,
		JobID:          trigger.JobID,
		TestScripts:    trigger.TestScripts,
		Trigger:        "schedule",
		OrganizationID: trigger.OrganizationID,
		ProjectID:      trigger.ProjectID,
		Variables:      trigger.ResolvedVariables,
		Secrets:        trigger.ResolvedSecrets,
		JobType:        domain.JobTypePlaywright,
		Trace:          observability.ExtractTraceContext(ctx),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal playwright job: %w", err)
	}

	if _, err := d.queue.Publish(ctx, QueuePlaywrightGlobal, payload, &mq.PublishOptions{
		IdempotencyKey: trigger.JobID + ":" + trigger.RunID,
		IdempotencyTTL: 5 * time.Minute,
	}); err != nil {
		return fmt.Errorf("publish playwright job: %w", err)
	}
	return nil
}
