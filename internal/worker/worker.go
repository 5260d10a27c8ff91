// Package worker implements the regional worker loop: pulling
// jobs off this worker's regional queues, applying the location filter and
// billing gate, dispatching to the matching runner (probe / k6 / Playwright),
// and persisting the outcome. Concurrency is bounded per queue kind — monitor
// queues may fan out, the k6 queue is pinned to exactly one in-flight run per
// process.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/beacon/internal/aggregator"
	"github.com/oriys/beacon/internal/asyncqueue"
	"github.com/oriys/beacon/internal/billing"
	"github.com/oriys/beacon/internal/cache"
	"github.com/oriys/beacon/internal/cancel"
	"github.com/oriys/beacon/internal/dispatcher"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/k6runner"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/mq"
	"github.com/oriys/beacon/internal/observability"
	"github.com/oriys/beacon/internal/probes"
	"github.com/oriys/beacon/internal/store"
)

// PlaywrightExecutor is the external Playwright test-execution
// collaborator: the worker owns the job's lifecycle (billing gate, cancellation,
// RunRecord transitions) but delegates the actual suite execution to this
// collaborator, exactly as the k6 path delegates load generation to k6
// itself while owning the surrounding orchestration.
type PlaywrightExecutor interface {
	Execute(ctx context.Context, job dispatcher.PlaywrightJob) (PlaywrightOutcome, error)
}

// PlaywrightOutcome is the normalized verdict returned by a PlaywrightExecutor.
type PlaywrightOutcome struct {
	Success      bool
	ReportURL    string
	LogsURL      string
	ErrorDetails string
	DurationMs   int64
}

// Config controls which queues a worker replica subscribes to and how it
// filters/gates work.
type Config struct {
	// Location is this replica's WORKER_LOCATION. "local" subscribes to
	// every regional monitor/k6 queue (development mode); any other value
	// must be a valid domain.LocationCode (enforced at startup).
	Location domain.LocationCode
	// IsLocal mirrors WORKER_LOCATION=="local": subscribe to every region.
	IsLocal bool
	// EnableLocationFiltering gates the mismatch warning; it never
	// causes a job to be dropped; retries are already exhausted by the
	// time a mismatch is visible, so dropping would lose the job for good.
	EnableLocationFiltering bool
	// SubscribeK6Global additionally consumes k6-global alongside this
	// worker's k6-{location} queue; which one is a deployment choice.
	SubscribeK6Global bool
	// MonitorConcurrency bounds in-flight monitor-queue jobs per queue.
	MonitorConcurrency int
	// PlaywrightConcurrency bounds in-flight Playwright jobs.
	PlaywrightConcurrency int
	// AllowInternalTargets lifts the SSRF guard for http/website probes
	// (ALLOW_INTERNAL_TARGETS) — only ever set in trusted test envs.
	AllowInternalTargets bool
	// AdaptiveMonitorConcurrency opts the monitor queues into AIMD-scaled
	// concurrency instead of the static MonitorConcurrency bound.
	AdaptiveMonitorConcurrency bool
}

func (c Config) monitorConcurrency() int {
	if c.MonitorConcurrency <= 0 {
		return 8
	}
	return c.MonitorConcurrency
}

func (c Config) playwrightConcurrency() int {
	if c.PlaywrightConcurrency <= 0 {
		return 2
	}
	return c.PlaywrightConcurrency
}

// Worker runs the regional worker loop over one or more queues.
type Worker struct {
	cfg Config

	queue    mq.MessageQueue
	store    store.Store
	cancel   *cancel.Store
	billing  billing.Gate
	agg      *aggregator.Aggregator
	k6       *k6runner.Runner
	pw       PlaywrightExecutor
	cache    cache.Cache
	synth    probes.SyntheticRunner
}

// New builds a Worker. pw and synth may be nil — Playwright jobs and
// synthetic monitors then fail with a descriptive error rather than panic.
func New(cfg Config, q mq.MessageQueue, s store.Store, cancelStore *cancel.Store, gate billing.Gate, agg *aggregator.Aggregator, k6 *k6runner.Runner, pw PlaywrightExecutor, c cache.Cache, synth probes.SyntheticRunner) *Worker {
	if gate == nil {
		gate = billing.AllowAll{}
	}
	return &Worker{cfg: cfg, queue: q, store: s, cancel: cancelStore, billing: gate, agg: agg, k6: k6, pw: pw, cache: c, synth: synth}
}

// monitorQueues returns the monitor-{region} queues this worker consumes.
func (w *Worker) monitorQueues() []string {
	if w.cfg.IsLocal {
		out := make([]string, 0, len(domain.AllLocations()))
		for _, l := range domain.AllLocations() {
			out = append(out, dispatcher.MonitorQueue(l))
		}
		return out
	}
	return []string{dispatcher.MonitorQueue(w.cfg.Location)}
}

// k6Queues returns the k6 queue(s) this worker consumes. The k6 queue's
// process-wide concurrency is always 1 regardless of how many queue names
// are subscribed.
func (w *Worker) k6Queues() []string {
	if w.cfg.IsLocal {
		out := make([]string, 0, len(domain.AllLocations())+1)
		for _, l := range domain.AllLocations() {
			out = append(out, dispatcher.K6Queue(l))
		}
		return append(out, dispatcher.QueueK6Global)
	}
	queues := []string{dispatcher.K6Queue(w.cfg.Location)}
	if w.cfg.SubscribeK6Global {
		queues = append(queues, dispatcher.QueueK6Global)
	}
	return queues
}

// Run blocks, consuming every subscribed queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var ac *asyncqueue.AdaptiveController
	if w.cfg.AdaptiveMonitorConcurrency {
		base := w.cfg.monitorConcurrency()
		ac = asyncqueue.NewAdaptiveController(asyncqueue.AdaptiveConfig{
			Enabled:    true,
			MinWorkers: maxInt(1, base/2),
			MaxWorkers: base * 4,
		}, base, base, 100*time.Millisecond)
		ac.Start()
		defer ac.Stop()
	}

	monitorSemCap := w.cfg.monitorConcurrency()
	if ac != nil {
		// Sized to the controller's MaxWorkers so the semaphore itself is
		// never the binding constraint; ac.Workers() does the real,
		// AIMD-adjusted throttling inside consumeLoop.
		monitorSemCap = w.cfg.monitorConcurrency() * 4
	}
	for _, q := range w.monitorQueues() {
		q := q
		g.Go(func() error { return w.consumeLoop(ctx, q, monitorSemCap, ac, w.processMonitorMessage) })
	}
	for _, q := range w.k6Queues() {
		q := q
		g.Go(func() error { return w.consumeLoop(ctx, q, 1, nil, w.processK6Message) })
	}
	g.Go(func() error {
		return w.consumeLoop(ctx, dispatcher.QueuePlaywrightGlobal, w.cfg.playwrightConcurrency(), nil, w.processPlaywrightMessage)
	})

	return g.Wait()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// consumeLoop pulls messages from queueName with up to concurrency in-flight
// handlers, acking or nacking per the handler's verdict. It
// never returns a non-nil error from a handler failure — only ctx
// cancellation ends the loop — so one queue's outage never brings down the
// others sharing this process's errgroup. ac, if non-nil, additionally
// throttles admission to its current Workers() bound (monitor queues
// "may fan out" — the adaptive controller lets that fan-out track observed
// queue depth instead of staying pinned at a static concurrency).
func (w *Worker) consumeLoop(ctx context.Context, queueName string, concurrency int, ac *asyncqueue.AdaptiveController, handle func(context.Context, *mq.Message) error) error {
	sem := make(chan struct{}, concurrency)
	var live errgroup.Group

	for {
		select {
		case <-ctx.Done():
			live.Wait()
			return ctx.Err()
		default:
		}

		if ac != nil {
			for len(sem) >= ac.Workers() {
				select {
				case <-ctx.Done():
					live.Wait()
					return ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
			}
		}

		msg, err := w.queue.Consume(ctx, queueName, &mq.ConsumeOptions{LeaseDuration: 5 * time.Minute})
		if err != nil {
			if err == mq.ErrNoMessage {
				if ac != nil {
					ac.SetQueueDepth(0)
				}
				continue
			}
			if ctx.Err() != nil {
				live.Wait()
				return ctx.Err()
			}
			logging.Op().Warn("worker: consume failed", "queue", queueName, "error", err)
			continue
		}
		if ac != nil {
			ac.SetQueueDepth(int64(len(sem) + 1))
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			live.Wait()
			return ctx.Err()
		}

		live.Go(func() error {
			defer func() { <-sem }()
			if ac != nil {
				defer ac.RecordCompleted(1)
			}
			if err := handle(ctx, msg); err != nil {
				logging.Op().Warn("worker: job failed, nacking", "queue", queueName, "message_id", msg.ID, "error", err)
				if nackErr := w.queue.Nack(ctx, msg.ID, err.Error(), time.Now().Add(5*time.Second)); nackErr != nil {
					logging.Op().Warn("worker: nack failed", "message_id", msg.ID, "error", nackErr)
				}
				return nil
			}
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				logging.Op().Warn("worker: ack failed", "message_id", msg.ID, "error", ackErr)
			}
			return nil
		})
	}
}

// checkLocationMismatch applies the regional worker loop location
// filter: wildcards always match; a disagreement only ever logs a warning
// and processes anyway, to avoid permanent job loss once the queue's
// attempts are exhausted.
func (w *Worker) checkLocationMismatch(jobLocation string) {
	if !w.cfg.EnableLocationFiltering || w.cfg.IsLocal || domain.IsLocationWildcard(jobLocation) {
		return
	}
	if got := domain.NormalizeLocation(jobLocation); got != w.cfg.Location {
		logging.Op().Warn("worker: location mismatch, processing anyway",
			"worker_location", w.cfg.Location, "job_location", got)
	}
}

// preflight runs the cancellation check and billing gate concurrently and
// reports whether the job should proceed.
func (w *Worker) preflight(ctx context.Context, runID, organizationID string) (proceed bool, blockedReason string, cancelled bool, err error) {
	var cancelledFlag bool
	var allowed = true
	var reason string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if runID != "" && w.cancel != nil {
			cancelledFlag = w.cancel.IsCancelled(gctx, runID)
		}
		return nil
	})
	g.Go(func() error {
		if organizationID == "" {
			return nil
		}
		ok, r, gateErr := w.billing.Allow(gctx, organizationID)
		if gateErr != nil {
			logging.Op().Warn("worker: billing gate error, failing open", "organization_id", organizationID, "error", gateErr)
			return nil
		}
		allowed, reason = ok, r
		return nil
	})
	if waitErr := g.Wait(); waitErr != nil {
		return false, "", false, waitErr
	}
	if cancelledFlag {
		return false, "", true, nil
	}
	if !allowed {
		return false, reason, false, nil
	}
	return true, "", false, nil
}

// processMonitorMessage implements one probe tick for a single location
// within an execution group.
func (w *Worker) processMonitorMessage(ctx context.Context, msg *mq.Message) error {
	var job dispatcher.MonitorJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return fmt.Errorf("unmarshal monitor job: %w", err)
	}
	ctx = observability.InjectTraceContext(ctx, job.Trace)
	ctx, span := observability.StartSpan(ctx, "worker.processMonitorMessage",
		observability.AttrMonitorID.String(job.MonitorID),
		observability.AttrLocation.String(string(job.ExecutionLocation)),
		observability.AttrExecutionGroup.String(job.ExecutionGroupID))
	defer span.End()
	w.checkLocationMismatch(string(job.ExecutionLocation))

	monitor, err := w.store.GetMonitor(ctx, job.MonitorID)
	if err != nil {
		return fmt.Errorf("load monitor %s: %w", job.MonitorID, err)
	}
	ctx = store.WithOrgScope(ctx, monitor.OrganizationID, monitor.ProjectID)
	proceed, blockedReason, _, err := w.preflight(ctx, "", monitor.OrganizationID)
	if err != nil {
		return err
	}
	if !proceed {
		logging.Op().Info("worker: monitor tick blocked by billing gate", "monitor_id", job.MonitorID, "reason", blockedReason)
		return nil
	}

	m := &domain.MonitorSpec{ID: job.MonitorID, Kind: job.Type, Target: job.Target, Config: job.Config}
	probeStart := time.Now()
	outcome := runProbe(ctx, m, w.cfg.AllowInternalTargets, w.cache, w.synth)
	metrics.Global().RecordCheck(job.MonitorID, string(job.Type), string(job.ExecutionLocation), time.Since(probeStart).Milliseconds(), outcome.IsUp)

	status := domain.ResultDown
	switch {
	case outcome.IsUp:
		status = domain.ResultUp
	case outcome.ErrorDetails != "":
		status = domain.ResultError
	}
	if outcome.Details == nil {
		outcome.Details = map[string]any{}
	}
	if outcome.ErrorDetails != "" {
		outcome.Details["error_message"] = outcome.ErrorDetails
	}

	result := &domain.MonitorResultRecord{
		MonitorID:      job.MonitorID,
		Location:       job.ExecutionLocation,
		CheckedAt:      time.Now(),
		Status:         status,
		IsUp:           outcome.IsUp,
		ResponseTimeMs: outcome.ResponseTimeMs,
		Details:        outcome.Details,
	}

	logging.Default().Log(&logging.RunLog{
		TraceID:    observability.GetTraceID(ctx),
		SpanID:     observability.GetSpanID(ctx),
		MonitorID:  job.MonitorID,
		Location:   string(job.ExecutionLocation),
		Kind:       string(job.Type),
		DurationMs: time.Since(probeStart).Milliseconds(),
		Success:    outcome.IsUp,
		Error:      outcome.ErrorDetails,
	})

	if w.agg == nil {
		return w.store.SaveResult(ctx, result)
	}
	return w.agg.SaveDistributedResult(ctx, result, job.ExecutionGroupID, job.ExpectedLocations)
}

// processK6Message runs one k6 load-test job.
func (w *Worker) processK6Message(ctx context.Context, msg *mq.Message) error {
	var job dispatcher.K6Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return fmt.Errorf("unmarshal k6 job: %w", err)
	}
	ctx = observability.InjectTraceContext(ctx, job.Trace)
	ctx, span := observability.StartSpan(ctx, "worker.processK6Message",
		observability.AttrRunID.String(job.RunID),
		observability.AttrJobType.String(string(domain.JobTypeK6)))
	defer span.End()
	w.checkLocationMismatch(string(job.Location))

	run, err := w.store.GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", job.RunID, err)
	}
	ctx = store.WithOrgScope(ctx, job.OrganizationID, job.ProjectID)

	proceed, blockedReason, cancelled, err := w.preflight(ctx, job.RunID, job.OrganizationID)
	if err != nil {
		return err
	}
	now := time.Now()
	if cancelled {
		run.Status = domain.RunError
		run.ErrorDetails = "cancelled by user"
		run.CompletedAt = &now
		return w.store.UpdateRun(ctx, run)
	}
	if !proceed {
		run.Status = domain.RunBlocked
		run.ErrorDetails = blockedReason
		run.CompletedAt = &now
		return w.store.UpdateRun(ctx, run)
	}

	script := job.Script
	if script == "" && len(job.Tests) > 0 {
		script = job.Tests[0].Script
	}
	if w.k6 == nil {
		run.Status = domain.RunError
		run.ErrorDetails = "no k6 runner configured for this worker"
		run.CompletedAt = &now
		return w.store.UpdateRun(ctx, run)
	}

	run.Status = domain.RunRunning
	run.StartedAt = &now
	if err := w.store.UpdateRun(ctx, run); err != nil {
		logging.Op().Warn("worker: update run to running failed", "run_id", job.RunID, "error", err)
	}

	result := w.k6.RunK6(ctx, domain.K6Task{RunID: job.RunID, Script: script, TestID: job.TestID, Location: job.Location})

	logging.Default().Log(&logging.RunLog{
		TraceID:    observability.GetTraceID(ctx),
		SpanID:     observability.GetSpanID(ctx),
		RunID:      job.RunID,
		Location:   string(job.Location),
		Kind:       "k6",
		DurationMs: result.DurationMs,
		Success:    result.Success,
		Error:      result.Error,
		Cancelled:  result.Error == "cancelled by user",
	})

	completed := time.Now()
	run.CompletedAt = &completed
	run.DurationMs = result.DurationMs
	run.ReportURL = result.ReportURL
	switch {
	case result.Error == "cancelled by user":
		run.Status = domain.RunError
		run.ErrorDetails = "cancelled by user"
	case result.TimedOut:
		run.Status = domain.RunFailed
		run.ErrorDetails = "timed out"
	case !result.Success:
		run.Status = domain.RunFailed
		run.ErrorDetails = result.Error
	default:
		run.Status = domain.RunPassed
	}
	return w.store.UpdateRun(ctx, run)
}

// processPlaywrightMessage runs one Playwright suite job, delegating actual
// execution to the external collaborator.
func (w *Worker) processPlaywrightMessage(ctx context.Context, msg *mq.Message) error {
	var job dispatcher.PlaywrightJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return fmt.Errorf("unmarshal playwright job: %w", err)
	}
	ctx = observability.InjectTraceContext(ctx, job.Trace)
	ctx, span := observability.StartSpan(ctx, "worker.processPlaywrightMessage",
		observability.AttrRunID.String(job.RunID),
		observability.AttrJobType.String(string(domain.JobTypePlaywright)))
	defer span.End()

	run, err := w.store.GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", job.RunID, err)
	}
	ctx = store.WithOrgScope(ctx, job.OrganizationID, job.ProjectID)

	proceed, blockedReason, cancelled, err := w.preflight(ctx, job.RunID, job.OrganizationID)
	if err != nil {
		return err
	}
	now := time.Now()
	if cancelled {
		run.Status = domain.RunError
		run.ErrorDetails = "cancelled by user"
		run.CompletedAt = &now
		return w.store.UpdateRun(ctx, run)
	}
	if !proceed {
		run.Status = domain.RunBlocked
		run.ErrorDetails = blockedReason
		run.CompletedAt = &now
		return w.store.UpdateRun(ctx, run)
	}
	if w.pw == nil {
		run.Status = domain.RunError
		run.ErrorDetails = "no playwright executor configured for this worker"
		run.CompletedAt = &now
		return w.store.UpdateRun(ctx, run)
	}

	run.Status = domain.RunRunning
	run.StartedAt = &now
	if err := w.store.UpdateRun(ctx, run); err != nil {
		logging.Op().Warn("worker: update run to running failed", "run_id", job.RunID, "error", err)
	}

	outcome, execErr := w.pw.Execute(ctx, job)
	completed := time.Now()

	runLog := &logging.RunLog{
		TraceID:    observability.GetTraceID(ctx),
		SpanID:     observability.GetSpanID(ctx),
		RunID:      job.RunID,
		Kind:       "playwright",
		DurationMs: outcome.DurationMs,
		Success:    execErr == nil && outcome.Success,
		Error:      outcome.ErrorDetails,
	}
	if execErr != nil {
		runLog.Error = execErr.Error()
	}
	logging.Default().Log(runLog)

	run.CompletedAt = &completed
	if execErr != nil {
		run.Status = domain.RunError
		run.ErrorDetails = execErr.Error()
		return w.store.UpdateRun(ctx, run)
	}

	run.DurationMs = outcome.DurationMs
	run.ReportURL = outcome.ReportURL
	run.LogsURL = outcome.LogsURL
	run.ErrorDetails = outcome.ErrorDetails
	if outcome.Success {
		run.Status = domain.RunPassed
	} else {
		run.Status = domain.RunFailed
	}
	return w.store.UpdateRun(ctx, run)
}
