// Package k6runner wraps the sandboxed container executor with k6-specific
// orchestration: dashboard port allocation, invocation, verdict
// computation, and artifact publishing.
package k6runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oriys/beacon/internal/artifacts"
	"github.com/oriys/beacon/internal/container"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/logs"
	"github.com/oriys/beacon/internal/metrics"
)

const (
	defaultMaxDashboardAttempts = 5
	k6MemoryMB                  = 1536
	k6CPUFraction               = 1.0
	defaultTimeoutSeconds       = 300
)

// Executor is the subset of container.Executor the runner needs, declared
// as an interface so tests can substitute a fake.
type Executor interface {
	Execute(ctx context.Context, job domain.ContainerJob) (domain.ContainerResult, error)
}

var _ Executor = (*container.Executor)(nil)

// Config holds the knobs driving dashboard port allocation.
type Config struct {
	DashboardAddr        string
	DashboardStartPort   int
	DashboardPortRange   int
	MaxDashboardAttempts int
	Image                string
}

// Runner executes k6 load-test scripts one at a time (process-wide
// concurrency cap of 1, enforced by sem) and publishes verdicts/artifacts.
type Runner struct {
	cfg       Config
	executor  Executor
	pool      *PortPool
	artifacts *artifacts.Store
	console   *logs.ConsolePublisher
	sem       chan struct{}
}

// New builds a Runner. artifactStore and consolePublisher may be nil, in
// which case artifact upload and live console streaming are skipped.
func New(cfg Config, executor Executor, artifactStore *artifacts.Store, consolePublisher *logs.ConsolePublisher) *Runner {
	if cfg.MaxDashboardAttempts <= 0 {
		cfg.MaxDashboardAttempts = defaultMaxDashboardAttempts
	}
	return &Runner{
		cfg:       cfg,
		executor:  executor,
		pool:      NewPortPool(cfg.DashboardAddr, cfg.DashboardStartPort, cfg.DashboardPortRange),
		artifacts: artifactStore,
		console:   consolePublisher,
		sem:       make(chan struct{}, 1),
	}
}

// RunK6 executes task.Script inside the container executor and returns the
// authoritative verdict. Concurrency beyond 1 in-flight run is
// rejected immediately rather than queued — callers are expected to gate
// dispatch to k6 queues at concurrency 1 already (the worker's consumeLoop
// runs each k6 queue at concurrency 1).
func (r *Runner) RunK6(ctx context.Context, task domain.K6Task) domain.K6Result {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	default:
		return domain.K6Result{RunID: task.RunID, Success: false, Error: "k6 runner: active run slot full"}
	}

	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxDashboardAttempts; attempt++ {
		result, err := r.attempt(ctx, task)
		if err == nil {
			result.DurationMs = time.Since(start).Milliseconds()
			return result
		}
		lastErr = err
		if !isPortClashError(err) {
			break
		}
		logging.Op().Warn("k6runner: dashboard port clash, retrying", "run_id", task.RunID, "attempt", attempt+1)
	}

	metrics.Global().RecordK6Run(false)
	return domain.K6Result{
		RunID:      task.RunID,
		Success:    false,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      lastErr.Error(),
	}
}

func (r *Runner) attempt(ctx context.Context, task domain.K6Task) (domain.K6Result, error) {
	port, release, err := r.pool.Acquire()
	if err != nil {
		return domain.K6Result{}, err
	}
	defer release()

	extractDir, err := os.MkdirTemp("", "k6-"+task.RunID)
	if err != nil {
		return domain.K6Result{}, fmt.Errorf("k6runner: mktemp: %w", err)
	}
	defer os.RemoveAll(extractDir)

	env := map[string]string{
		"K6_WEB_DASHBOARD":        "true",
		"K6_WEB_DASHBOARD_EXPORT": "/tmp/report/report.html",
		"K6_WEB_DASHBOARD_PORT":   fmt.Sprintf("%d", port),
		"K6_WEB_DASHBOARD_ADDR":   r.cfg.DashboardAddr,
		"K6_NO_COLOR":             "1",
	}

	var console strings.Builder
	var sinks domain.StreamSinks
	if r.console != nil {
		sinks.Stdout = logs.NewConsoleWriter(ctx, r.console, task.RunID)
	}

	job := domain.ContainerJob{
		Image: r.cfg.Image,
		Cmd: []string{
			"k6", "run",
			"--summary-export", "/tmp/summary.json",
			"--summary-trend-stats", "avg,min,med,max,p(90),p(95),p(99)",
			"--out", "web-dashboard",
			"--out", "json=/tmp/metrics.json",
			"test.js",
		},
		Env:                  env,
		MemoryMB:             k6MemoryMB,
		CPUFraction:          k6CPUFraction,
		NetworkMode:          domain.NetworkBridge,
		TimeoutMs:            defaultTimeoutSeconds * 1000,
		InlineScriptContent:  base64.StdEncoding.EncodeToString([]byte(task.Script)),
		InlineScriptFileName: "test.js",
		EnsureDirs:           []string{"/tmp/report"},
		ExtractFromContainer: "/tmp/.",
		ExtractToHost:        extractDir,
		RunID:                task.RunID,
		StreamSinks:          sinks,
	}

	result, err := r.executor.Execute(ctx, job)
	if err != nil {
		return domain.K6Result{}, err
	}
	console.WriteString(result.Stdout)

	if result.ExitCode == domain.ExitCancelled {
		return domain.K6Result{
			RunID:         task.RunID,
			Success:       false,
			Error:         "cancelled by user",
			ConsoleOutput: console.String(),
		}, nil
	}

	// A taken dashboard port surfaces as a started-then-failed k6 process,
	// not as a launch error: nonzero exit with the bind failure on stderr.
	// Exit code 99 is excluded — that is a threshold verdict, not a launch
	// failure, even if the stderr happens to mention a port.
	if result.ExitCode != 0 && result.ExitCode != domain.ExitK6ThresholdFail && isPortClashOutput(result.Stderr) {
		return domain.K6Result{}, fmt.Errorf("k6runner: dashboard port %d: address already in use", port)
	}

	summaryPath := filepath.Join(extractDir, "summary.json")
	passed, headline := computeVerdict(result.TimedOut, result.ExitCode, summaryPath)

	k6Result := domain.K6Result{
		RunID:             task.RunID,
		TimedOut:          result.TimedOut,
		ThresholdsPassed:  passed,
		Success:           passed,
		ConsoleOutput:     console.String(),
		TotalRequests:     headline.totalRequests,
		FailedRequests:    headline.failedRequests,
		RequestRateX100:   headline.requestRateX100,
		AvgResponseTimeMs: headline.avgResponseTimeMs,
		P95Ms:             headline.p95Ms,
		P99Ms:             headline.p99Ms,
		MaxVUs:            headline.maxVUs,
	}
	if result.Error != "" {
		k6Result.Error = result.Error
	}

	if r.artifacts != nil {
		r.publishArtifacts(ctx, task.RunID, extractDir, &k6Result)
	}

	metrics.Global().RecordK6Run(passed)
	return k6Result, nil
}

// publishArtifacts uploads the extracted report layout to object
// storage. Upload failures are logged, not fatal — the run's pass/fail
// verdict already stands.
func (r *Runner) publishArtifacts(ctx context.Context, runID, extractDir string, result *domain.K6Result) {
	reportHTML := filepath.Join(extractDir, "report", "report.html")
	if _, err := os.Stat(reportHTML); err == nil {
		if url, err := r.artifacts.PutFile(ctx, runID, "index.html", reportHTML); err == nil {
			result.ReportURL = url
		} else {
			logging.Op().Warn("k6runner: report upload failed", "run_id", runID, "error", err)
		}
	}

	summaryPath := filepath.Join(extractDir, "summary.json")
	if _, err := os.Stat(summaryPath); err == nil {
		if url, err := r.artifacts.PutFile(ctx, runID, "summary.json", summaryPath); err == nil {
			result.SummaryURL = url
		} else {
			logging.Op().Warn("k6runner: summary upload failed", "run_id", runID, "error", err)
		}
	}

	if result.ConsoleOutput != "" {
		if url, err := r.artifacts.PutReader(ctx, runID, "console.log", strings.NewReader(result.ConsoleOutput)); err == nil {
			result.ConsoleURL = url
		} else {
			logging.Op().Warn("k6runner: console upload failed", "run_id", runID, "error", err)
		}
	}

	metricsPath := filepath.Join(extractDir, "metrics.json")
	if _, err := os.Stat(metricsPath); err == nil {
		if _, err := r.artifacts.PutFile(ctx, runID, "metrics.json", metricsPath); err != nil {
			logging.Op().Warn("k6runner: metrics upload failed", "run_id", runID, "error", err)
		}
	}
}

func isPortClashError(err error) bool {
	if err == nil {
		return false
	}
	return isPortClashOutput(err.Error()) || strings.Contains(strings.ToLower(err.Error()), "no free dashboard port")
}

// isPortClashOutput reports whether text carries the bind-failure signal a
// taken dashboard port produces, in either the Go net error or libc shape.
func isPortClashOutput(text string) bool {
	msg := strings.ToLower(text)
	return strings.Contains(msg, "address already in use") || strings.Contains(msg, "eaddrinuse")
}
