// Package pwrunner wraps the sandboxed container executor with
// Playwright-specific orchestration: writing each trigger's test scripts
// into the container, invoking the suite, and publishing the HTML report
// and console log as artifacts — the same "build once, run once" shape
// internal/k6runner uses for load tests.
package pwrunner

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oriys/beacon/internal/artifacts"
	"github.com/oriys/beacon/internal/container"
	"github.com/oriys/beacon/internal/dispatcher"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/logs"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/worker"
)

const (
	defaultTimeoutSeconds = 600
	playwrightMemoryMB    = 1024
	playwrightCPUFraction = 1.0
)

var unsafeNamePattern = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Executor is the subset of container.Executor the runner needs, declared
// as an interface so tests can substitute a fake.
type Executor interface {
	Execute(ctx context.Context, job domain.ContainerJob) (domain.ContainerResult, error)
}

var _ Executor = (*container.Executor)(nil)

// Config holds the knobs driving the Playwright container invocation.
type Config struct {
	Image string
}

// Runner executes a Playwright test suite inside one disposable container
// and implements worker.PlaywrightExecutor.
type Runner struct {
	cfg       Config
	executor  Executor
	artifacts *artifacts.Store
	console   *logs.ConsolePublisher
}

// New builds a Runner. artifactStore and consolePublisher may be nil, in
// which case artifact upload and live console streaming are skipped.
func New(cfg Config, executor Executor, artifactStore *artifacts.Store, consolePublisher *logs.ConsolePublisher) *Runner {
	return &Runner{cfg: cfg, executor: executor, artifacts: artifactStore, console: consolePublisher}
}

var _ worker.PlaywrightExecutor = (*Runner)(nil)

// Execute runs job's test scripts inside the container executor and
// returns the normalized verdict the worker folds into the RunRecord.
func (r *Runner) Execute(ctx context.Context, job dispatcher.PlaywrightJob) (worker.PlaywrightOutcome, error) {
	start := time.Now()

	extractDir, err := os.MkdirTemp("", "pw-"+job.RunID)
	if err != nil {
		return worker.PlaywrightOutcome{}, fmt.Errorf("pwrunner: mktemp: %w", err)
	}
	defer os.RemoveAll(extractDir)

	files := make([]domain.FileSpec, 0, len(job.TestScripts))
	for i, ts := range job.TestScripts {
		name := ts.ID
		if name == "" {
			name = fmt.Sprintf("spec-%d", i)
		}
		target := fmt.Sprintf("/tmp/tests/%s.spec.js", sanitizeName(name))
		files = append(files, domain.FileSpec{
			Target:  target,
			Content: base64.StdEncoding.EncodeToString([]byte(ts.Script)),
		})
	}

	env := make(map[string]string, len(job.Variables)+len(job.Secrets))
	for k, v := range job.Variables {
		env[k] = v
	}
	for k, v := range job.Secrets {
		env[k] = v.Reveal()
	}

	var sinks domain.StreamSinks
	if r.console != nil {
		sinks.Stdout = logs.NewConsoleWriter(ctx, r.console, job.RunID)
	}

	containerJob := domain.ContainerJob{
		Image:                r.cfg.Image,
		Cmd:                  []string{"npx", "playwright", "test", "--reporter=html", "/tmp/tests"},
		Env:                  env,
		WorkingDir:           "/tmp",
		MemoryMB:             playwrightMemoryMB,
		CPUFraction:          playwrightCPUFraction,
		NetworkMode:          domain.NetworkBridge,
		TimeoutMs:            defaultTimeoutSeconds * 1000,
		AdditionalFiles:      files,
		EnsureDirs:           []string{"/tmp/tests"},
		ExtractFromContainer: "/tmp/playwright-report/.",
		ExtractToHost:        extractDir,
		RunID:                job.RunID,
		StreamSinks:          sinks,
	}

	result, err := r.executor.Execute(ctx, containerJob)
	if err != nil {
		return worker.PlaywrightOutcome{}, err
	}

	outcome := worker.PlaywrightOutcome{DurationMs: time.Since(start).Milliseconds()}
	switch {
	case result.ExitCode == domain.ExitCancelled:
		metrics.Global().RecordRunCancelled()
		outcome.ErrorDetails = "cancelled by user"
	case result.TimedOut:
		outcome.ErrorDetails = "timed out"
	case result.ExitCode != domain.ExitSuccess:
		outcome.ErrorDetails = result.Error
		if outcome.ErrorDetails == "" {
			outcome.ErrorDetails = fmt.Sprintf("playwright exited with code %d", result.ExitCode)
		}
	default:
		outcome.Success = true
	}

	if r.artifacts != nil {
		r.publishArtifacts(ctx, job.RunID, extractDir, result.Stdout, &outcome)
	}

	return outcome, nil
}

func (r *Runner) publishArtifacts(ctx context.Context, runID, extractDir, stdout string, outcome *worker.PlaywrightOutcome) {
	reportHTML := filepath.Join(extractDir, "index.html")
	if _, err := os.Stat(reportHTML); err == nil {
		if url, err := r.artifacts.PutFile(ctx, runID, "index.html", reportHTML); err == nil {
			outcome.ReportURL = url
		} else {
			logging.Op().Warn("pwrunner: report upload failed", "run_id", runID, "error", err)
		}
	}

	if stdout != "" {
		if url, err := r.artifacts.PutReader(ctx, runID, "console.log", strings.NewReader(stdout)); err == nil {
			outcome.LogsURL = url
		} else {
			logging.Op().Warn("pwrunner: console upload failed", "run_id", runID, "error", err)
		}
	}
}

func sanitizeName(name string) string {
	return unsafeNamePattern.ReplaceAllString(name, "_")
}
