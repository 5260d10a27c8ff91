package container

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/beacon/internal/circuitbreaker"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/jobtracker"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/observability"
	"github.com/oriys/beacon/internal/pkg/crypto"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CancellationChecker is the subset of internal/cancel.Store the executor
// needs to poll during a run. Declared here, not imported, so this package
// has no dependency on the Redis client used by the cancellation store.
type CancellationChecker interface {
	IsCancelled(ctx context.Context, runID string) bool
	Clear(ctx context.Context, runID string)
}

// Executor runs ContainerJobs as disposable Docker containers.
type Executor struct {
	cfg     *Config
	cancel  CancellationChecker
	mu      sync.Mutex
	running map[string]string // runID -> container name, for external kill

	// breaker guards against repeated "infrastructure unavailable"
	// failures: a burst of docker-invocation errors (engine down, binary
	// missing) trips it open so a saturated/broken host fails fast instead
	// of spawning a doomed exec.CommandContext per queued job.
	breaker *circuitbreaker.Breaker

	// tracker exposes live phase/heartbeat progress for in-flight runs so
	// a caller (the worker's status endpoint, an operator CLI) can observe
	// a container execution without tailing its stdout stream.
	tracker *jobtracker.Tracker
}

// NewExecutor creates an Executor. cancel may be nil, in which case
// cooperative cancellation is a no-op (executeInContainer still enforces
// its outer timeout).
func NewExecutor(cfg *Config, cancel CancellationChecker) *Executor {
	return &Executor{
		cfg:     cfg,
		cancel:  cancel,
		running: make(map[string]string),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			ErrorPct:       50,
			WindowDuration: 30 * time.Second,
			OpenDuration:   15 * time.Second,
			HalfOpenProbes: 1,
		}),
		tracker: jobtracker.New(time.Hour),
	}
}

// Progress returns the live progress of an in-flight run, or nil if runID
// is not currently tracked (not started, or already finished and cleaned
// up).
func (e *Executor) Progress(runID string) *jobtracker.Progress {
	return e.tracker.Get(runID)
}

// Execute runs job.Cmd inside a fresh container and returns its result.
// It never returns an error for in-container failures — those are
// reported via ContainerResult; the returned error is reserved for
// validation failures and Docker-unavailable conditions.
func (e *Executor) Execute(ctx context.Context, job domain.ContainerJob) (domain.ContainerResult, error) {
	if err := e.validate(&job); err != nil {
		return domain.ContainerResult{}, err
	}

	if !e.breaker.Allow() {
		return domain.ContainerResult{}, errors.New("docker unavailable: circuit breaker open after repeated launch failures")
	}
	if !dockerSocketAccessible() {
		e.breaker.RecordFailure()
		return domain.ContainerResult{}, errors.New("docker unavailable: engine socket not accessible")
	}

	// Container names are uuid-based per run ("build once, run once");
	// when a caller supplies RunID we additionally derive a short,
	// deterministic suffix from it so operator tooling can correlate a
	// container name back to its run without a lookup.
	name := fmt.Sprintf("exec-%s", uuid.New().String())
	if job.RunID != "" {
		name = fmt.Sprintf("exec-%s-%s", crypto.HashString(job.RunID), uuid.New().String()[:8])
	}
	if job.RunID != "" {
		e.mu.Lock()
		e.running[job.RunID] = name
		e.mu.Unlock()
		e.tracker.Update(job.RunID, 0, "launching container", "launching")
		defer func() {
			e.mu.Lock()
			delete(e.running, job.RunID)
			e.mu.Unlock()
			e.tracker.Remove(job.RunID)
		}()
	}

	args, err := e.buildArgs(name, job)
	if err != nil {
		return domain.ContainerResult{}, err
	}

	ctx, span := observability.StartSpan(ctx, "container.Execute",
		observability.AttrRunID.String(job.RunID),
		observability.AttrContainerName.String(name))
	defer span.End()

	metrics.Global().RecordContainerLaunched()
	logging.Op().Debug("launching container", "name", name, "image", job.Image, "run_id", job.RunID)
	if job.RunID != "" {
		e.tracker.Update(job.RunID, 10, "container running", "running")
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeWriter(&stdout, job.StreamSinks.Stdout)
	cmd.Stderr = teeWriter(&stderr, job.StreamSinks.Stderr)

	start := time.Now()

	killed := make(chan struct{})
	if job.RunID != "" && e.cancel != nil {
		go e.pollCancellation(runCtx, job.RunID, name, killed)
	}

	runErr := cmd.Run()
	close(killed)
	duration := time.Since(start)

	result := domain.ContainerResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	select {
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			result.ExitCode = domain.ExitTimeout
			result.Error = "timed out"
			e.forceRemove(name)
			metrics.Global().RecordContainerCrashed()
			return e.finish(job, name, result)
		}
	default:
	}

	if job.RunID != "" && e.cancel != nil && e.cancel.IsCancelled(context.Background(), job.RunID) {
		result.ExitCode = domain.ExitCancelled
		result.Error = "cancelled"
		e.forceRemove(name)
		e.cancel.Clear(context.Background(), job.RunID)
		metrics.Global().RecordRunCancelled()
		return e.finish(job, name, result)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Error = runErr.Error()
			e.breaker.RecordFailure()
			metrics.Global().RecordContainerCrashed()
			return e.finish(job, name, result)
		}
	}

	e.breaker.RecordSuccess()
	if result.ExitCode != 0 {
		metrics.Global().RecordContainerCrashed()
	} else {
		metrics.Global().RecordContainerStopped()
	}

	return e.finish(job, name, result)
}

// finish performs extraction (best-effort, never fails the primary result)
// and force-removes the container; on the timeout and cancel paths, which
// already removed it, the second removal is a harmless no-op.
func (e *Executor) finish(job domain.ContainerJob, name string, result domain.ContainerResult) (domain.ContainerResult, error) {
	if job.ExtractFromContainer != "" && result.ExitCode != domain.ExitTimeout && result.ExitCode != domain.ExitCancelled {
		if job.RunID != "" {
			e.tracker.Update(job.RunID, 90, "extracting artifacts", "extracting")
		}
		if err := e.extract(name, job.ExtractFromContainer, job.ExtractToHost); err != nil {
			logging.Op().Warn("artifact extraction failed", "container", name, "error", err)
		}
	}
	e.forceRemove(name)
	if job.RunID != "" {
		logging.GetOutputStore().Store(job.RunID, "", result.Stdout, result.Stderr)
		e.tracker.Update(job.RunID, 100, "done", "done")
	}
	return result, nil
}

func (e *Executor) pollCancellation(ctx context.Context, runID, containerName string, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tracker.Heartbeat(runID)
			if e.cancel.IsCancelled(ctx, runID) {
				e.killContainer(containerName)
				return
			}
		}
	}
}

func (e *Executor) killContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec.CommandContext(ctx, "docker", "kill", name).Run()
}

func (e *Executor) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()
}

func (e *Executor) extract(name, fromContainer, toHost string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	src := fmt.Sprintf("%s:%s", name, fromContainer)
	return exec.CommandContext(ctx, "docker", "cp", src, toHost).Run()
}

// validate enforces the launch preconditions.
func (e *Executor) validate(job *domain.ContainerJob) error {
	if job.InlineScriptContent == "" || job.InlineScriptFileName == "" {
		return errors.New("container: inlineScriptContent and inlineScriptFileName are both required")
	}
	if (job.ExtractFromContainer == "") != (job.ExtractToHost == "") {
		return errors.New("container: extractToHost is required iff extractFromContainer is set")
	}

	job.MemoryMB = orDefault(job.MemoryMB, e.cfg.DefaultMemoryMB)
	if job.MemoryMB < MinMemoryMB || job.MemoryMB > MaxMemoryMB {
		return fmt.Errorf("container: memoryMB %d out of range [%d, %d]", job.MemoryMB, MinMemoryMB, MaxMemoryMB)
	}

	job.CPUFraction = orDefaultF(job.CPUFraction, e.cfg.DefaultCPUFraction)
	if job.CPUFraction < MinCPUFraction || job.CPUFraction > MaxCPUFraction {
		return fmt.Errorf("container: cpuFraction %.2f out of range [%.1f, %.1f]", job.CPUFraction, MinCPUFraction, MaxCPUFraction)
	}

	timeout := time.Duration(job.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout < MinTimeout || timeout > MaxTimeout {
		return fmt.Errorf("container: timeoutMs %d out of range [%s, %s]", timeout.Milliseconds(), MinTimeout, MaxTimeout)
	}
	job.TimeoutMs = int(timeout.Milliseconds())

	if job.NetworkMode == "" {
		job.NetworkMode = domain.NetworkNone
	}

	cleaned := make(map[string]string, len(job.Env))
	for k, v := range job.Env {
		if envNamePattern.MatchString(k) {
			cleaned[k] = v
		} else {
			logging.Op().Warn("dropping invalid env var name", "name", k)
		}
	}
	job.Env = cleaned

	if job.Image == "" {
		job.Image = e.cfg.DefaultImage
	}
	return nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultF(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// networkFor resolves the container's network: the job chooses the mode,
// and a configured named network substitutes for bridge.
func (e *Executor) networkFor(job domain.ContainerJob) string {
	if e.cfg.Network != "" && job.NetworkMode == domain.NetworkBridge {
		return e.cfg.Network
	}
	return string(job.NetworkMode)
}

// buildArgs assembles the `docker run` invocation carrying the
// launch protocol: a shell wrapper writes the inline script and any
// additional files under /tmp before exec'ing the (rewritten) command.
func (e *Executor) buildArgs(name string, job domain.ContainerJob) ([]string, error) {
	wrapper, err := e.buildWrapperScript(job)
	if err != nil {
		return nil, err
	}

	args := []string{
		"run", "--rm",
		"--name", name,
		"--user", "1000:1000",
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--init",
		"--ipc", "host",
		"--memory", fmt.Sprintf("%dm", job.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", job.MemoryMB),
		"--cpus", fmt.Sprintf("%.2f", job.CPUFraction),
		"--pids-limit", fmt.Sprintf("%d", e.cfg.PidsLimit),
		"--shm-size", fmt.Sprintf("%dm", e.cfg.ShmSizeMB),
		"--network", e.networkFor(job),
		"--entrypoint", "/bin/sh",
	}

	if job.ExtractFromContainer != "" {
		// extraction requires the container to survive past exit; drop --rm
		for i, a := range args {
			if a == "--rm" {
				args = append(args[:i], args[i+1:]...)
				break
			}
		}
	}

	if e.cfg.SeccompProfilePath != "" {
		args = append(args, "--security-opt", "seccomp="+e.cfg.SeccompProfilePath)
	}

	for k, v := range job.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	if job.WorkingDir != "" {
		args = append(args, "-w", job.WorkingDir)
	}

	args = append(args, job.Image, "-c", wrapper)
	return args, nil
}

// buildWrapperScript builds the shell wrapper that stages the inline
// script and additional files before handing off to the real command.
func (e *Executor) buildWrapperScript(job domain.ContainerJob) (string, error) {
	var b strings.Builder
	b.WriteString("set -e\n")

	for _, dir := range job.EnsureDirs {
		fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(dir))
	}

	b.WriteString("if [ -d /worker/node_modules ] && [ ! -e /tmp/node_modules ]; then ln -s /worker/node_modules /tmp/node_modules; fi\n")

	scriptPath := "/tmp/" + job.InlineScriptFileName
	fmt.Fprintf(&b, "echo %s | base64 -d > %s\n",
		base64.StdEncoding.EncodeToString([]byte(job.InlineScriptContent)), shellQuote(scriptPath))

	for _, f := range job.AdditionalFiles {
		fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(parentDir(f.Target)))
		fmt.Fprintf(&b, "echo %s | base64 -d > %s\n", f.Content, shellQuote(f.Target))
	}

	cmd := make([]string, len(job.Cmd))
	for i, c := range job.Cmd {
		c = strings.ReplaceAll(c, job.InlineScriptFileName, scriptPath)
		cmd[i] = shellQuote(c)
	}
	b.WriteString(strings.Join(cmd, " "))
	b.WriteString("\n")

	return b.String(), nil
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

var shellSpecial = regexp.MustCompile(`[^A-Za-z0-9_./=-]`)

// shellQuote single-quotes a value if it contains shell-special characters.
func shellQuote(s string) string {
	if !shellSpecial.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
