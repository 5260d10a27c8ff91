package k6runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/oriys/beacon/internal/domain"
)

type fakeExecutor struct {
	mu            sync.Mutex
	calls         int
	errs          []error                  // errs[i] returned on call i; nil beyond the slice
	resultsByCall []domain.ContainerResult // resultsByCall[i] returned on call i; result beyond the slice
	result        domain.ContainerResult
	started       chan struct{}
	release       chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, job domain.ContainerJob) (domain.ContainerResult, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if call < len(f.errs) && f.errs[call] != nil {
		return domain.ContainerResult{}, f.errs[call]
	}
	if call < len(f.resultsByCall) {
		return f.resultsByCall[call], nil
	}
	return f.result, nil
}

func TestRunK6PassesVerdictThrough(t *testing.T) {
	exec := &fakeExecutor{result: domain.ContainerResult{ExitCode: 0}}
	r := New(Config{}, exec, nil, nil)

	result := r.RunK6(context.Background(), domain.K6Task{RunID: "run-1", Script: "export default () => {}"})
	if !result.Success {
		t.Errorf("expected a clean exit to pass, got %+v", result)
	}
	if exec.calls != 1 {
		t.Errorf("expected exactly one container launch, got %d", exec.calls)
	}
}

func TestRunK6RetriesOnPortClash(t *testing.T) {
	clash := errors.New("k6 startup: listen tcp 0.0.0.0:5665: bind: address already in use")
	exec := &fakeExecutor{
		errs:   []error{clash, clash},
		result: domain.ContainerResult{ExitCode: 0},
	}
	r := New(Config{MaxDashboardAttempts: 5}, exec, nil, nil)

	result := r.RunK6(context.Background(), domain.K6Task{RunID: "run-2", Script: "x"})
	if !result.Success {
		t.Fatalf("expected success after port-clash retries, got %+v", result)
	}
	if exec.calls != 3 {
		t.Errorf("expected 3 attempts (2 clashes + 1 success), got %d", exec.calls)
	}
}

func TestRunK6RetriesOnPortClashInStderr(t *testing.T) {
	// The common real-world shape: docker launches fine, k6 starts, then
	// dies because the dashboard port is taken — no Go-level error, just a
	// nonzero exit with the bind failure on stderr.
	clash := domain.ContainerResult{
		ExitCode: 105,
		Stderr:   `level=error msg="error listening: listen tcp 0.0.0.0:5665: bind: address already in use"`,
	}
	exec := &fakeExecutor{
		resultsByCall: []domain.ContainerResult{clash, clash},
		result:        domain.ContainerResult{ExitCode: 0},
	}
	r := New(Config{MaxDashboardAttempts: 5}, exec, nil, nil)

	result := r.RunK6(context.Background(), domain.K6Task{RunID: "run-8", Script: "x"})
	if !result.Success {
		t.Fatalf("expected success after stderr port-clash retries, got %+v", result)
	}
	if exec.calls != 3 {
		t.Errorf("expected 3 attempts (2 stderr clashes + 1 success), got %d", exec.calls)
	}
}

func TestRunK6ThresholdExitNotTreatedAsPortClash(t *testing.T) {
	exec := &fakeExecutor{result: domain.ContainerResult{
		ExitCode: domain.ExitK6ThresholdFail,
		Stderr:   `some check mentioning address already in use in request output`,
	}}
	r := New(Config{MaxDashboardAttempts: 5}, exec, nil, nil)

	result := r.RunK6(context.Background(), domain.K6Task{RunID: "run-9", Script: "x"})
	if result.Success {
		t.Fatal("expected a threshold failure verdict")
	}
	if exec.calls != 1 {
		t.Errorf("expected no retry for a threshold-failure exit, got %d attempts", exec.calls)
	}
}

func TestRunK6GivesUpAfterMaxAttempts(t *testing.T) {
	clash := errors.New("EADDRINUSE")
	exec := &fakeExecutor{errs: []error{clash, clash, clash}}
	r := New(Config{MaxDashboardAttempts: 3}, exec, nil, nil)

	result := r.RunK6(context.Background(), domain.K6Task{RunID: "run-3", Script: "x"})
	if result.Success {
		t.Fatal("expected failure once every dashboard attempt clashed")
	}
	if exec.calls != 3 {
		t.Errorf("expected exactly MaxDashboardAttempts launches, got %d", exec.calls)
	}
}

func TestRunK6NonClashErrorDoesNotRetry(t *testing.T) {
	exec := &fakeExecutor{errs: []error{errors.New("docker unavailable")}}
	r := New(Config{MaxDashboardAttempts: 5}, exec, nil, nil)

	result := r.RunK6(context.Background(), domain.K6Task{RunID: "run-4", Script: "x"})
	if result.Success {
		t.Fatal("expected failure")
	}
	if exec.calls != 1 {
		t.Errorf("expected no retry for a non-clash error, got %d attempts", exec.calls)
	}
	if !strings.Contains(result.Error, "docker unavailable") {
		t.Errorf("expected the launch error surfaced, got %q", result.Error)
	}
}

func TestRunK6RejectsConcurrentRun(t *testing.T) {
	exec := &fakeExecutor{
		result:  domain.ContainerResult{ExitCode: 0},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := New(Config{}, exec, nil, nil)

	done := make(chan domain.K6Result, 1)
	go func() {
		done <- r.RunK6(context.Background(), domain.K6Task{RunID: "run-5", Script: "x"})
	}()
	<-exec.started

	second := r.RunK6(context.Background(), domain.K6Task{RunID: "run-6", Script: "x"})
	if second.Success {
		t.Error("expected the second concurrent run to be rejected")
	}
	if !strings.Contains(second.Error, "active run slot full") {
		t.Errorf("expected the slot-full error, got %q", second.Error)
	}

	close(exec.release)
	first := <-done
	if !first.Success {
		t.Errorf("expected the first run to complete successfully, got %+v", first)
	}
}

func TestRunK6CancelledResult(t *testing.T) {
	exec := &fakeExecutor{result: domain.ContainerResult{ExitCode: domain.ExitCancelled}}
	r := New(Config{}, exec, nil, nil)

	result := r.RunK6(context.Background(), domain.K6Task{RunID: "run-7", Script: "x"})
	if result.Success {
		t.Fatal("expected a cancelled run to report failure")
	}
	if result.Error != "cancelled by user" {
		t.Errorf("expected cancelled-by-user error, got %q", result.Error)
	}
}
