package probes

import (
	"context"
	"time"
)

// SyntheticRunner executes a Playwright test suite for a synthetic monitor
// — kept as an interface here so probes stays free of the container/k6
// dependency graph and is independently testable. No type in this module
// implements it; the worker daemon passes nil, so a synthetic monitor tick
// reports an error outcome.
type SyntheticRunner interface {
	RunSynthetic(ctx context.Context, testID string) (SyntheticResult, error)
}

// SyntheticResult is the outcome of a Playwright-based synthetic check.
type SyntheticResult struct {
	IsUp           bool
	ResponseTimeMs int64
	ReportURL      string
	ErrorDetails   string
}

// RunSynthetic delegates to runner, timing the call for the result's
// ResponseTimeMs so callers don't need to duplicate that bookkeeping at
// every call site.
func RunSynthetic(ctx context.Context, runner SyntheticRunner, testID string) SyntheticResult {
	start := time.Now()
	result, err := runner.RunSynthetic(ctx, testID)
	if err != nil {
		return SyntheticResult{IsUp: false, ResponseTimeMs: time.Since(start).Milliseconds(), ErrorDetails: err.Error()}
	}
	if result.ResponseTimeMs == 0 {
		result.ResponseTimeMs = time.Since(start).Milliseconds()
	}
	return result
}
