// Package metrics collects and exposes the fleet's runtime observability
// data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-monitor counters + time series)
//     served as JSON by JSONHandler and TimeSeriesHandler.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both lets a single worker expose its own health without a
// Prometheus sidecar while still supporting a central scrape target.
//
// # Concurrency — hot path
//
// RecordCheck is called from the regional worker on every completed probe
// or container run and must be as fast as possible. It uses atomic
// increments for global counters and dispatches a lightweight event onto a
// buffered channel (tsChan) for the time-series worker to process
// asynchronously. This avoids holding any lock on the hot path.
//
// The per-monitor MonitorMetrics struct also uses atomic operations
// exclusively; the sync.Map that stores the per-monitor entries is
// read-heavy and write-once-per-new-monitor, which is the ideal use case
// for sync.Map.
//
// # Invariants
//
//   - TotalChecks == SuccessChecks + FailedChecks (maintained by
//     RecordCheck).
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Checks       int64
	Errors       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes the fleet's runtime metrics.
type Metrics struct {
	// Check metrics
	TotalChecks   atomic.Int64
	SuccessChecks atomic.Int64
	FailedChecks  atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	// Container lifecycle metrics
	ContainersLaunched atomic.Int64
	ContainersStopped  atomic.Int64
	ContainersCrashed  atomic.Int64

	// k6 load-test metrics
	K6RunsTotal  atomic.Int64
	K6RunsPassed atomic.Int64

	// Alert metrics
	AlertsSent atomic.Int64

	// Cancellation metrics
	RunsCancelled atomic.Int64

	// Per-monitor metrics
	monitorMetrics sync.Map // monitorID -> *MonitorMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path.
type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// MonitorMetrics tracks metrics for a single monitor.
type MonitorMetrics struct {
	Checks    atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
	TotalMs   atomic.Int64
	MinMs     atomic.Int64
	MaxMs     atomic.Int64
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordCheck records a completed probe/run result for a monitor at a
// location, bridging to the Prometheus registry by kind/location labels.
func (m *Metrics) RecordCheck(monitorID, kind, location string, durationMs int64, success bool) {
	m.TotalChecks.Add(1)
	if success {
		m.SuccessChecks.Add(1)
	} else {
		m.FailedChecks.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	mm := m.getMonitorMetrics(monitorID)
	mm.Checks.Add(1)
	if success {
		mm.Successes.Add(1)
	} else {
		mm.Failures.Add(1)
	}
	mm.TotalMs.Add(durationMs)
	updateMin(&mm.MinMs, durationMs)
	updateMax(&mm.MaxMs, durationMs)

	m.recordTimeSeries(durationMs, !success)

	RecordPrometheusCheck(kind, location, durationMs, success)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot check path.
func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Checks++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

// RecordContainerLaunched records a new "build once, run once" container launch.
func (m *Metrics) RecordContainerLaunched() {
	m.ContainersLaunched.Add(1)
	RecordPrometheusContainerLaunched()
}

// RecordContainerStopped records a container exiting normally.
func (m *Metrics) RecordContainerStopped() {
	m.ContainersStopped.Add(1)
	RecordPrometheusContainerStopped()
}

// RecordContainerCrashed records a container exiting abnormally (non-zero,
// non-timeout, non-cancelled exit code, or a Docker-daemon error).
func (m *Metrics) RecordContainerCrashed() {
	m.ContainersCrashed.Add(1)
	RecordPrometheusContainerCrashed()
}

// RecordK6Run records a completed k6 run and its threshold verdict.
func (m *Metrics) RecordK6Run(passed bool) {
	m.K6RunsTotal.Add(1)
	if passed {
		m.K6RunsPassed.Add(1)
	}
	RecordPrometheusK6Run(passed)
}

// RecordAlertSent records an outbound alert notification dispatch.
func (m *Metrics) RecordAlertSent(kind string) {
	m.AlertsSent.Add(1)
	RecordPrometheusAlertSent(kind)
}

// RecordRunCancelled records a run that was preempted by the cancellation store.
func (m *Metrics) RecordRunCancelled() {
	m.RunsCancelled.Add(1)
	RecordPrometheusRunCancelled()
}

func (m *Metrics) getMonitorMetrics(monitorID string) *MonitorMetrics {
	if v, ok := m.monitorMetrics.Load(monitorID); ok {
		return v.(*MonitorMetrics)
	}

	mm := &MonitorMetrics{}
	mm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.monitorMetrics.LoadOrStore(monitorID, mm)
	return actual.(*MonitorMetrics)
}

// GetMonitorMetrics returns the metrics for a specific monitor (or nil if none recorded yet).
func (m *Metrics) GetMonitorMetrics(monitorID string) *MonitorMetrics {
	if v, ok := m.monitorMetrics.Load(monitorID); ok {
		return v.(*MonitorMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalChecks.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	result := map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"checks": map[string]interface{}{
			"total":   total,
			"success": m.SuccessChecks.Load(),
			"failed":  m.FailedChecks.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"containers": map[string]interface{}{
			"launched": m.ContainersLaunched.Load(),
			"stopped":  m.ContainersStopped.Load(),
			"crashed":  m.ContainersCrashed.Load(),
		},
		"k6": map[string]interface{}{
			"runs_total":  m.K6RunsTotal.Load(),
			"runs_passed": m.K6RunsPassed.Load(),
		},
		"alerts_sent":       m.AlertsSent.Load(),
		"runs_cancelled":    m.RunsCancelled.Load(),
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}

	return result
}

// MonitorStats returns per-monitor metrics.
func (m *Metrics) MonitorStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.monitorMetrics.Range(func(key, value interface{}) bool {
		monitorID := key.(string)
		mm := value.(*MonitorMetrics)

		total := mm.Checks.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(mm.TotalMs.Load()) / float64(total)
		}

		minMs := mm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[monitorID] = map[string]interface{}{
			"checks":    total,
			"successes": mm.Successes.Load(),
			"failures":  mm.Failures.Load(),
			"avg_ms":    avgMs,
			"min_ms":    minMs,
			"max_ms":    mm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["monitors"] = m.MonitorStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"checks":       bucket.Checks,
			"errors":       bucket.Errors,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
