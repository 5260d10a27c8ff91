package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promRegistry = prometheus.NewRegistry()

	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_checks_total",
		Help: "Total number of probe/run checks completed, by kind, location and outcome.",
	}, []string{"kind", "location", "result"})

	checkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beacon_check_duration_milliseconds",
		Help:    "Duration of a single check (probe or container run), in milliseconds.",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	}, []string{"kind", "location"})

	containersLaunchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_containers_launched_total",
		Help: "Total number of containers launched for synthetic or k6 jobs.",
	})
	containersStoppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_containers_stopped_total",
		Help: "Total number of containers that exited normally.",
	})
	containersCrashedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_containers_crashed_total",
		Help: "Total number of containers that exited abnormally.",
	})

	k6RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_k6_runs_total",
		Help: "Total number of completed k6 load-test runs, by threshold verdict.",
	}, []string{"verdict"})

	alertsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_alerts_sent_total",
		Help: "Total number of alert notifications dispatched, by kind.",
	}, []string{"kind"})

	runsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_runs_cancelled_total",
		Help: "Total number of runs preempted via the cancellation store.",
	})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "beacon_queue_depth",
		Help: "Current depth (LLEN) of a dispatch queue, by queue name.",
	}, []string{"queue"})

	barrierWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beacon_barrier_wait_seconds",
		Help:    "Time an execution group's aggregation barrier spent waiting for all locations to report.",
		Buckets: prometheus.DefBuckets,
	})

	circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "beacon_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open), by breaker name.",
	}, []string{"breaker"})

	circuitBreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_circuit_breaker_trips_total",
		Help: "Total number of times a circuit breaker tripped open, by breaker name.",
	}, []string{"breaker"})

	activeChecks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_active_checks",
		Help: "Number of checks currently executing across all regional workers in this process.",
	})

	uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "beacon_uptime_seconds",
		Help: "Seconds since this process's metrics system was initialized.",
	}, func() float64 {
		return time.Since(StartTime()).Seconds()
	})
)

func init() {
	promRegistry.MustRegister(
		checksTotal,
		checkDuration,
		containersLaunchedTotal,
		containersStoppedTotal,
		containersCrashedTotal,
		k6RunsTotal,
		alertsSentTotal,
		runsCancelledTotal,
		queueDepth,
		barrierWaitSeconds,
		circuitBreakerState,
		circuitBreakerTripsTotal,
		activeChecks,
		uptimeSeconds,
	)
}

// RecordPrometheusCheck records one completed check in the Prometheus registry.
func RecordPrometheusCheck(kind, location string, durationMs int64, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	checksTotal.WithLabelValues(kind, location, result).Inc()
	checkDuration.WithLabelValues(kind, location).Observe(float64(durationMs))
}

// RecordPrometheusContainerLaunched increments the container-launch counter.
func RecordPrometheusContainerLaunched() {
	containersLaunchedTotal.Inc()
}

// RecordPrometheusContainerStopped increments the container-stopped counter.
func RecordPrometheusContainerStopped() {
	containersStoppedTotal.Inc()
}

// RecordPrometheusContainerCrashed increments the container-crashed counter.
func RecordPrometheusContainerCrashed() {
	containersCrashedTotal.Inc()
}

// RecordPrometheusK6Run records a completed k6 run by threshold verdict.
func RecordPrometheusK6Run(passed bool) {
	verdict := "pass"
	if !passed {
		verdict = "fail"
	}
	k6RunsTotal.WithLabelValues(verdict).Inc()
}

// RecordPrometheusAlertSent increments the alerts-sent counter for a notification kind.
func RecordPrometheusAlertSent(kind string) {
	alertsSentTotal.WithLabelValues(kind).Inc()
}

// RecordPrometheusRunCancelled increments the cancelled-runs counter.
func RecordPrometheusRunCancelled() {
	runsCancelledTotal.Inc()
}

// SetQueueDepth sets the last-observed depth of a named dispatch queue.
func SetQueueDepth(queue string, depth int64) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordBarrierWait observes how long an execution group's barrier waited
// before releasing (or timing out).
func RecordBarrierWait(seconds float64) {
	barrierWaitSeconds.Observe(seconds)
}

// SetCircuitBreakerState records a breaker's current state: 0=closed,
// 1=half-open, 2=open.
func SetCircuitBreakerState(breaker string, state int) {
	circuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordCircuitBreakerTrip increments the trip counter for a named breaker.
func RecordCircuitBreakerTrip(breaker string) {
	circuitBreakerTripsTotal.WithLabelValues(breaker).Inc()
}

// IncActiveChecks increments the in-flight check gauge.
func IncActiveChecks() {
	activeChecks.Inc()
}

// DecActiveChecks decrements the in-flight check gauge.
func DecActiveChecks() {
	activeChecks.Dec()
}

// PrometheusHandler returns the HTTP handler Prometheus scrapes.
func PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
}

// PrometheusRegistry exposes the registry for tests and composite servers
// that need to register additional collectors.
func PrometheusRegistry() *prometheus.Registry {
	return promRegistry
}
