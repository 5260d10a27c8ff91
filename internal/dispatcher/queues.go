// Package dispatcher fans a monitor tick out to the regional monitor
// queues and routes Playwright/k6 job triggers onto their own queues.
package dispatcher

import "github.com/oriys/beacon/internal/domain"

// Queue names MUST match verbatim across producers, workers, and any
// autoscaler — there is no environment-variable override.
const (
	QueuePlaywrightGlobal = "playwright-global"
	QueueK6Global         = "k6-global"
	QueueJobScheduler     = "job-scheduler"
	QueueK6JobScheduler   = "k6-job-scheduler"
	QueueMonitorScheduler = "monitor-scheduler"
)

// MonitorQueue returns the per-region monitor queue name for location.
func MonitorQueue(location domain.LocationCode) string {
	return "monitor-" + string(location)
}

// K6Queue returns the per-region k6 queue name for location.
func K6Queue(location domain.LocationCode) string {
	return "k6-" + string(location)
}

// Job-options defaults.
const (
	MonitorAttempts   = 2
	ExecutionAttempts = 3

	MonitorBackoffSeconds   = 2
	ExecutionBackoffSeconds = 5

	MonitorLockDuration   = "5m"
	SchedulerLockDuration = "2m"

	StallIntervalSeconds  = 30
	MaxStalledCount       = 2
	RemoveOnCompleteCount = 500
	RemoveOnCompleteAge   = 86400
	RemoveOnFailCount     = 1000
	RemoveOnFailAge       = 7 * 86400
)
