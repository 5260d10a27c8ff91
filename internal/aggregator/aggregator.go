// Package aggregator implements the multi-location result aggregation and
// alert-gate decision: once every expected location has
// reported for an execution group, exactly one worker — the one observing
// the completed barrier — rolls the per-location results up into the
// monitor's aggregate status and decides whether an alert fires.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/beacon/internal/barrier"
	"github.com/oriys/beacon/internal/cache"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/observability"
	"github.com/oriys/beacon/internal/store"
)

const (
	// settleDelay gives the last-arriving location's own SaveResult call a
	// moment to land before LatestResultByLocation is queried, covering the
	// gap between this worker's barrier SADD and its sibling's store write.
	settleDelay = 200 * time.Millisecond

	maxAlertsPerStreak  = 3
	minAlertRepeatRuns  = 5
	sslAlertCachePrefix = "beacon:sslalert:"
	sslAlertTTL         = 24 * time.Hour
	streakCachePrefix   = "beacon:alertstreak:"
	streakTTL           = 30 * 24 * time.Hour
)

// Aggregator owns the per-execution-group barrier and the alert-gate
// debounce state.
type Aggregator struct {
	store    store.Store
	barrier  *barrier.Barrier
	notifier domain.AlertNotifier
	cache    cache.Cache

	// sleep is overridable in tests so the settle delay doesn't slow them down.
	sleep func(time.Duration)
}

// New builds an Aggregator. notifier may be nil, in which case alert
// decisions are computed but never delivered.
func New(s store.Store, b *barrier.Barrier, notifier domain.AlertNotifier, c cache.Cache) *Aggregator {
	return &Aggregator{store: s, barrier: b, notifier: notifier, cache: c, sleep: time.Sleep}
}

// alertStreak tracks the aggregate-level consecutive-status run count used
// to decide when a repeat alert is due, independent of the per-location
// counters carried on MonitorResultRecord.
type alertStreak struct {
	Status           domain.MonitorStatus `json:"status"`
	ConsecutiveCount int                  `json:"consecutive_count"`
	AlertsSent       int                  `json:"alerts_sent"`
}

// SaveDistributedResult persists a single-location result, updates its
// consecutive counters, and — if this call observes the execution group's
// barrier as complete — rolls the group up into the monitor's aggregate
// status and runs the alert gate.
func (a *Aggregator) SaveDistributedResult(ctx context.Context, result *domain.MonitorResultRecord, executionGroupID string, expectedLocations []domain.LocationCode) error {
	prev, err := a.store.LatestResult(ctx, result.MonitorID, result.Location)
	if err != nil {
		return fmt.Errorf("aggregator: load previous result: %w", err)
	}
	failureCount, successCount := domain.NextCounters(prev, result.IsUp)
	result.ConsecutiveFailureCount = failureCount
	result.ConsecutiveSuccessCount = successCount
	result.IsStatusChange = prev == nil || prev.IsUp != result.IsUp
	result.ExecutionGroupID = executionGroupID

	if err := a.store.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("aggregator: save result: %w", err)
	}

	if a.barrier == nil || len(expectedLocations) == 0 {
		return nil
	}

	complete, err := a.barrier.Report(ctx, executionGroupID, result.Location, len(expectedLocations))
	if err != nil {
		logging.Op().Warn("aggregator: barrier report failed, result saved but aggregation skipped",
			"monitor_id", result.MonitorID, "execution_group_id", executionGroupID, "error", err)
		return nil
	}
	if !complete {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "aggregator.Aggregate",
		observability.AttrMonitorID.String(result.MonitorID),
		observability.AttrExecutionGroup.String(executionGroupID))
	defer span.End()

	logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx)).Info(
		"aggregator: barrier complete, aggregating",
		"monitor_id", result.MonitorID, "execution_group_id", executionGroupID,
		"expected_locations", len(expectedLocations))

	a.sleep(settleDelay)

	locationResults, err := a.store.LatestResultByLocation(ctx, result.MonitorID, executionGroupID)
	if err != nil {
		return fmt.Errorf("aggregator: load group results: %w", err)
	}
	if err := a.barrier.Delete(ctx, executionGroupID); err != nil {
		logging.Op().Warn("aggregator: barrier delete failed", "execution_group_id", executionGroupID, "error", err)
	}

	monitor, err := a.store.GetMonitor(ctx, result.MonitorID)
	if err != nil {
		return fmt.Errorf("aggregator: load monitor: %w", err)
	}
	if monitor == nil {
		return nil
	}

	aggregateUp := evaluateAggregate(monitor.Location, locationResults)
	newStatus := domain.MonitorDown
	if aggregateUp {
		newStatus = domain.MonitorUp
	}

	prevStatus := monitor.Status
	statusChanged := prevStatus != newStatus
	if statusChanged {
		if err := a.store.UpdateMonitorStatus(ctx, monitor.ID, newStatus, time.Now()); err != nil {
			logging.Op().Warn("aggregator: update monitor status failed", "monitor_id", monitor.ID, "error", err)
		}
	}

	a.evaluateAlerts(ctx, monitor, prevStatus, newStatus, statusChanged, locationResults)
	return nil
}

// evaluateAggregate combines per-location up/down results into a single
// aggregate verdict per the monitor's configured strategy.
func evaluateAggregate(lc domain.LocationConfig, results map[domain.LocationCode]*domain.MonitorResultRecord) bool {
	if len(results) == 0 {
		return false
	}
	upCount := 0
	for _, r := range results {
		if r != nil && r.IsUp {
			upCount++
		}
	}
	total := len(results)

	switch lc.EffectiveStrategy() {
	case domain.StrategyAll:
		return upCount == total
	case domain.StrategyAny:
		return upCount > 0
	default: // majority, also the collapse target for a partial report
		pct := upCount * 100 / total
		return pct >= lc.EffectiveThreshold()
	}
}

// evaluateAlerts runs the up/down debounce gate and the independent SSL
// expiration gate, delivering at most one notification per decision.
func (a *Aggregator) evaluateAlerts(ctx context.Context, monitor *domain.MonitorSpec, prevStatus, newStatus domain.MonitorStatus, statusChanged bool, results map[domain.LocationCode]*domain.MonitorResultRecord) {
	if monitor.Alert.AlertOnSslExpiration {
		a.evaluateSslAlert(ctx, monitor, results)
	}

	if !monitor.Alert.Enabled {
		return
	}
	// A monitor that was pending or paused before this tick has no
	// meaningful "previous" state to alert a transition away from.
	if prevStatus == domain.MonitorPending || prevStatus == domain.MonitorPaused {
		return
	}
	if newStatus != domain.MonitorUp && newStatus != domain.MonitorDown {
		return
	}

	streak := a.loadStreak(ctx, monitor.ID)
	if streak.Status != newStatus {
		streak = alertStreak{Status: newStatus, ConsecutiveCount: 1, AlertsSent: 0}
	} else {
		streak.ConsecutiveCount++
	}
	defer a.saveStreak(ctx, monitor.ID, streak)

	var (
		enabled   bool
		threshold int
		kind      domain.AlertKind
	)
	switch newStatus {
	case domain.MonitorDown:
		enabled = monitor.Alert.AlertOnFailure
		threshold = monitor.Alert.EffectiveFailureThreshold()
		kind = domain.AlertFailure
	case domain.MonitorUp:
		enabled = monitor.Alert.AlertOnRecovery
		threshold = monitor.Alert.EffectiveRecoveryThreshold()
		kind = domain.AlertRecovery
	}
	if !enabled || streak.AlertsSent >= maxAlertsPerStreak {
		return
	}

	interval := threshold * 2
	if interval < minAlertRepeatRuns {
		interval = minAlertRepeatRuns
	}

	due := streak.ConsecutiveCount == threshold ||
		(streak.ConsecutiveCount > threshold && (streak.ConsecutiveCount-threshold)%interval == 0)
	if !due {
		return
	}

	streak.AlertsSent++
	a.sendAlert(ctx, monitor, kind, newStatus, "", map[string]any{
		"consecutive_count": streak.ConsecutiveCount,
		"locations_checked": len(results),
	})
	if err := a.store.IncrementAlertsSent(ctx, monitor.ID, kind); err != nil {
		logging.Op().Warn("aggregator: increment alerts-sent counter failed",
			"monitor_id", monitor.ID, "kind", kind, "error", err)
	}
}

func (a *Aggregator) evaluateSslAlert(ctx context.Context, monitor *domain.MonitorSpec, results map[domain.LocationCode]*domain.MonitorResultRecord) {
	for loc, r := range results {
		if r == nil || r.Details == nil {
			continue
		}
		warning, _ := r.Details["ssl_warning"].(bool)
		expired, _ := r.Details["ssl_expired"].(bool)
		if !warning && !expired {
			continue
		}
		key := sslAlertCachePrefix + monitor.ID + ":" + string(loc)
		if a.cache != nil {
			if exists, err := a.cache.Exists(ctx, key); err == nil && exists {
				continue
			}
		}
		a.sendAlert(ctx, monitor, domain.AlertSslExpiration, monitor.Status, loc, r.Details)
		if a.cache != nil {
			_ = a.cache.Set(ctx, key, []byte("1"), sslAlertTTL)
		}
	}
}

func (a *Aggregator) sendAlert(ctx context.Context, monitor *domain.MonitorSpec, kind domain.AlertKind, status domain.MonitorStatus, location domain.LocationCode, details map[string]any) {
	metrics.Global().RecordAlertSent(string(kind))

	record := &store.NotificationRecord{
		OrganizationID: monitor.OrganizationID,
		ProjectID:      monitor.ProjectID,
		Type:           string(kind),
		Severity:       alertSeverity(kind),
		Source:         "aggregator",
		MonitorID:      monitor.ID,
		Title:          alertMessage(monitor, kind, status),
		Message:        alertMessage(monitor, kind, status),
		Status:         store.NotificationStatusUnread,
		CreatedAt:      time.Now(),
	}
	if err := a.store.CreateNotification(ctx, record); err != nil {
		logging.Op().Warn("aggregator: create notification failed", "monitor_id", monitor.ID, "error", err)
	}

	if a.notifier == nil {
		return
	}
	n := domain.AlertNotification{
		MonitorID: monitor.ID,
		Location:  location,
		Kind:      kind,
		Status:    status,
		Message:   record.Message,
		Details:   details,
		SentAt:    time.Now(),
	}
	if err := a.notifier.Notify(ctx, n); err != nil {
		logging.Op().Warn("aggregator: alert delivery failed", "monitor_id", monitor.ID, "kind", kind, "error", err)
	}
}

func alertSeverity(kind domain.AlertKind) string {
	switch kind {
	case domain.AlertFailure:
		return "critical"
	case domain.AlertSslExpiration:
		return "warning"
	default:
		return "info"
	}
}

func alertMessage(monitor *domain.MonitorSpec, kind domain.AlertKind, status domain.MonitorStatus) string {
	switch kind {
	case domain.AlertFailure:
		return fmt.Sprintf("%s is down", monitor.Name)
	case domain.AlertRecovery:
		return fmt.Sprintf("%s has recovered", monitor.Name)
	case domain.AlertSslExpiration:
		return fmt.Sprintf("%s's TLS certificate is expiring soon", monitor.Name)
	default:
		return fmt.Sprintf("%s status is now %s", monitor.Name, status)
	}
}

func (a *Aggregator) loadStreak(ctx context.Context, monitorID string) alertStreak {
	if a.cache == nil {
		return alertStreak{}
	}
	raw, err := a.cache.Get(ctx, streakCachePrefix+monitorID)
	if err != nil {
		return alertStreak{}
	}
	var s alertStreak
	if json.Unmarshal(raw, &s) != nil {
		return alertStreak{}
	}
	return s
}

func (a *Aggregator) saveStreak(ctx context.Context, monitorID string, s alertStreak) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, streakCachePrefix+monitorID, raw, streakTTL); err != nil {
		logging.Op().Warn("aggregator: save alert streak failed", "monitor_id", monitorID, "error", err)
	}
}
