package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oriys/beacon/internal/barrier"
	"github.com/oriys/beacon/internal/cache"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/store"
)

type fakeNotifier struct {
	notifications []domain.AlertNotification
}

func (f *fakeNotifier) Notify(ctx context.Context, n domain.AlertNotification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

type fakeAggStore struct {
	monitors      map[string]*domain.MonitorSpec
	latest        map[string]*domain.MonitorResultRecord // monitorID:location
	byGroup       map[string]map[domain.LocationCode]*domain.MonitorResultRecord
	saved         []*domain.MonitorResultRecord
	notifications []*store.NotificationRecord
}

func newFakeAggStore() *fakeAggStore {
	return &fakeAggStore{
		monitors: map[string]*domain.MonitorSpec{},
		latest:   map[string]*domain.MonitorResultRecord{},
		byGroup:  map[string]map[domain.LocationCode]*domain.MonitorResultRecord{},
	}
}

func (s *fakeAggStore) Close() error { return nil }
func (s *fakeAggStore) Ping(ctx context.Context) error { return nil }

func (s *fakeAggStore) SaveMonitor(ctx context.Context, m *domain.MonitorSpec) error {
	s.monitors[m.ID] = m
	return nil
}
func (s *fakeAggStore) GetMonitor(ctx context.Context, id string) (*domain.MonitorSpec, error) {
	return s.monitors[id], nil
}
func (s *fakeAggStore) ListMonitorsDue(ctx context.Context, before time.Time) ([]*domain.MonitorSpec, error) {
	return nil, nil
}
func (s *fakeAggStore) ListMonitorsByStatus(ctx context.Context, status domain.MonitorStatus) ([]*domain.MonitorSpec, error) {
	return nil, nil
}
func (s *fakeAggStore) ListMonitors(ctx context.Context, limit int) ([]*domain.MonitorSpec, error) {
	return nil, nil
}
func (s *fakeAggStore) UpdateMonitorRunBookkeeping(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	return nil
}
func (s *fakeAggStore) UpdateMonitorStatus(ctx context.Context, id string, status domain.MonitorStatus, changedAt time.Time) error {
	if m, ok := s.monitors[id]; ok {
		m.Status = status
	}
	return nil
}
func (s *fakeAggStore) CreateRun(ctx context.Context, r *domain.RunRecord) error { return nil }
func (s *fakeAggStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return nil, nil
}
func (s *fakeAggStore) UpdateRun(ctx context.Context, r *domain.RunRecord) error { return nil }
func (s *fakeAggStore) ListRunsByJob(ctx context.Context, jobID string, limit int) ([]*domain.RunRecord, error) {
	return nil, nil
}
func (s *fakeAggStore) SaveResult(ctx context.Context, r *domain.MonitorResultRecord) error {
	s.saved = append(s.saved, r)
	s.latest[r.MonitorID+":"+string(r.Location)] = r
	if s.byGroup[r.ExecutionGroupID] == nil {
		s.byGroup[r.ExecutionGroupID] = map[domain.LocationCode]*domain.MonitorResultRecord{}
	}
	s.byGroup[r.ExecutionGroupID][r.Location] = r
	return nil
}
func (s *fakeAggStore) LatestResultByLocation(ctx context.Context, monitorID, executionGroupID string) (map[domain.LocationCode]*domain.MonitorResultRecord, error) {
	return s.byGroup[executionGroupID], nil
}
func (s *fakeAggStore) LatestResult(ctx context.Context, monitorID string, location domain.LocationCode) (*domain.MonitorResultRecord, error) {
	return s.latest[monitorID+":"+string(location)], nil
}
func (s *fakeAggStore) IncrementAlertsSent(ctx context.Context, monitorID string, kind domain.AlertKind) error {
	var newest *domain.MonitorResultRecord
	for _, r := range s.saved {
		if r.MonitorID == monitorID {
			newest = r
		}
	}
	if newest == nil {
		return nil
	}
	if kind == domain.AlertRecovery {
		newest.AlertsSentForRecovery++
	} else {
		newest.AlertsSentForFailure++
	}
	return nil
}
func (s *fakeAggStore) CreateNotification(ctx context.Context, n *store.NotificationRecord) error {
	s.notifications = append(s.notifications, n)
	return nil
}
func (s *fakeAggStore) ListNotifications(ctx context.Context, limit, offset int, status store.NotificationStatus) ([]*store.NotificationRecord, error) {
	return nil, nil
}
func (s *fakeAggStore) GetUnreadNotificationCount(ctx context.Context) (int64, error) { return 0, nil }
func (s *fakeAggStore) MarkNotificationRead(ctx context.Context, id string) (*store.NotificationRecord, error) {
	return nil, nil
}
func (s *fakeAggStore) MarkAllNotificationsRead(ctx context.Context) (int64, error) { return 0, nil }

var _ store.Store = (*fakeAggStore)(nil)

func newTestBarrier(t *testing.T) *barrier.Barrier {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return barrier.New(client)
}

func newAggregatorForTest(t *testing.T, s store.Store, notifier domain.AlertNotifier) *Aggregator {
	a := New(s, newTestBarrier(t), notifier, cache.NewInMemoryCache())
	a.sleep = func(time.Duration) {} // skip the settle delay in tests
	return a
}

func TestSaveDistributedResultWaitsForAllLocations(t *testing.T) {
	s := newFakeAggStore()
	s.monitors["mon-1"] = &domain.MonitorSpec{
		ID:     "mon-1",
		Name:   "checkout",
		Status: domain.MonitorPending,
		Location: domain.LocationConfig{
			Enabled:   true,
			Locations: []domain.LocationCode{domain.LocationUSEast, domain.LocationEUCentral},
			Strategy:  domain.StrategyAll,
		},
	}
	a := newAggregatorForTest(t, s, nil)
	ctx := context.Background()
	group := "mon-1-1000-abc"
	expected := []domain.LocationCode{domain.LocationUSEast, domain.LocationEUCentral}

	if err := a.SaveDistributedResult(ctx, &domain.MonitorResultRecord{
		MonitorID: "mon-1", Location: domain.LocationUSEast, IsUp: true,
	}, group, expected); err != nil {
		t.Fatalf("SaveDistributedResult (1st): %v", err)
	}
	if s.monitors["mon-1"].Status != domain.MonitorPending {
		t.Fatalf("expected status unchanged before the barrier completes, got %s", s.monitors["mon-1"].Status)
	}

	if err := a.SaveDistributedResult(ctx, &domain.MonitorResultRecord{
		MonitorID: "mon-1", Location: domain.LocationEUCentral, IsUp: true,
	}, group, expected); err != nil {
		t.Fatalf("SaveDistributedResult (2nd): %v", err)
	}
	if s.monitors["mon-1"].Status != domain.MonitorUp {
		t.Fatalf("expected status up after the barrier completes, got %s", s.monitors["mon-1"].Status)
	}
}

func TestEvaluateAggregateAllStrategyPartialDownCollapses(t *testing.T) {
	lc := domain.LocationConfig{Enabled: true, Strategy: domain.StrategyAll}
	results := map[domain.LocationCode]*domain.MonitorResultRecord{
		domain.LocationUSEast:    {IsUp: true},
		domain.LocationEUCentral: {IsUp: false},
	}
	if evaluateAggregate(lc, results) {
		t.Error("expected all-strategy to report down when any location is down")
	}
}

func TestEvaluateAggregateMajorityStrategy(t *testing.T) {
	lc := domain.LocationConfig{Enabled: true, Strategy: domain.StrategyMajority, Threshold: 50}
	results := map[domain.LocationCode]*domain.MonitorResultRecord{
		domain.LocationUSEast:      {IsUp: true},
		domain.LocationEUCentral:   {IsUp: true},
		domain.LocationAsiaPacific: {IsUp: false},
	}
	if !evaluateAggregate(lc, results) {
		t.Error("expected majority-strategy to report up with 2/3 locations up")
	}
}

func TestAlertGateFiresAtFailureThreshold(t *testing.T) {
	s := newFakeAggStore()
	s.monitors["mon-2"] = &domain.MonitorSpec{
		ID:     "mon-2",
		Name:   "api",
		Status: domain.MonitorUp,
		Location: domain.LocationConfig{
			Enabled: true, Locations: []domain.LocationCode{domain.LocationUSEast}, Strategy: domain.StrategyAll,
		},
		Alert: domain.AlertConfig{Enabled: true, AlertOnFailure: true, FailureThreshold: 2},
	}
	notifier := &fakeNotifier{}
	a := newAggregatorForTest(t, s, notifier)
	ctx := context.Background()
	expected := []domain.LocationCode{domain.LocationUSEast}

	// First failing tick: below threshold, no alert yet.
	if err := a.SaveDistributedResult(ctx, &domain.MonitorResultRecord{
		MonitorID: "mon-2", Location: domain.LocationUSEast, IsUp: false,
	}, "mon-2-group-1", expected); err != nil {
		t.Fatalf("SaveDistributedResult: %v", err)
	}
	if len(notifier.notifications) != 0 {
		t.Fatalf("expected no alert before the failure threshold, got %d", len(notifier.notifications))
	}

	// Second failing tick reaches the threshold.
	if err := a.SaveDistributedResult(ctx, &domain.MonitorResultRecord{
		MonitorID: "mon-2", Location: domain.LocationUSEast, IsUp: false,
	}, "mon-2-group-2", expected); err != nil {
		t.Fatalf("SaveDistributedResult: %v", err)
	}
	if len(notifier.notifications) != 1 {
		t.Fatalf("expected exactly 1 alert at the failure threshold, got %d", len(notifier.notifications))
	}
	if notifier.notifications[0].Kind != domain.AlertFailure {
		t.Errorf("expected a failure alert, got %s", notifier.notifications[0].Kind)
	}
	last := s.saved[len(s.saved)-1]
	if last.AlertsSentForFailure != 1 {
		t.Errorf("expected the latest result row to record 1 failure alert, got %d", last.AlertsSentForFailure)
	}
}

func TestAlertGateSuppressesFromPendingStatus(t *testing.T) {
	s := newFakeAggStore()
	s.monitors["mon-3"] = &domain.MonitorSpec{
		ID:     "mon-3",
		Name:   "new-monitor",
		Status: domain.MonitorPending,
		Location: domain.LocationConfig{
			Enabled: true, Locations: []domain.LocationCode{domain.LocationUSEast}, Strategy: domain.StrategyAll,
		},
		Alert: domain.AlertConfig{Enabled: true, AlertOnFailure: true, FailureThreshold: 1},
	}
	notifier := &fakeNotifier{}
	a := newAggregatorForTest(t, s, notifier)

	if err := a.SaveDistributedResult(context.Background(), &domain.MonitorResultRecord{
		MonitorID: "mon-3", Location: domain.LocationUSEast, IsUp: false,
	}, "mon-3-group", []domain.LocationCode{domain.LocationUSEast}); err != nil {
		t.Fatalf("SaveDistributedResult: %v", err)
	}
	if len(notifier.notifications) != 0 {
		t.Fatalf("expected no alert on the first transition out of pending, got %d", len(notifier.notifications))
	}
}

func TestSslAlertFiresOnceWithin24Hours(t *testing.T) {
	s := newFakeAggStore()
	s.monitors["mon-4"] = &domain.MonitorSpec{
		ID:     "mon-4",
		Name:   "cert-check",
		Status: domain.MonitorUp,
		Location: domain.LocationConfig{
			Enabled: true, Locations: []domain.LocationCode{domain.LocationUSEast}, Strategy: domain.StrategyAll,
		},
		Alert: domain.AlertConfig{AlertOnSslExpiration: true},
	}
	notifier := &fakeNotifier{}
	a := newAggregatorForTest(t, s, notifier)
	ctx := context.Background()
	expected := []domain.LocationCode{domain.LocationUSEast}

	result := &domain.MonitorResultRecord{
		MonitorID: "mon-4", Location: domain.LocationUSEast, IsUp: true,
		Details: map[string]any{"ssl_warning": true},
	}
	if err := a.SaveDistributedResult(ctx, result, "mon-4-group-1", expected); err != nil {
		t.Fatalf("SaveDistributedResult (1st): %v", err)
	}
	if len(notifier.notifications) != 1 {
		t.Fatalf("expected exactly 1 ssl alert, got %d", len(notifier.notifications))
	}

	result2 := &domain.MonitorResultRecord{
		MonitorID: "mon-4", Location: domain.LocationUSEast, IsUp: true,
		Details: map[string]any{"ssl_warning": true},
	}
	if err := a.SaveDistributedResult(ctx, result2, "mon-4-group-2", expected); err != nil {
		t.Fatalf("SaveDistributedResult (2nd): %v", err)
	}
	if len(notifier.notifications) != 1 {
		t.Fatalf("expected the repeat ssl warning within 24h to be suppressed, got %d alerts", len(notifier.notifications))
	}
}
