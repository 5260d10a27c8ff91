package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/mq"
	"github.com/oriys/beacon/internal/store"
)

type fakeQueue struct {
	published []fakePublish
}

type fakePublish struct {
	topic   string
	payload json.RawMessage
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, payload json.RawMessage, opts *mq.PublishOptions) (string, error) {
	f.published = append(f.published, fakePublish{topic: topic, payload: payload})
	return "msg-" + topic, nil
}
func (f *fakeQueue) Consume(ctx context.Context, topic string, opts *mq.ConsumeOptions) (*mq.Message, error) {
	return nil, mq.ErrNoMessage
}
func (f *fakeQueue) Ack(ctx context.Context, messageID string) error { return nil }
func (f *fakeQueue) Nack(ctx context.Context, messageID string, reason string, nextRetry time.Time) error {
	return nil
}
func (f *fakeQueue) DeadLetter(ctx context.Context, messageID string, reason string) error { return nil }
func (f *fakeQueue) Ping(ctx context.Context) error { return nil }
func (f *fakeQueue) Close() error { return nil }

var _ mq.MessageQueue = (*fakeQueue)(nil)

type fakeStore struct {
	monitors map[string]*domain.MonitorSpec
	runs     map[string]*domain.RunRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{monitors: map[string]*domain.MonitorSpec{}, runs: map[string]*domain.RunRecord{}}
}

func (s *fakeStore) Close() error { return nil }
func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) SaveMonitor(ctx context.Context, m *domain.MonitorSpec) error {
	s.monitors[m.ID] = m
	return nil
}
func (s *fakeStore) GetMonitor(ctx context.Context, id string) (*domain.MonitorSpec, error) {
	return s.monitors[id], nil
}
func (s *fakeStore) ListMonitorsDue(ctx context.Context, before time.Time) ([]*domain.MonitorSpec, error) {
	var out []*domain.MonitorSpec
	for _, m := range s.monitors {
		if m.NextRunAt == nil || !m.NextRunAt.After(before) {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *fakeStore) ListMonitorsByStatus(ctx context.Context, status domain.MonitorStatus) ([]*domain.MonitorSpec, error) {
	return nil, nil
}
func (s *fakeStore) ListMonitors(ctx context.Context, limit int) ([]*domain.MonitorSpec, error) {
	return nil, nil
}
func (s *fakeStore) UpdateMonitorRunBookkeeping(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	if m, ok := s.monitors[id]; ok {
		m.LastRunAt = &lastRunAt
		m.NextRunAt = &nextRunAt
	}
	return nil
}
func (s *fakeStore) UpdateMonitorStatus(ctx context.Context, id string, status domain.MonitorStatus, changedAt time.Time) error {
	if m, ok := s.monitors[id]; ok {
		m.Status = status
	}
	return nil
}
func (s *fakeStore) CreateRun(ctx context.Context, r *domain.RunRecord) error {
	s.runs[r.RunID] = r
	return nil
}
func (s *fakeStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return s.runs[runID], nil
}
func (s *fakeStore) UpdateRun(ctx context.Context, r *domain.RunRecord) error {
	return s.CreateRun(ctx, r)
}
func (s *fakeStore) ListRunsByJob(ctx context.Context, jobID string, limit int) ([]*domain.RunRecord, error) {
	return nil, nil
}
func (s *fakeStore) SaveResult(ctx context.Context, r *domain.MonitorResultRecord) error { return nil }
func (s *fakeStore) LatestResultByLocation(ctx context.Context, monitorID, executionGroupID string) (map[domain.LocationCode]*domain.MonitorResultRecord, error) {
	return nil, nil
}
func (s *fakeStore) LatestResult(ctx context.Context, monitorID string, location domain.LocationCode) (*domain.MonitorResultRecord, error) {
	return nil, nil
}
func (s *fakeStore) IncrementAlertsSent(ctx context.Context, monitorID string, kind domain.AlertKind) error {
	return nil
}
func (s *fakeStore) CreateNotification(ctx context.Context, n *store.NotificationRecord) error {
	return nil
}
func (s *fakeStore) ListNotifications(ctx context.Context, limit, offset int, status store.NotificationStatus) ([]*store.NotificationRecord, error) {
	return nil, nil
}
func (s *fakeStore) GetUnreadNotificationCount(ctx context.Context) (int64, error) { return 0, nil }
func (s *fakeStore) MarkNotificationRead(ctx context.Context, id string) (*store.NotificationRecord, error) {
	return nil, nil
}
func (s *fakeStore) MarkAllNotificationsRead(ctx context.Context) (int64, error) { return 0, nil }

var _ store.Store = (*fakeStore)(nil)

func TestFanOutMonitorEnqueuesOnePerLocation(t *testing.T) {
	q := &fakeQueue{}
	d := New(newFakeStore(), q)

	m := &domain.MonitorSpec{
		ID:   "mon-1",
		Kind: domain.MonitorHTTP,
		Location: domain.LocationConfig{
			Enabled:   true,
			Locations: []domain.LocationCode{domain.LocationUSEast, domain.LocationEUCentral},
		},
	}

	groupID, err := d.FanOutMonitor(context.Background(), m)
	if err != nil {
		t.Fatalf("FanOutMonitor: %v", err)
	}
	if len(q.published) != 2 {
		t.Fatalf("expected 2 published jobs, got %d", len(q.published))
	}
	for _, p := range q.published {
		var job MonitorJob
		if err := json.Unmarshal(p.payload, &job); err != nil {
			t.Fatalf("unmarshal job: %v", err)
		}
		if job.ExecutionGroupID != groupID {
			t.Errorf("expected execution group %s, got %s", groupID, job.ExecutionGroupID)
		}
		if len(job.ExpectedLocations) != 2 {
			t.Errorf("expected 2 expected locations, got %d", len(job.ExpectedLocations))
		}
	}
}

func TestFanOutMonitorDisabledLocationsUsesDefault(t *testing.T) {
	q := &fakeQueue{}
	d := New(newFakeStore(), q)

	m := &domain.MonitorSpec{ID: "mon-2", Kind: domain.MonitorPing}
	if _, err := d.FanOutMonitor(context.Background(), m); err != nil {
		t.Fatalf("FanOutMonitor: %v", err)
	}
	if len(q.published) != 1 {
		t.Fatalf("expected 1 published job for the default location, got %d", len(q.published))
	}
	if q.published[0].topic != MonitorQueue(domain.DefaultLocation) {
		t.Errorf("expected default location queue, got %s", q.published[0].topic)
	}
}

func TestDispatchJobRejectsK6WithoutPerformanceTest(t *testing.T) {
	q := &fakeQueue{}
	s := newFakeStore()
	d := New(s, q)

	trigger := domain.JobTrigger{
		JobID:   "job-1",
		RunID:   "run-1",
		JobType: domain.JobTypeK6,
		TestScripts: []domain.TestScript{
			{ID: "t1", Script: "x", Type: "functional"},
		},
	}

	err := d.DispatchJob(context.Background(), trigger)
	if err == nil || err.Error() != ErrK6RequiresPerformanceTest {
		t.Fatalf("expected ErrK6RequiresPerformanceTest, got %v", err)
	}
	run := s.runs["run-1"]
	if run == nil || run.Status != domain.RunFailed {
		t.Fatalf("expected run marked failed, got %+v", run)
	}
	if len(q.published) != 0 {
		t.Error("expected no job published for an invalid k6 trigger")
	}
}

func TestDispatchJobRoutesK6ToRegionalQueue(t *testing.T) {
	q := &fakeQueue{}
	d := New(newFakeStore(), q)

	trigger := domain.JobTrigger{
		JobID:    "job-2",
		RunID:    "run-2",
		JobType:  domain.JobTypeK6,
		Location: "us-east",
		TestScripts: []domain.TestScript{
			{ID: "t1", Script: "x", Type: "performance"},
		},
	}

	if err := d.DispatchJob(context.Background(), trigger); err != nil {
		t.Fatalf("DispatchJob: %v", err)
	}
	if len(q.published) != 1 {
		t.Fatalf("expected 1 published job, got %d", len(q.published))
	}
	if q.published[0].topic != K6Queue(domain.LocationUSEast) {
		t.Errorf("expected us-east k6 queue, got %s", q.published[0].topic)
	}
}

func TestDispatchJobRoutesPlaywrightToGlobalQueue(t *testing.T) {
	q := &fakeQueue{}
	d := New(newFakeStore(), q)

	trigger := domain.JobTrigger{
		JobID:   "job-3",
		RunID:   "run-3",
		JobType: domain.JobTypePlaywright,
		TestScripts: []domain.TestScript{
			{ID: "t1", Script: "x"},
		},
	}

	if err := d.DispatchJob(context.Background(), trigger); err != nil {
		t.Fatalf("DispatchJob: %v", err)
	}
	if len(q.published) != 1 || q.published[0].topic != QueuePlaywrightGlobal {
		t.Fatalf("expected playwright-global publish, got %+v", q.published)
	}
}
