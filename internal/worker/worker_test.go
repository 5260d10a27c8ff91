package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oriys/beacon/internal/dispatcher"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/mq"
	"github.com/oriys/beacon/internal/store"
)

// fakeStore implements store.Store by embedding a nil interface and
// overriding only the methods this package's handlers call; any other
// method call would panic, which is fine since these tests never reach
// them.
type fakeStore struct {
	store.Store
	monitor       *domain.MonitorSpec
	run           *domain.RunRecord
	savedResult   *domain.MonitorResultRecord
	getMonitorErr error
}

func (f *fakeStore) GetMonitor(ctx context.Context, id string) (*domain.MonitorSpec, error) {
	if f.getMonitorErr != nil {
		return nil, f.getMonitorErr
	}
	return f.monitor, nil
}

func (f *fakeStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return f.run, nil
}

func (f *fakeStore) UpdateRun(ctx context.Context, r *domain.RunRecord) error {
	f.run = r
	return nil
}

func (f *fakeStore) SaveResult(ctx context.Context, r *domain.MonitorResultRecord) error {
	f.savedResult = r
	return nil
}

// blockingGate always denies with a fixed reason, exercising the
// pre-flight billing gate path.
type blockingGate struct{ reason string }

func (b blockingGate) Allow(ctx context.Context, organizationID string) (bool, string, error) {
	return false, b.reason, nil
}

func TestProcessMonitorMessageBlockedByBilling(t *testing.T) {
	fs := &fakeStore{monitor: &domain.MonitorSpec{ID: "m1", OrganizationID: "org1"}}
	w := New(Config{Location: domain.LocationUSEast, EnableLocationFiltering: true}, nil, fs, nil, blockingGate{reason: "plan limit exceeded"}, nil, nil, nil, nil, nil)

	job := dispatcher.MonitorJob{
		MonitorID:         "m1",
		Type:              domain.MonitorPort,
		Target:            "127.0.0.1",
		ExecutionLocation: domain.LocationUSEast,
		ExecutionGroupID:  "m1-1-aaaa",
		ExpectedLocations: []domain.LocationCode{domain.LocationUSEast},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}

	if err := w.processMonitorMessage(context.Background(), &mq.Message{ID: "msg-1", Payload: payload}); err != nil {
		t.Fatalf("processMonitorMessage returned error: %v", err)
	}
	if fs.savedResult != nil {
		t.Fatalf("expected no result to be saved when billing gate blocks the run, got %+v", fs.savedResult)
	}
}

func TestProcessMonitorMessageRunsPortProbe(t *testing.T) {
	fs := &fakeStore{monitor: &domain.MonitorSpec{ID: "m1", OrganizationID: "org1"}}
	w := New(Config{Location: domain.LocationUSEast}, nil, fs, nil, nil, nil, nil, nil, nil, nil)

	cfg, _ := json.Marshal(domain.PortMonitorConfig{Port: 1, Protocol: "tcp", ExpectClosed: true})
	job := dispatcher.MonitorJob{
		MonitorID:         "m1",
		Type:              domain.MonitorPort,
		Target:            "127.0.0.1",
		Config:            cfg,
		ExecutionLocation: domain.LocationUSEast,
		ExecutionGroupID:  "m1-1-aaaa",
		ExpectedLocations: []domain.LocationCode{domain.LocationUSEast},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}

	if err := w.processMonitorMessage(context.Background(), &mq.Message{ID: "msg-1", Payload: payload}); err != nil {
		t.Fatalf("processMonitorMessage returned error: %v", err)
	}
	if fs.savedResult == nil {
		t.Fatal("expected a result to be saved")
	}
	if !fs.savedResult.IsUp {
		t.Errorf("expected expectClosed probe against a closed port to report up, got down: %+v", fs.savedResult)
	}
}

func TestCheckLocationMismatchDoesNotPanic(t *testing.T) {
	w := New(Config{Location: domain.LocationUSEast, EnableLocationFiltering: true}, nil, nil, nil, nil, nil, nil, nil, nil, nil)
	w.checkLocationMismatch("eu-central") // disagreement: must log, never drop
	w.checkLocationMismatch("*")
	w.checkLocationMismatch("")
}
