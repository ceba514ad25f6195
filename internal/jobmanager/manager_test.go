package jobmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/activity"
	"github.com/fyn-tech/fyn-runner/internal/domain"
)

type fakeJobAPI struct {
	jobs          []domain.Job
	listErr       error
	patchedStatus map[string]domain.Status
	patchErr      error
}

func (f *fakeJobAPI) ListForRunner(ctx context.Context) ([]domain.Job, error) {
	return f.jobs, f.listErr
}

func (f *fakeJobAPI) PatchStatus(ctx context.Context, jobID string, status domain.Status) error {
	if f.patchedStatus == nil {
		f.patchedStatus = make(map[string]domain.Status)
	}
	f.patchedStatus[jobID] = status
	return f.patchErr
}

func newTestManager(t *testing.T, jobs []domain.Job) (*Manager, *fakeJobAPI) {
	t.Helper()
	api := &fakeJobAPI{jobs: jobs}
	m := New(context.Background(), api, nil, nil, activity.New(), nil, zap.NewNop(), Config{MaxConcurrentJobs: 1, MaxMainLoopCount: 1})
	return m, api
}

func TestNew_SplitsPendingAndTrackedJobs(t *testing.T) {
	jobs := []domain.Job{
		{ID: "pending-1", Status: domain.StatusQueued, Priority: 3},
		{ID: "active-1", Status: domain.StatusRunning, Priority: 1},
	}
	m, _ := newTestManager(t, jobs)

	if m.backlog.Len() != 1 {
		t.Fatalf("backlog.Len() = %d, want 1", m.backlog.Len())
	}
	if !m.tracker.IsActive("active-1") {
		t.Fatal("expected active-1 to be tracked as active")
	}
}

func TestRollback_ScenarioFive(t *testing.T) {
	job := domain.Job{ID: "J", Status: domain.StatusQueued, Priority: 7}
	m, api := newTestManager(t, nil)

	// Simulate the tracker having already observed the job — rollback must
	// remove it if present.
	added := job
	added.Status = domain.StatusPreparing
	if err := m.tracker.Add(&added); err != nil {
		t.Fatalf("tracker.Add: %v", err)
	}

	m.rollback(context.Background(), job, errors.New("worker construction failed"))

	if got := api.patchedStatus["J"]; got != domain.StatusQueued {
		t.Fatalf("server saw status %q, want QUEUED", got)
	}

	popped, ok := m.backlog.Pop()
	if !ok {
		t.Fatal("expected job reinserted into backlog")
	}
	if popped.ID != "J" || popped.Priority != 7 {
		t.Fatalf("popped job = %+v, want id J priority 7", popped)
	}

	if m.tracker.IsTracked("J") {
		t.Fatal("expected job removed from tracker after rollback")
	}
}

func TestRun_AtCapacityDoesNotLaunch(t *testing.T) {
	jobs := []domain.Job{
		{ID: "active-1", Status: domain.StatusRunning},
		{ID: "pending-1", Status: domain.StatusQueued},
	}
	api := &fakeJobAPI{jobs: jobs}
	m := New(context.Background(), api, nil, nil, activity.New(), nil, zap.NewNop(), Config{MaxConcurrentJobs: 1, MaxMainLoopCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	m.Run(ctx)

	if m.backlog.Len() != 1 {
		t.Fatalf("backlog.Len() = %d, want 1: pending job must not launch while at capacity", m.backlog.Len())
	}
}

func TestConfig_MaxCPUCapsConcurrency(t *testing.T) {
	cfg := Config{MaxConcurrentJobs: 8, MaxCPU: 2}
	if got := cfg.maxJobs(); got != 2 {
		t.Fatalf("maxJobs() = %d, want 2", got)
	}
	cfg.MaxCPU = 0
	if got := cfg.maxJobs(); got != 8 {
		t.Fatalf("maxJobs() = %d, want 8", got)
	}
}

func TestValidateForLaunch_RejectsEmptyID(t *testing.T) {
	if err := validateForLaunch(domain.Job{ID: ""}); err == nil {
		t.Fatal("expected error for empty job id")
	}
}

func TestTerminate_CancelsActiveWorker(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, cancel := context.WithCancel(context.Background())
	cancelled := false
	m.workers["job-1"] = &worker{jobID: "job-1", done: make(chan struct{}), cancel: func() {
		cancelled = true
		cancel()
	}}

	if !m.Terminate("job-1") {
		t.Fatal("expected Terminate to find the active worker")
	}
	if !cancelled {
		t.Fatal("expected Terminate to invoke the worker's cancel func")
	}
}

func TestTerminate_UnknownJobReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if m.Terminate("no-such-job") {
		t.Fatal("expected Terminate to report false for an untracked job")
	}
}

func TestHandleNewJob_PushesPendingJob(t *testing.T) {
	m, _ := newTestManager(t, nil)

	m.HandleNewJob(domain.Job{ID: "new-job", Status: domain.StatusQueued, Priority: 2})

	job, ok := m.backlog.Pop()
	if !ok || job.ID != "new-job" {
		t.Fatalf("expected new-job pushed onto backlog, got ok=%v job=%+v", ok, job)
	}
}

func TestHandleNewJob_IgnoresNonPendingJob(t *testing.T) {
	m, _ := newTestManager(t, nil)

	m.HandleNewJob(domain.Job{ID: "already-running", Status: domain.StatusRunning})

	if m.backlog.Len() != 0 {
		t.Fatalf("expected non-pending job not pushed, backlog.Len() = %d", m.backlog.Len())
	}
}

func TestReapWorkers_RemovesFinished(t *testing.T) {
	m, _ := newTestManager(t, nil)

	done := make(chan struct{})
	close(done)
	m.workers["done-job"] = &worker{jobID: "done-job", done: done}
	m.workers["running-job"] = &worker{jobID: "running-job", done: make(chan struct{})}

	m.reapWorkers()

	if _, ok := m.workers["done-job"]; ok {
		t.Fatal("expected finished worker to be reaped")
	}
	if _, ok := m.workers["running-job"]; !ok {
		t.Fatal("expected running worker to remain")
	}
}
