// Package jobmanager implements the job manager: a bounded-concurrency
// scheduler that pulls pending work off a priority backlog, launches each
// job on its own worker goroutine, and reaps completions on its tick loop.
package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/activity"
	"github.com/fyn-tech/fyn-runner/internal/config"
	"github.com/fyn-tech/fyn-runner/internal/domain"
	"github.com/fyn-tech/fyn-runner/internal/executor"
	"github.com/fyn-tech/fyn-runner/internal/process"
	"github.com/fyn-tech/fyn-runner/internal/queue"
)

// popTimeout bounds how long the tick loop waits for a pending job before
// re-checking capacity and the loop-exit condition.
const popTimeout = 30 * time.Second

// capacityBackoff is how long the tick loop sleeps when at capacity.
const capacityBackoff = 5 * time.Second

// JobAPI is the narrow slice of the server proxy's job-manager sub-client
// the manager needs at startup and on rollback.
type JobAPI interface {
	ListForRunner(ctx context.Context) ([]domain.Job, error)
	PatchStatus(ctx context.Context, jobID string, status domain.Status) error
}

// Config bounds the manager's scheduling behavior.
type Config struct {
	MaxConcurrentJobs int
	MaxMainLoopCount  int // 0 means unbounded
	// MaxCPU, when non-zero, further caps concurrency: one job per CPU.
	MaxCPU int
}

// maxJobs is the effective concurrency bound.
func (c Config) maxJobs() int {
	if c.MaxCPU > 0 && c.MaxCPU < c.MaxConcurrentJobs {
		return c.MaxCPU
	}
	return c.MaxConcurrentJobs
}

// worker is the job manager's record of one in-flight job.
type worker struct {
	jobID  string
	done   chan struct{}
	cancel context.CancelFunc
}

// Manager is the Job Manager.
type Manager struct {
	jobAPI  JobAPI
	server  executor.ServerAPI
	files   config.FileManagerService
	tracker *activity.Tracker
	proc    *process.Runner
	logger  *zap.Logger
	cfg     Config

	backlog *queue.Queue[domain.Job]

	// workersMu guards workers. The tick goroutine is the main owner, but
	// Terminate lets the receiver goroutine cancel a job's context on a
	// server-initiated "terminate" frame, so the table cannot be left
	// single-writer.
	workersMu sync.Mutex
	workers   map[string]*worker
}

func jobLess(a, b domain.Job) bool { return a.Priority < b.Priority }

// New constructs a Manager and immediately fetches the full job list,
// distributing PENDING jobs into the backlog and all others into the
// activity tracker.
func New(ctx context.Context, jobAPI JobAPI, server executor.ServerAPI, files config.FileManagerService, tracker *activity.Tracker, proc *process.Runner, logger *zap.Logger, cfg Config) *Manager {
	m := &Manager{
		jobAPI:  jobAPI,
		server:  server,
		files:   files,
		tracker: tracker,
		proc:    proc,
		logger:  logger.Named("jobmanager"),
		cfg:     cfg,
		backlog: queue.New(jobLess),
		workers: make(map[string]*worker),
	}
	m.fetchJobs(ctx)
	return m
}

func (m *Manager) fetchJobs(ctx context.Context) {
	m.logger.Info("fetching jobs")

	jobs, err := m.jobAPI.ListForRunner(ctx)
	if err != nil {
		m.logger.Error("failed to fetch jobs", zap.Error(err))
		return
	}

	queued, tracked := 0, 0
	for _, job := range jobs {
		job := job // local copy: tracker stores this address, must not alias the loop variable
		if domain.PhaseOf(job.Status) == domain.PhasePending {
			m.backlog.Push(job)
			queued++
			continue
		}
		if err := m.tracker.Add(&job); err != nil {
			m.logger.Error("failed to add fetched job to tracker", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		tracked++
	}
	m.logger.Info("loaded jobs", zap.Int("queued", queued), zap.Int("tracked", tracked))
}

// Run executes the main tick loop until ctx is cancelled or the configured
// max iteration count is reached.
func (m *Manager) Run(ctx context.Context) {
	loopCount := 0
	for {
		if ctx.Err() != nil {
			m.logger.Info("job manager stopping, context cancelled")
			return
		}

		m.logger.Debug("new tick")
		m.reapWorkers()

		active, _ := m.tracker.Counts()
		if active < m.cfg.maxJobs() {
			job, ok := m.popWithTimeout(ctx, popTimeout)
			if ok {
				m.launch(ctx, job)
			} else {
				m.logger.Debug("no pending jobs, waiting")
			}
		} else {
			m.logger.Debug("at capacity", zap.Int("active", active))
			sleep(ctx, capacityBackoff)
		}

		loopCount++
		if m.cfg.MaxMainLoopCount > 0 && loopCount >= m.cfg.MaxMainLoopCount {
			m.logger.Info("reached max main loop count, exiting", zap.Int("count", loopCount))
			return
		}
	}
}

// popWithTimeout waits up to timeout for a backlog item, re-checking
// whenever Notify fires.
func (m *Manager) popWithTimeout(ctx context.Context, timeout time.Duration) (domain.Job, bool) {
	deadline := time.After(timeout)
	for {
		if job, ok := m.backlog.Pop(); ok {
			return job, true
		}
		select {
		case <-ctx.Done():
			return domain.Job{}, false
		case <-m.backlog.Notify:
			continue
		case <-deadline:
			return domain.Job{}, false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// reapWorkers removes and logs any worker whose done channel has closed.
func (m *Manager) reapWorkers() {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()

	var finished []string
	for jobID, w := range m.workers {
		select {
		case <-w.done:
			finished = append(finished, jobID)
		default:
		}
	}
	for _, jobID := range finished {
		delete(m.workers, jobID)
	}
	if len(finished) > 0 {
		m.logger.Info("reaped finished workers", zap.Int("count", len(finished)))
	}
}

// launch constructs a job executor and spawns its worker goroutine,
// recording it in the worker table. On failure it rolls back strictly —
// the server must not believe a job is running when it is not: patch the
// server back to QUEUED, reinsert into the local backlog at the original
// priority, and remove from the tracker if it was added.
func (m *Manager) launch(ctx context.Context, job domain.Job) {
	m.logger.Info("launching new job", zap.String("job_id", job.ID))

	if err := validateForLaunch(job); err != nil {
		m.rollback(ctx, job, err)
		return
	}

	exec := executor.New(job, m.server, m.files, m.tracker, m.proc, m.logger)
	done := make(chan struct{})
	jobCtx, cancel := context.WithCancel(ctx)

	m.workersMu.Lock()
	m.workers[job.ID] = &worker{jobID: job.ID, done: done, cancel: cancel}
	m.workersMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		exec.Launch(jobCtx)
	}()
}

// Terminate cancels the running job's context, if it is currently launched,
// causing the executor's subprocess wait to abort and the job to land in
// FAILED_TERMINATED. Returns false if jobID has no active worker.
func (m *Manager) Terminate(jobID string) bool {
	m.workersMu.Lock()
	w, ok := m.workers[jobID]
	m.workersMu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	return true
}

// HandleNewJob pushes a server-announced job onto the backlog if it is
// still PENDING; jobs in any other phase are assumed already tracked by a
// prior PatchStatus round-trip and are ignored here.
func (m *Manager) HandleNewJob(job domain.Job) {
	if domain.PhaseOf(job.Status) != domain.PhasePending {
		m.logger.Warn("ignoring new-job-available for non-pending job", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return
	}
	m.backlog.Push(job)
	m.logger.Info("new job queued from server notification", zap.String("job_id", job.ID))
}

// validateForLaunch rejects an unlaunchable job before its worker is ever
// spawned, so a bad job never reaches the worker table.
func validateForLaunch(job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("jobmanager: job has empty id")
	}
	return nil
}

func (m *Manager) rollback(ctx context.Context, job domain.Job, cause error) {
	m.logger.Error("failed to launch new job", zap.String("job_id", job.ID), zap.Error(cause))

	m.workersMu.Lock()
	delete(m.workers, job.ID)
	m.workersMu.Unlock()

	job.Status = domain.StatusQueued
	if err := m.jobAPI.PatchStatus(ctx, job.ID, domain.StatusQueued); err != nil {
		m.logger.Error("job manager failed to reset job status after rollback", zap.String("job_id", job.ID), zap.Error(err))
	}

	m.backlog.Push(job)

	if m.tracker.IsTracked(job.ID) {
		m.tracker.Remove(job.ID)
	}
}
