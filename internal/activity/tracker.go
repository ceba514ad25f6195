// Package activity implements the activity tracker: a thread-safe index of
// jobs in the ACTIVE or COMPLETE phase, keyed by job id. PENDING jobs never
// enter the tracker — they live in the job manager's backlog queue instead.
//
// It is shared by the job manager and every job executor, so every method
// takes the single lock for its whole duration. No method calls another
// tracker method while holding the lock.
package activity

import (
	"fmt"
	"sync"

	"github.com/fyn-tech/fyn-runner/internal/domain"
)

// Tracker holds two disjoint maps of job id -> *domain.Job: one for jobs in
// the ACTIVE phase, one for COMPLETE. An id never appears in both.
type Tracker struct {
	mu        sync.Mutex
	active    map[string]*domain.Job
	completed map[string]*domain.Job
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		active:    make(map[string]*domain.Job),
		completed: make(map[string]*domain.Job),
	}
}

// Add places job into the map dictated by its current status's phase.
// Adding a PENDING-phase job is rejected — pending work belongs in the
// backlog queue, not the tracker.
func (t *Tracker) Add(job *domain.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch domain.PhaseOf(job.Status) {
	case domain.PhasePending:
		return fmt.Errorf("activity: cannot add pending job %s - use the backlog queue instead", job.ID)
	case domain.PhaseActive:
		t.active[job.ID] = job
	case domain.PhaseComplete:
		t.completed[job.ID] = job
	}
	return nil
}

// UpdateStatus updates job's status in place and relocates it between the
// active and completed maps if the phase changed. Unknown ids, and the
// corrupt state where an id is in both maps, are reported as errors.
func (t *Tracker) UpdateStatus(id string, newStatus domain.Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, isActive := t.active[id]
	_, isComplete := t.completed[id]

	if isActive && isComplete {
		return fmt.Errorf("activity: job %s is tracked as both active and complete - data corruption", id)
	}
	if !isActive && !isComplete {
		return fmt.Errorf("activity: unknown job %s - cannot update status", id)
	}

	newPhase := domain.PhaseOf(newStatus)

	switch {
	case isActive && newPhase == domain.PhaseComplete:
		job := t.active[id]
		delete(t.active, id)
		job.Status = newStatus
		t.completed[id] = job
	case isComplete && newPhase == domain.PhaseActive:
		job := t.completed[id]
		delete(t.completed, id)
		job.Status = newStatus
		t.active[id] = job
	case isActive:
		t.active[id].Status = newStatus
	case isComplete:
		t.completed[id].Status = newStatus
	}
	return nil
}

// Remove deletes id from whichever map holds it. Returns whether anything
// was removed.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := false
	if _, ok := t.active[id]; ok {
		delete(t.active, id)
		removed = true
	}
	if _, ok := t.completed[id]; ok {
		delete(t.completed, id)
		removed = true
	}
	return removed
}

// IsActive reports whether id is currently tracked as active.
func (t *Tracker) IsActive(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

// IsComplete reports whether id is currently tracked as complete.
func (t *Tracker) IsComplete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.completed[id]
	return ok
}

// IsTracked reports whether id is tracked at all (active or complete).
func (t *Tracker) IsTracked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, active := t.active[id]
	_, complete := t.completed[id]
	return active || complete
}

// ActiveJobs returns a snapshot of all currently active jobs.
func (t *Tracker) ActiveJobs() []*domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*domain.Job, 0, len(t.active))
	for _, j := range t.active {
		out = append(out, j)
	}
	return out
}

// CompletedJobs returns a snapshot of all currently completed jobs.
func (t *Tracker) CompletedJobs() []*domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*domain.Job, 0, len(t.completed))
	for _, j := range t.completed {
		out = append(out, j)
	}
	return out
}

// Counts returns the number of active and completed jobs currently tracked.
func (t *Tracker) Counts() (active, completed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active), len(t.completed)
}
