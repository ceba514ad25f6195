package activity

import (
	"testing"

	"github.com/fyn-tech/fyn-runner/internal/domain"
)

func TestTracker_AddRejectsPending(t *testing.T) {
	tr := New()
	job := &domain.Job{ID: "j1", Status: domain.StatusQueued}
	if err := tr.Add(job); err == nil {
		t.Fatal("expected error adding a pending-phase job")
	}
}

func TestTracker_PhaseTransition(t *testing.T) {
	tr := New()
	job := &domain.Job{ID: "J", Status: domain.StatusPreparing}
	if err := tr.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !tr.IsActive("J") || tr.IsComplete("J") {
		t.Fatal("expected job to be active only")
	}

	if err := tr.UpdateStatus("J", domain.StatusSucceeded); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if tr.IsActive("J") {
		t.Fatal("expected job no longer active")
	}
	if !tr.IsComplete("J") {
		t.Fatal("expected job to be complete")
	}
}

func TestTracker_UpdateStatusUnknownID(t *testing.T) {
	tr := New()
	if err := tr.UpdateStatus("missing", domain.StatusSucceeded); err == nil {
		t.Fatal("expected error updating unknown job")
	}
}

func TestTracker_UpdateStatusSameStatusIsNoop(t *testing.T) {
	tr := New()
	job := &domain.Job{ID: "J", Status: domain.StatusRunning}
	if err := tr.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tr.UpdateStatus("J", domain.StatusRunning); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !tr.IsActive("J") || tr.IsComplete("J") {
		t.Fatal("expected job to remain active-only after same-status update")
	}
}

func TestTracker_Remove(t *testing.T) {
	tr := New()
	job := &domain.Job{ID: "J", Status: domain.StatusRunning}
	if err := tr.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !tr.Remove("J") {
		t.Fatal("expected Remove to report true")
	}
	if tr.IsTracked("J") {
		t.Fatal("expected job to no longer be tracked")
	}
	if tr.Remove("J") {
		t.Fatal("expected second Remove to report false")
	}
}

func TestTracker_Counts(t *testing.T) {
	tr := New()
	tr.Add(&domain.Job{ID: "a", Status: domain.StatusRunning})
	tr.Add(&domain.Job{ID: "b", Status: domain.StatusSucceeded})

	active, completed := tr.Counts()
	if active != 1 || completed != 1 {
		t.Fatalf("got active=%d completed=%d, want 1,1", active, completed)
	}
}
