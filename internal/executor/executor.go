// Package executor drives one job through its lifecycle state machine:
// prepare, fetch resources, run, clean up, each reported to the server and
// to the shared activity tracker through a single status-change helper that
// never lets a reporting failure escape.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/activity"
	"github.com/fyn-tech/fyn-runner/internal/config"
	"github.com/fyn-tech/fyn-runner/internal/domain"
	"github.com/fyn-tech/fyn-runner/internal/process"
)

// ErrInvalidJobID is returned when a job id contains a path separator,
// checked before any directory I/O.
var ErrInvalidJobID = errors.New("executor: job id must not contain a path separator")

// ErrNotImplemented is returned for application types the runner does not
// yet know how to write to disk.
var ErrNotImplemented = errors.New("executor: application type not implemented")

// ServerAPI is the narrow slice of the Server Proxy's typed sub-clients the
// executor needs.
type ServerAPI interface {
	PatchStatus(ctx context.Context, jobID string, status domain.Status) error
	PatchWorkingDirectory(ctx context.Context, jobID, dir string) error
	PatchExitCode(ctx context.Context, jobID string, exitCode int) error

	GetApplication(ctx context.Context, appID string) (domain.Application, error)
	GetApplicationProgram(ctx context.Context, appID string) ([]byte, error)

	GetResource(ctx context.Context, resourceID string) (domain.Resource, error)
	DownloadResource(ctx context.Context, resourceID string) ([]byte, error)
	CreateResource(ctx context.Context, jobID string, resType domain.ResourceType, filePath string) (domain.Resource, error)
}

// Executor drives a single job through its lifecycle state machine.
type Executor struct {
	job     domain.Job
	server  ServerAPI
	files   config.FileManagerService
	tracker *activity.Tracker
	proc    *process.Runner
	logger  *zap.Logger
}

// New constructs an Executor for one job. All collaborators are injected
// by the job manager at launch.
func New(job domain.Job, server ServerAPI, files config.FileManagerService, tracker *activity.Tracker, proc *process.Runner, logger *zap.Logger) *Executor {
	return &Executor{
		job:     job,
		server:  server,
		files:   files,
		tracker: tracker,
		proc:    proc,
		logger:  logger.Named("executor").With(zap.String("job_id", job.ID)),
	}
}

// Launch runs the job to completion. It never returns an error: every
// failure is caught, logged, and recorded as a terminal FAILED_* status —
// the caller (a Job Manager worker) always exits cleanly.
func (e *Executor) Launch(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("executor panicked, recording as exception", zap.Any("panic", r))
			e.setStatus(ctx, domain.StatusFailedException)
		}
	}()

	if err := e.prepare(ctx); err != nil {
		e.logger.Error("prepare failed", zap.Error(err))
		e.setStatus(ctx, failureStatus(err))
		return
	}

	if err := e.fetchResources(ctx); err != nil {
		e.logger.Error("fetch resources failed", zap.Error(err))
		e.setStatus(ctx, failureStatus(err))
		return
	}

	result, err := e.run(ctx)
	if err != nil {
		e.logger.Error("run failed", zap.Error(err))
		e.setStatus(ctx, failureStatus(err))
		return
	}

	if err := e.cleanUp(ctx, result); err != nil {
		e.logger.Error("clean up failed", zap.Error(err))
		e.setStatus(ctx, failureStatus(err))
		return
	}
}

// setStatus is the single helper every phase transition goes through: it
// mutates the local record, PATCHes the server, and adds-or-updates the
// activity tracker. Failures are logged and swallowed — this helper is a
// sink, never a source of errors to its caller.
func (e *Executor) setStatus(ctx context.Context, status domain.Status) {
	e.job.Status = status

	if err := e.server.PatchStatus(ctx, e.job.ID, status); err != nil {
		e.logger.Error("failed to patch status to server", zap.String("status", string(status)), zap.Error(err))
	}

	if e.tracker.IsTracked(e.job.ID) {
		if err := e.tracker.UpdateStatus(e.job.ID, status); err != nil {
			e.logger.Error("failed to update activity tracker", zap.Error(err))
		}
		return
	}
	if domain.PhaseOf(status) == domain.PhasePending {
		return
	}
	if err := e.tracker.Add(&e.job); err != nil {
		e.logger.Error("failed to add job to activity tracker", zap.Error(err))
	}
}

// prepare requests a working directory and reports it to the server.
func (e *Executor) prepare(ctx context.Context) error {
	e.setStatus(ctx, domain.StatusPreparing)

	if strings.ContainsAny(e.job.ID, "/\\") {
		return ErrInvalidJobID
	}

	if _, err := e.server.GetApplication(ctx, e.job.ApplicationID); err != nil {
		return fmt.Errorf("executor: fetching application metadata: %w", err)
	}

	dir, err := e.files.WorkingDirectoryFor(e.job.ID)
	if err != nil {
		return fmt.Errorf("executor: creating working directory: %w", err)
	}
	e.job.WorkingDir = dir

	if err := e.server.PatchWorkingDirectory(ctx, e.job.ID, dir); err != nil {
		return fmt.Errorf("executor: reporting working directory: %w", err)
	}
	return nil
}

// applicationFilename derives the on-disk filename for a fetched program
// from the application's name and type.
func applicationFilename(app domain.Application) (string, error) {
	switch app.Type {
	case domain.ApplicationPython:
		return app.Name + ".py", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNotImplemented, app.Type)
	}
}

// fetchResources writes the application program and every listed resource
// into the job's working directory.
func (e *Executor) fetchResources(ctx context.Context) error {
	e.setStatus(ctx, domain.StatusFetchingResources)

	app, err := e.server.GetApplication(ctx, e.job.ApplicationID)
	if err != nil {
		return resourceFailure(fmt.Errorf("executor: re-fetching application metadata: %w", err))
	}

	filename, err := applicationFilename(app)
	if err != nil {
		return resourceFailure(err)
	}

	program, err := e.server.GetApplicationProgram(ctx, e.job.ApplicationID)
	if err != nil {
		return resourceFailure(fmt.Errorf("executor: downloading application program: %w", err))
	}
	if err := os.WriteFile(filepath.Join(e.job.WorkingDir, filename), program, 0o640); err != nil {
		return resourceFailure(fmt.Errorf("executor: writing application program: %w", err))
	}

	for _, resourceID := range e.job.ResourceIDs {
		res, err := e.server.GetResource(ctx, resourceID)
		if err != nil {
			return resourceFailure(fmt.Errorf("executor: fetching resource %s metadata: %w", resourceID, err))
		}
		payload, err := e.server.DownloadResource(ctx, resourceID)
		if err != nil {
			return resourceFailure(fmt.Errorf("executor: downloading resource %s: %w", resourceID, err))
		}
		if err := os.WriteFile(filepath.Join(e.job.WorkingDir, res.Filename), payload, 0o640); err != nil {
			return resourceFailure(fmt.Errorf("executor: writing resource %s: %w", resourceID, err))
		}
	}
	return nil
}

// run launches the job's subprocess and waits for completion. A non-zero
// exit is not itself a run failure — clean up still runs and decides
// SUCCEEDED/FAILED from the exit code. Only a launch error (executable not
// found) or cancellation aborts the state machine here.
func (e *Executor) run(ctx context.Context) (*process.Result, error) {
	e.setStatus(ctx, domain.StatusRunning)

	result, err := e.proc.Run(ctx, e.job.ID, e.job.WorkingDir, e.job.Executable, e.job.Args)
	if result == nil {
		return nil, err
	}
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, context.DeadlineExceeded):
		return result, timeoutFailure(fmt.Errorf("executor: subprocess timed out: %w", err))
	case errors.Is(err, context.Canceled):
		return result, terminatedFailure(fmt.Errorf("executor: subprocess cancelled: %w", err))
	case errors.Is(err, process.ErrProcessFailed):
		// Non-zero exit: not a run failure — clean up still runs and decides
		// SUCCEEDED/FAILED from the exit code.
		return result, nil
	default:
		return result, fmt.Errorf("executor: launching subprocess: %w", err)
	}
}

// cleanUp uploads the captured logs, reports the exit code, and sets the
// final SUCCEEDED/FAILED status.
func (e *Executor) cleanUp(ctx context.Context, result *process.Result) error {
	e.setStatus(ctx, domain.StatusCleaningUp)

	for _, path := range []string{result.StdoutPath, result.StderrPath} {
		if _, err := e.server.CreateResource(ctx, e.job.ID, domain.ResourceTypeLog, path); err != nil {
			e.logger.Error("failed to upload log", zap.String("path", path), zap.Error(err))
		}
	}

	e.setStatus(ctx, domain.StatusUploadingResults)

	e.job.ExitCode = &result.ExitCode
	if err := e.server.PatchExitCode(ctx, e.job.ID, result.ExitCode); err != nil {
		e.logger.Error("failed to patch exit code", zap.Error(err))
	}

	if result.ExitCode == 0 {
		e.setStatus(ctx, domain.StatusSucceeded)
	} else {
		e.setStatus(ctx, domain.StatusFailed)
	}
	return nil
}

// phaseFailure tags an error with the terminal status it should map to,
// distinguishing the catch-all FAILED from the more specific
// FAILED_RESOURCE, FAILED_TIMEOUT, and FAILED_TERMINATED statuses.
type phaseFailure struct {
	status domain.Status
	err    error
}

func (f *phaseFailure) Error() string { return f.err.Error() }
func (f *phaseFailure) Unwrap() error { return f.err }

func resourceFailure(err error) error   { return &phaseFailure{status: domain.StatusFailedResource, err: err} }
func timeoutFailure(err error) error    { return &phaseFailure{status: domain.StatusFailedTimeout, err: err} }
func terminatedFailure(err error) error { return &phaseFailure{status: domain.StatusFailedTerminated, err: err} }

// failureStatus maps an error from one of the phase helpers to the terminal
// status reported to the server. ErrInvalidJobID is a resource/setup
// failure; a tagged phaseFailure carries its own status; anything else is
// the catch-all FAILED (the panic/exception case is handled separately, by
// Launch's recover).
func failureStatus(err error) domain.Status {
	var pf *phaseFailure
	switch {
	case errors.As(err, &pf):
		return pf.status
	case errors.Is(err, ErrInvalidJobID):
		return domain.StatusFailedResource
	default:
		return domain.StatusFailed
	}
}
