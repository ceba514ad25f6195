package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/activity"
	"github.com/fyn-tech/fyn-runner/internal/domain"
	"github.com/fyn-tech/fyn-runner/internal/process"
)

type fakeFiles struct {
	dir string
	err error
}

func (f *fakeFiles) WorkingDirectoryFor(jobID string) (string, error) { return f.dir, f.err }

type fakeServer struct {
	app         domain.Application
	program     []byte
	resources   map[string]domain.Resource
	downloads   map[string][]byte
	statuses    []domain.Status
	exitCode    *int
	getAppErr   error
	getProgErr  error
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		app:       domain.Application{ID: "app-1", Name: "sim", Type: domain.ApplicationPython},
		program:   []byte("print('hi')"),
		resources: map[string]domain.Resource{},
		downloads: map[string][]byte{},
	}
}

func (f *fakeServer) PatchStatus(ctx context.Context, jobID string, status domain.Status) error {
	f.statuses = append(f.statuses, status)
	return nil
}
func (f *fakeServer) PatchWorkingDirectory(ctx context.Context, jobID, dir string) error { return nil }
func (f *fakeServer) PatchExitCode(ctx context.Context, jobID string, exitCode int) error {
	f.exitCode = &exitCode
	return nil
}
func (f *fakeServer) GetApplication(ctx context.Context, appID string) (domain.Application, error) {
	return f.app, f.getAppErr
}
func (f *fakeServer) GetApplicationProgram(ctx context.Context, appID string) ([]byte, error) {
	return f.program, f.getProgErr
}
func (f *fakeServer) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	return f.resources[resourceID], nil
}
func (f *fakeServer) DownloadResource(ctx context.Context, resourceID string) ([]byte, error) {
	return f.downloads[resourceID], nil
}
func (f *fakeServer) CreateResource(ctx context.Context, jobID string, resType domain.ResourceType, filePath string) (domain.Resource, error) {
	return domain.Resource{ID: "log-1", Filename: filepath.Base(filePath), Type: resType}, nil
}

func TestLaunch_SuccessExitZero(t *testing.T) {
	dir := t.TempDir()
	job := domain.Job{ID: "job-1", ApplicationID: "app-1", Executable: "/bin/echo", Args: []string{"ok"}}
	server := newFakeServer()
	files := &fakeFiles{dir: dir}
	tracker := activity.New()

	e := New(job, server, files, tracker, process.NewRunner(0), zap.NewNop())
	e.Launch(context.Background())

	if *server.exitCode != 0 {
		t.Fatalf("exit code = %d, want 0", *server.exitCode)
	}
	last := server.statuses[len(server.statuses)-1]
	if last != domain.StatusSucceeded {
		t.Fatalf("final status = %s, want SUCCEEDED", last)
	}
	if !tracker.IsComplete("job-1") {
		t.Fatal("expected job-1 tracked as complete")
	}

	if _, err := os.Stat(filepath.Join(dir, "sim.py")); err != nil {
		t.Fatalf("expected application program written: %v", err)
	}
}

func TestLaunch_NonZeroExitFails(t *testing.T) {
	dir := t.TempDir()
	job := domain.Job{ID: "job-2", ApplicationID: "app-1", Executable: "/bin/sh", Args: []string{"-c", "exit 2"}}
	server := newFakeServer()
	files := &fakeFiles{dir: dir}
	tracker := activity.New()

	e := New(job, server, files, tracker, process.NewRunner(0), zap.NewNop())
	e.Launch(context.Background())

	if *server.exitCode != 2 {
		t.Fatalf("exit code = %d, want 2", *server.exitCode)
	}
	last := server.statuses[len(server.statuses)-1]
	if last != domain.StatusFailed {
		t.Fatalf("final status = %s, want FAILED", last)
	}
}

func TestLaunch_InvalidJobIDFailsResource(t *testing.T) {
	dir := t.TempDir()
	job := domain.Job{ID: "bad/id", ApplicationID: "app-1", Executable: "/bin/echo"}
	server := newFakeServer()
	files := &fakeFiles{dir: dir}
	tracker := activity.New()

	e := New(job, server, files, tracker, process.NewRunner(0), zap.NewNop())
	e.Launch(context.Background())

	last := server.statuses[len(server.statuses)-1]
	if last != domain.StatusFailedResource {
		t.Fatalf("final status = %s, want FAILED_RESOURCE", last)
	}
}

func TestLaunch_UnsupportedApplicationTypeNotImplemented(t *testing.T) {
	dir := t.TempDir()
	job := domain.Job{ID: "job-3", ApplicationID: "app-1", Executable: "/bin/echo"}
	server := newFakeServer()
	server.app.Type = domain.ApplicationShell
	files := &fakeFiles{dir: dir}
	tracker := activity.New()

	e := New(job, server, files, tracker, process.NewRunner(0), zap.NewNop())
	e.Launch(context.Background())

	last := server.statuses[len(server.statuses)-1]
	if last != domain.StatusFailedResource {
		t.Fatalf("final status = %s, want FAILED_RESOURCE", last)
	}
}

func TestApplicationFilename_Python(t *testing.T) {
	name, err := applicationFilename(domain.Application{Name: "sim", Type: domain.ApplicationPython})
	if err != nil {
		t.Fatalf("applicationFilename: %v", err)
	}
	if name != "sim.py" {
		t.Fatalf("name = %q, want sim.py", name)
	}
}

func TestApplicationFilename_LinuxBinaryNotImplemented(t *testing.T) {
	_, err := applicationFilename(domain.Application{Name: "x", Type: domain.ApplicationLinuxBinary})
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}
