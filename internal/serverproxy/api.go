package serverproxy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyn-tech/fyn-runner/internal/domain"
)

// These wrappers translate the control-plane's REST surface into typed Go
// calls over the Proxy's outbound pipeline. Every call here is routed
// through Push/PushWithResponse, so it is subject to the same priority
// ordering, retry-free send-and-forget, and response-correlation semantics
// as any other outbound Message.

// RunnerAPI groups the endpoints that describe this runner's own lifecycle
// (registration, deregistration, status). Heartbeats are not sent through
// it.
type runnerAPI struct{ p *Proxy }

func (p *Proxy) RunnerAPI() *runnerAPI { return &runnerAPI{p: p} }

// Register announces this runner to the control plane on startup and
// returns the server-assigned name and token.
func (a *runnerAPI) Register(ctx context.Context, hostname string) (domain.RunnerRegistration, error) {
	body := map[string]any{"hostname": hostname, "status": "idle"}
	resp, err := a.p.PushWithResponse(ctx, Message{
		Path: "api/v1/runner",
		Verb: VerbPost,
		Body: body,
	})
	if err != nil {
		return domain.RunnerRegistration{}, err
	}
	var reg domain.RunnerRegistration
	if err := json.Unmarshal(resp, &reg); err != nil {
		return domain.RunnerRegistration{}, fmt.Errorf("serverproxy: decoding registration response: %w", err)
	}
	return reg, nil
}

// Deregister removes this runner from the control plane, used by the
// uninstall flow.
func (a *runnerAPI) Deregister(ctx context.Context) error {
	_, err := a.p.PushWithResponse(ctx, Message{
		Path: "api/v1/runner",
		Verb: VerbDelete,
	})
	return err
}

// ReportStatus sets this runner's coarse lifecycle status (idle/busy).
// Heartbeats and the shutdown offline notification bypass this path — the
// sender worker issues those directly.
func (a *runnerAPI) ReportStatus(ctx context.Context, status string) error {
	_, err := a.p.PushWithResponse(ctx, Message{
		Path: "api/v1/runner",
		Verb: VerbPatch,
		Body: map[string]any{"status": status},
	})
	return err
}

// JobManagerAPI groups the endpoints the Job Manager uses to list and
// update jobs assigned to this runner.
type jobManagerAPI struct{ p *Proxy }

func (p *Proxy) JobManagerAPI() *jobManagerAPI { return &jobManagerAPI{p: p} }

// ListForRunner fetches the full current job list assigned to this runner,
// used once at job manager startup to seed the backlog queue and activity
// tracker.
func (a *jobManagerAPI) ListForRunner(ctx context.Context) ([]domain.Job, error) {
	body, err := a.p.PushWithResponse(ctx, Message{
		Path: "api/v1/job",
		Verb: VerbGet,
	})
	if err != nil {
		return nil, err
	}
	var jobs []domain.Job
	if err := json.Unmarshal(body, &jobs); err != nil {
		return nil, fmt.Errorf("serverproxy: decoding job list: %w", err)
	}
	return jobs, nil
}

// PatchStatus updates a job's status field.
func (a *jobManagerAPI) PatchStatus(ctx context.Context, jobID string, status domain.Status) error {
	_, err := a.p.PushWithResponse(ctx, Message{
		Path: fmt.Sprintf("api/v1/job/%s", jobID),
		Verb: VerbPatch,
		Body: map[string]any{"status": status},
	})
	return err
}

// PatchWorkingDirectory records the absolute working directory assigned to
// a job once the executor has created it.
func (a *jobManagerAPI) PatchWorkingDirectory(ctx context.Context, jobID, dir string) error {
	_, err := a.p.PushWithResponse(ctx, Message{
		Path: fmt.Sprintf("api/v1/job/%s", jobID),
		Verb: VerbPatch,
		Body: map[string]any{"working_directory": dir},
	})
	return err
}

// PatchExitCode records the subprocess exit code for a completed job.
func (a *jobManagerAPI) PatchExitCode(ctx context.Context, jobID string, exitCode int) error {
	_, err := a.p.PushWithResponse(ctx, Message{
		Path: fmt.Sprintf("api/v1/job/%s", jobID),
		Verb: VerbPatch,
		Body: map[string]any{"exit_code": exitCode},
	})
	return err
}

// ApplicationAPI groups the endpoints that describe runnable programs.
type applicationAPI struct{ p *Proxy }

func (p *Proxy) ApplicationAPI() *applicationAPI { return &applicationAPI{p: p} }

// Get fetches application metadata (id, name, type) by id.
func (a *applicationAPI) Get(ctx context.Context, appID string) (domain.Application, error) {
	body, err := a.p.PushWithResponse(ctx, Message{
		Path: fmt.Sprintf("api/v1/application/%s", appID),
		Verb: VerbGet,
	})
	if err != nil {
		return domain.Application{}, err
	}
	var app domain.Application
	if err := json.Unmarshal(body, &app); err != nil {
		return domain.Application{}, fmt.Errorf("serverproxy: decoding application: %w", err)
	}
	return app, nil
}

// GetProgram downloads the application's executable/source bytes.
func (a *applicationAPI) GetProgram(ctx context.Context, appID string) ([]byte, error) {
	return a.p.PushWithResponse(ctx, Message{
		Path: fmt.Sprintf("api/v1/application/%s/program", appID),
		Verb: VerbGet,
	})
}

// ResourceAPI groups the endpoints for job input/output resources.
type resourceAPI struct{ p *Proxy }

func (p *Proxy) ResourceAPI() *resourceAPI { return &resourceAPI{p: p} }

// Get fetches resource metadata by id.
func (a *resourceAPI) Get(ctx context.Context, resourceID string) (domain.Resource, error) {
	body, err := a.p.PushWithResponse(ctx, Message{
		Path: fmt.Sprintf("api/v1/resource/%s", resourceID),
		Verb: VerbGet,
	})
	if err != nil {
		return domain.Resource{}, err
	}
	var res domain.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.Resource{}, fmt.Errorf("serverproxy: decoding resource: %w", err)
	}
	return res, nil
}

// Download fetches a resource's file content.
func (a *resourceAPI) Download(ctx context.Context, resourceID string) ([]byte, error) {
	return a.p.PushWithResponse(ctx, Message{
		Path: fmt.Sprintf("api/v1/resource/%s/content", resourceID),
		Verb: VerbGet,
	})
}

// executorAPI adapts the job manager, application, and resource sub-clients
// to the single, flatter interface internal/executor consumes.
type executorAPI struct {
	jobs *jobManagerAPI
	apps *applicationAPI
	res  *resourceAPI
}

// ExecutorAPI returns the server API surface a Job Executor needs,
// satisfying executor.ServerAPI.
func (p *Proxy) ExecutorAPI() *executorAPI {
	return &executorAPI{jobs: p.JobManagerAPI(), apps: p.ApplicationAPI(), res: p.ResourceAPI()}
}

func (a *executorAPI) PatchStatus(ctx context.Context, jobID string, status domain.Status) error {
	return a.jobs.PatchStatus(ctx, jobID, status)
}

func (a *executorAPI) PatchWorkingDirectory(ctx context.Context, jobID, dir string) error {
	return a.jobs.PatchWorkingDirectory(ctx, jobID, dir)
}

func (a *executorAPI) PatchExitCode(ctx context.Context, jobID string, exitCode int) error {
	return a.jobs.PatchExitCode(ctx, jobID, exitCode)
}

func (a *executorAPI) GetApplication(ctx context.Context, appID string) (domain.Application, error) {
	return a.apps.Get(ctx, appID)
}

func (a *executorAPI) GetApplicationProgram(ctx context.Context, appID string) ([]byte, error) {
	return a.apps.GetProgram(ctx, appID)
}

func (a *executorAPI) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	return a.res.Get(ctx, resourceID)
}

func (a *executorAPI) DownloadResource(ctx context.Context, resourceID string) ([]byte, error) {
	return a.res.Download(ctx, resourceID)
}

func (a *executorAPI) CreateResource(ctx context.Context, jobID string, resType domain.ResourceType, filePath string) (domain.Resource, error) {
	return a.res.Create(ctx, jobID, resType, filePath)
}

// Create uploads a new resource (e.g. a job's log file) by path, tagged with
// the owning job id and resource type.
func (a *resourceAPI) Create(ctx context.Context, jobID string, resType domain.ResourceType, filePath string) (domain.Resource, error) {
	body, err := a.p.PushWithResponse(ctx, Message{
		Path: "api/v1/resource",
		Verb: VerbPost,
		File: &FileRef{Path: filePath},
		Query: map[string]string{
			"job_id": jobID,
			"type":   string(resType),
		},
	})
	if err != nil {
		return domain.Resource{}, err
	}
	var res domain.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.Resource{}, fmt.Errorf("serverproxy: decoding created resource: %w", err)
	}
	return res, nil
}
