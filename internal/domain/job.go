// Package domain defines the types shared by every layer of the runner:
// job records, their status enumeration, and the applications/resources a
// job references. None of these types own any synchronization — that is the
// responsibility of the packages that hold them (activity, queue).
package domain

// Status is one of the job's finite lifecycle states. The mapping from
// Status to Phase is total and fixed — see PhaseOf.
type Status string

const (
	StatusQueued Status = "QUEUED"

	StatusPreparing         Status = "PREPARING"
	StatusFetchingResources Status = "FETCHING_RESOURCES"
	StatusRunning           Status = "RUNNING"
	StatusPaused            Status = "PAUSED"
	StatusCleaningUp        Status = "CLEANING_UP"
	StatusUploadingResults  Status = "UPLOADING_RESULTS"

	StatusSucceeded        Status = "SUCCEEDED"
	StatusFailed           Status = "FAILED"
	StatusFailedResource   Status = "FAILED_RESOURCE"
	StatusFailedTerminated Status = "FAILED_TERMINATED"
	StatusFailedTimeout    Status = "FAILED_TIMEOUT"
	StatusFailedException  Status = "FAILED_EXCEPTION"
)

// Phase groups statuses into the three activity phases used by the
// Activity Tracker and the Job Manager's backlog queue.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseActive   Phase = "active"
	PhaseComplete Phase = "complete"
)

// PhaseOf returns the activity phase for a status. It panics on an unknown
// status — the set of statuses is closed and fixed at compile time, so an
// unrecognized value means a caller constructed one by hand instead of using
// the constants above.
func PhaseOf(s Status) Phase {
	switch s {
	case StatusQueued:
		return PhasePending
	case StatusPreparing, StatusFetchingResources, StatusRunning, StatusPaused,
		StatusCleaningUp, StatusUploadingResults:
		return PhaseActive
	case StatusSucceeded, StatusFailed, StatusFailedResource, StatusFailedTerminated,
		StatusFailedTimeout, StatusFailedException:
		return PhaseComplete
	default:
		panic("domain: unknown status " + string(s))
	}
}

// IsTerminal reports whether s is one of the COMPLETE-phase statuses.
func IsTerminal(s Status) bool {
	return PhaseOf(s) == PhaseComplete
}

// Job is the runner's record of one unit of work. Identity fields are set
// once by the server and never change; the lifecycle fields are mutated as
// the Job Executor drives the job through its state machine.
type Job struct {
	ID            string   `json:"id"`
	ApplicationID string   `json:"application_id"`
	Priority      int      `json:"priority"`
	Executable    string   `json:"executable"`
	Args          []string `json:"command_line_args"`
	ResourceIDs   []string `json:"resource_ids"`

	Status     Status `json:"status"`
	WorkingDir string `json:"working_directory,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

// ApplicationType identifies how an application's program bytes should be
// written to disk and invoked.
type ApplicationType string

const (
	ApplicationPython        ApplicationType = "PYTHON"
	ApplicationShell         ApplicationType = "SHELL"
	ApplicationLinuxBinary   ApplicationType = "LINUX_BINARY"
	ApplicationWindowsBinary ApplicationType = "WINDOWS_BINARY"
	ApplicationUnknown       ApplicationType = "UNKNOWN"
)

// Application is the metadata the control plane holds for a runnable
// program. Name is combined with Type to derive the filename written into
// the job's working directory during the fetch-resources phase.
type Application struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Type ApplicationType `json:"type"`
}

// Resource is a single file associated with a job, addressable by id on the
// control plane — either an input the job needs, or a log/result the runner
// uploads after execution.
type Resource struct {
	ID       string       `json:"id"`
	Filename string       `json:"filename"`
	Type     ResourceType `json:"type"`
}

// ResourceType distinguishes job inputs from uploaded outputs.
type ResourceType string

const (
	ResourceTypeInput ResourceType = "INPUT"
	ResourceTypeLog   ResourceType = "LOG"
)

// SystemMetrics is a snapshot of host resource utilization, attached to
// heartbeats so the server can display load per runner.
type SystemMetrics struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
}

// RunnerRegistration is what the control plane hands back when a new runner
// registers: the server-assigned display name and the token this runner
// must present on every subsequent request.
type RunnerRegistration struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}
