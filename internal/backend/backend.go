// Package backend implements the CommandExecutor capability set: the
// uniform contract pipeline-level callers use to start, await, stop
// and inspect a backend job, regardless of whether that job is a local
// process or a remote cluster batch submission.
package backend

import (
	"context"
	"io"

	"github.com/bpipe-run/preallocpool/internal/pipeline"
)

// Status is one of the four states a CommandExecutor may report.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusComplete Status = "COMPLETE"
	StatusUnknown  Status = "UNKNOWN"
)

// Options carries the opaque backend-specific fields that a pool's
// Config passes through to whichever CommandExecutor implementation
// its factory constructs.
type Options struct {
	Kind string // "local" or "cluster"; selects the Factory's construction path

	// Cluster-only fields; ignored by LocalProcessExecutor.
	SubmitTemplate string
	PollTemplate   string
	CancelTemplate string
	Queue          string
}

// CommandExecutor is the polymorphic capability over backends.
// Implementations must be JSON-serializable (no unexported fields
// holding the reconnection state) so a persistent pool can round-trip
// them across a controller restart.
type CommandExecutor interface {
	// Start begins the backend job running cmd, directing its captured
	// stdout/stderr to out/err.
	Start(ctx context.Context, cmd *pipeline.Command, out, errw io.Writer) error

	// WaitFor blocks until the backend job exits and returns its exit code.
	WaitFor(ctx context.Context) (int, error)

	// Stop requests termination of the backend job.
	Stop(ctx context.Context) error

	// StatusOf reports the current backend-observed status.
	StatusOf(ctx context.Context) (Status, error)

	// SetJobName sets the backend job's display name, best-effort, for
	// operator visibility.
	SetJobName(name string) error

	// JobID returns the backend's own identifier for this job (an OS
	// PID for a local process, a batch-system job number for a cluster
	// submission). This is the stable identity of the reservation, and
	// its all-digit form is what pool descriptor filenames are named
	// after. Empty before Start succeeds.
	JobID() string
}

// Factory constructs a CommandExecutor for a given set of Options.
type Factory interface {
	CreateExecutor(opts Options) (CommandExecutor, error)
}

// DefaultFactory constructs LocalProcessExecutor or ClusterExecutor
// instances depending on opts.Kind.
type DefaultFactory struct {
	Renderer TemplateRenderer
}

// TemplateRenderer is the subset of pipeline.TemplateRenderer that
// ClusterExecutor needs; declared here to avoid this package depending
// on pipeline for anything beyond the Command type.
type TemplateRenderer interface {
	Render(templateText string, bindings map[string]any) (string, error)
}

func (f DefaultFactory) CreateExecutor(opts Options) (CommandExecutor, error) {
	switch opts.Kind {
	case "", "local":
		return &LocalProcessExecutor{}, nil
	case "cluster":
		return &ClusterExecutor{
			SubmitTemplate: opts.SubmitTemplate,
			PollTemplate:   opts.PollTemplate,
			CancelTemplate: opts.CancelTemplate,
			Queue:          opts.Queue,
			renderer:       f.Renderer,
		}, nil
	default:
		return nil, &UnknownBackendKindError{Kind: opts.Kind}
	}
}

// UnknownBackendKindError is returned by DefaultFactory for an
// unrecognized Options.Kind.
type UnknownBackendKindError struct{ Kind string }

func (e *UnknownBackendKindError) Error() string {
	return "backend: unknown executor kind " + e.Kind
}
