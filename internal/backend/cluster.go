package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/bpipe-run/preallocpool/internal/pipeline"
)

// ClusterExecutor submits the wrapper job to an external batch system
// by shelling out to configurable submit/poll/cancel command templates.
// It is deliberately generic: the concrete batch system (Torque, SGE,
// Slurm, ...) is expressed entirely as command templates rendered via
// internal/pipeline.TemplateRenderer, so this package never needs to
// know which one it's talking to.
type ClusterExecutor struct {
	SubmitTemplate string `json:"submitTemplate"`
	PollTemplate   string `json:"pollTemplate"`
	CancelTemplate string `json:"cancelTemplate"`
	Queue          string `json:"queue"`
	RemoteJobID    string `json:"jobID"`
	JobName        string `json:"jobName"`

	renderer TemplateRenderer
	mu       sync.Mutex
}

// SetRenderer wires the template renderer after JSON deserialization,
// since TemplateRenderer is an interface and cannot itself be
// unmarshaled. Callers reconnecting a persisted ClusterExecutor must
// call this before using it.
func (e *ClusterExecutor) SetRenderer(r TemplateRenderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderer = r
}

func (e *ClusterExecutor) Start(ctx context.Context, cmd *pipeline.Command, out, errw io.Writer) error {
	e.mu.Lock()
	renderer := e.renderer
	queue := e.Queue
	tmpl := e.SubmitTemplate
	e.mu.Unlock()

	if renderer == nil {
		return fmt.Errorf("submitting cluster job: no template renderer configured")
	}

	rendered, err := renderer.Render(tmpl, map[string]any{
		"Queue":   queue,
		"Command": cmd.CommandText,
		"Name":    cmd.Name,
	})
	if err != nil {
		return fmt.Errorf("rendering cluster submit command: %w", err)
	}

	stdout, err := runShell(ctx, rendered)
	if err != nil {
		return fmt.Errorf("submitting cluster job: %w", err)
	}

	jobID := strings.TrimSpace(stdout)
	e.mu.Lock()
	e.RemoteJobID = jobID
	e.mu.Unlock()
	return nil
}

func (e *ClusterExecutor) WaitFor(ctx context.Context) (int, error) {
	for {
		st, err := e.StatusOf(ctx)
		if err != nil {
			return -1, err
		}
		if st == StatusComplete {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-pidPollTick():
		}
	}
}

func (e *ClusterExecutor) Stop(ctx context.Context) error {
	e.mu.Lock()
	renderer := e.renderer
	tmpl := e.CancelTemplate
	jobID := e.RemoteJobID
	e.mu.Unlock()

	if jobID == "" || renderer == nil {
		return nil
	}

	rendered, err := renderer.Render(tmpl, map[string]any{"JobID": jobID})
	if err != nil {
		return fmt.Errorf("rendering cluster cancel command: %w", err)
	}
	if _, err := runShell(ctx, rendered); err != nil {
		return fmt.Errorf("canceling cluster job %s: %w", jobID, err)
	}
	return nil
}

func (e *ClusterExecutor) StatusOf(ctx context.Context) (Status, error) {
	e.mu.Lock()
	renderer := e.renderer
	tmpl := e.PollTemplate
	jobID := e.RemoteJobID
	e.mu.Unlock()

	if jobID == "" {
		return StatusUnknown, nil
	}
	if renderer == nil {
		return StatusUnknown, fmt.Errorf("polling cluster job %s: no template renderer configured", jobID)
	}

	rendered, err := renderer.Render(tmpl, map[string]any{"JobID": jobID})
	if err != nil {
		return StatusUnknown, fmt.Errorf("rendering cluster poll command: %w", err)
	}

	stdout, err := runShell(ctx, rendered)
	if err != nil {
		// Most batch systems report "unknown job id" via a non-zero
		// exit once the job has left the queue entirely.
		return StatusComplete, nil
	}
	return parseClusterStatus(stdout), nil
}

func (e *ClusterExecutor) SetJobName(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.JobName = name
	return nil
}

func (e *ClusterExecutor) JobID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.RemoteJobID
}

func runShell(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w (stderr: %s)", command, err, stderr.String())
	}
	return stdout.String(), nil
}

// parseClusterStatus maps common batch-system status tokens to our
// four-state model. Unrecognized output is treated as still running,
// which is the conservative choice: a wrapper that is merely reported
// in an unfamiliar state should not be mistaken for having exited.
func parseClusterStatus(stdout string) Status {
	s := strings.ToUpper(strings.TrimSpace(stdout))
	switch {
	case strings.Contains(s, "QUEUE") || strings.Contains(s, "PEND"):
		return StatusQueued
	case strings.Contains(s, "RUN") || strings.Contains(s, "ACTIVE"):
		return StatusRunning
	case strings.Contains(s, "DONE") || strings.Contains(s, "COMPLETE") || strings.Contains(s, "EXIT") || s == "":
		return StatusComplete
	default:
		return StatusRunning
	}
}
