package backend

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/bpipe-run/preallocpool/internal/pipeline"
)

// LocalProcessExecutor runs the wrapper job as a local OS process using
// plain os/exec. It represents one long-lived wrapper process and must
// be able to reconnect to that process by PID after a controller
// restart, so PID (together with JobName) is what round-trips through
// persistence; the exec.Cmd handle does not.
type LocalProcessExecutor struct {
	PID     int    `json:"pid"`
	JobName string `json:"jobName"`

	cmd *exec.Cmd // nil after reconnecting from a persisted descriptor
	mu  sync.Mutex
}

func (e *LocalProcessExecutor) Start(ctx context.Context, cmd *pipeline.Command, out, errw io.Writer) error {
	c := exec.CommandContext(ctx, "sh", "-c", cmd.CommandText)
	c.Stdout = out
	c.Stderr = errw

	if err := c.Start(); err != nil {
		return fmt.Errorf("starting local wrapper process: %w", err)
	}

	e.mu.Lock()
	e.cmd = c
	e.PID = c.Process.Pid
	e.mu.Unlock()
	return nil
}

func (e *LocalProcessExecutor) WaitFor(ctx context.Context) (int, error) {
	e.mu.Lock()
	c := e.cmd
	e.mu.Unlock()

	if c == nil {
		// Reconnected descriptor: no child handle to Wait() on. Poll
		// PID liveness instead; the exit code itself is not observable
		// this way, which is fine since exit-code delivery for adopted
		// pipeline commands goes through the wrapper protocol's
		// <id>.pool.exit file, not through this call.
		return e.waitForPidExit(ctx)
	}

	err := c.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("waiting for local wrapper process: %w", err)
}

func (e *LocalProcessExecutor) waitForPidExit(ctx context.Context) (int, error) {
	for {
		if st, err := e.StatusOf(ctx); err != nil {
			return -1, err
		} else if st != StatusRunning {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-pidPollTick():
		}
	}
}

func (e *LocalProcessExecutor) Stop(ctx context.Context) error {
	e.mu.Lock()
	pid := e.PID
	e.mu.Unlock()

	if pid == 0 {
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("stopping local wrapper process %d: %w", pid, err)
	}
	return nil
}

func (e *LocalProcessExecutor) StatusOf(ctx context.Context) (Status, error) {
	e.mu.Lock()
	pid := e.PID
	e.mu.Unlock()

	if pid == 0 {
		return StatusUnknown, nil
	}
	// Signal 0 performs no-op existence/permission checks only.
	if err := syscall.Kill(pid, 0); err != nil {
		if err == syscall.ESRCH {
			return StatusComplete, nil
		}
		return StatusUnknown, nil
	}
	return StatusRunning, nil
}

func (e *LocalProcessExecutor) SetJobName(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.JobName = name
	return nil
}

func (e *LocalProcessExecutor) JobID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.PID == 0 {
		return ""
	}
	return strconv.Itoa(e.PID)
}
