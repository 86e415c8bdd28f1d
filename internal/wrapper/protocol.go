// Package wrapper implements the filesystem-mediated protocol between
// the controller and the remote wrapper script: command dispatch, exit
// notification, heartbeat and the stop signal, all as files under
// .bpipe/commandtmp/<hostCommandID>/.
package wrapper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bpipe-run/preallocpool/internal/pipeline"
)

// Polling granularity constants, exposed as configuration rather than
// inlined. They are vars, not consts, so callers (and tests) can
// override them.
var (
	HeartbeatInterval = 10 * time.Second
	ExitPollInterval  = time.Second
	ExitSettleDelay   = 100 * time.Millisecond
	StopPollInterval  = time.Second
)

// idPattern constrains the host/pipeline command ids that are allowed
// to appear in filenames under the protocol directory. Host command ids
// are the backend's job id (a PID or batch job number) and pipeline
// command ids are the caller's Command.ID, never pipeline command
// text, but we validate anyway since a filename
// built from an id is the only place user-adjacent data ever reaches
// the filesystem layer.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validID(id string) error {
	if id == "" || !idPattern.MatchString(id) {
		return fmt.Errorf("invalid command id %q", id)
	}
	return nil
}

// Paths computes the well-known filenames for one wrapper's protocol
// directory.
type Paths struct {
	Dir string
}

// NewPaths returns the Paths for hostCommandID under commandTmpRoot
// (normally .bpipe/commandtmp).
func NewPaths(commandTmpRoot, hostCommandID string) (Paths, error) {
	if err := validID(hostCommandID); err != nil {
		return Paths{}, err
	}
	return Paths{Dir: filepath.Join(commandTmpRoot, hostCommandID)}, nil
}

func (p Paths) cmdTmp() string   { return filepath.Join(p.Dir, "pool_cmd.tmp") }
func (p Paths) Heartbeat() string { return filepath.Join(p.Dir, "heartbeat") }
func (p Paths) Stop() string      { return filepath.Join(p.Dir, "stop") }
func (p Paths) Out() string       { return filepath.Join(p.Dir, "cmd.out") }
func (p Paths) Err() string       { return filepath.Join(p.Dir, "cmd.err") }

func (p Paths) cmdScript(pipelineCmdID string) string {
	return filepath.Join(p.Dir, fmt.Sprintf("pool_cmd.%s.sh", pipelineCmdID))
}

func (p Paths) exitFile(pipelineCmdID string) string {
	return filepath.Join(p.Dir, fmt.Sprintf("%s.pool.exit", pipelineCmdID))
}

// Protocol is the controller's side of the wrapper protocol for one
// wrapper job.
type Protocol struct {
	Paths Paths
}

// New creates a Protocol and ensures its directory exists.
func New(commandTmpRoot, hostCommandID string) (*Protocol, error) {
	paths, err := NewPaths(commandTmpRoot, hostCommandID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paths.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating wrapper protocol directory: %w", err)
	}
	return &Protocol{Paths: paths}, nil
}

// Dispatch publishes cmd's script text so the wrapper can pick it up.
// The write-then-rename sequence happens within the same directory so
// the rename is atomic: the wrapper's directory scan never observes a
// partially-written pool_cmd.<id>.sh.
func (pr *Protocol) Dispatch(cmd *pipeline.Command) error {
	if err := validID(cmd.ID); err != nil {
		return err
	}

	tmp := pr.Paths.cmdTmp()
	if err := os.WriteFile(tmp, []byte(cmd.CommandText), 0644); err != nil {
		return fmt.Errorf("writing dispatch script: %w", err)
	}

	target := pr.Paths.cmdScript(cmd.ID)
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("publishing dispatch script: %w", err)
	}
	return nil
}

// PollExit blocks until <pipelineCmdID>.pool.exit appears, then returns
// its parsed integer exit code. It sleeps ExitSettleDelay after first
// observing the file before reading it, to let a slow remote
// filesystem finish flushing the write.
func (pr *Protocol) PollExit(ctx context.Context, pipelineCmdID string) (int, error) {
	if err := validID(pipelineCmdID); err != nil {
		return -1, err
	}
	path := pr.Paths.exitFile(pipelineCmdID)

	for {
		if _, err := os.Stat(path); err == nil {
			time.Sleep(ExitSettleDelay)
			return pr.readExitCode(path)
		} else if !os.IsNotExist(err) {
			return -1, fmt.Errorf("polling exit file: %w", err)
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(ExitPollInterval):
		}
	}
}

func (pr *Protocol) readExitCode(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, fmt.Errorf("reading exit file: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	code, err := strconv.Atoi(trimmed)
	if err != nil {
		return -1, &ExitFileMalformedError{Path: path, Content: trimmed, Cause: err}
	}
	return code, nil
}

// Heartbeat unconditionally (re)creates the heartbeat file with the
// current time in milliseconds as content.
func (pr *Protocol) Heartbeat(nowMs int64) error {
	content := strconv.FormatInt(nowMs, 10)
	if err := os.WriteFile(pr.Paths.Heartbeat(), []byte(content), 0644); err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	return nil
}

// HeartbeatIfAbsent re-creates the heartbeat file only if it is
// currently missing: a one-shot-per-tick refresh that tolerates the
// file being deleted between ticks.
func (pr *Protocol) HeartbeatIfAbsent(nowMs int64) error {
	if _, err := os.Stat(pr.Paths.Heartbeat()); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking heartbeat: %w", err)
	}
	return pr.Heartbeat(nowMs)
}

// DeleteHeartbeat removes the heartbeat file, used when stopping an
// executor so its liveness can no longer be mistaken for running.
func (pr *Protocol) DeleteHeartbeat() error {
	err := os.Remove(pr.Paths.Heartbeat())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting heartbeat: %w", err)
	}
	return nil
}

// WriteStop writes the stop file containing the current time in
// milliseconds, requesting graceful wrapper exit.
func (pr *Protocol) WriteStop(nowMs int64) error {
	content := strconv.FormatInt(nowMs, 10)
	if err := os.WriteFile(pr.Paths.Stop(), []byte(content), 0644); err != nil {
		return fmt.Errorf("writing stop file: %w", err)
	}
	return nil
}

// StopRequested reports whether a stop has been requested and, if so,
// when.
func (pr *Protocol) StopRequested() (bool, time.Time, error) {
	data, err := os.ReadFile(pr.Paths.Stop())
	if err != nil {
		if os.IsNotExist(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("reading stop file: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return true, time.Time{}, nil
	}
	return true, time.UnixMilli(ms), nil
}
