package pool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
	"github.com/bpipe-run/preallocpool/internal/wrapper"
)

// State is one stage of the PooledExecutor lifecycle:
// PROVISIONING → IDLE → RUNNING(cmdId) → IDLE → … → STOPPING → TERMINATED.
type State string

const (
	StateProvisioning State = "PROVISIONING"
	StateIdle         State = "IDLE"
	StateRunning      State = "RUNNING"
	StateStopping     State = "STOPPING"
	StateTerminated   State = "TERMINATED"
)

// PoolMembership is the release callback an owning pool implements,
// used instead of a bare closure so that "do not re-insert a stopped
// executor" is enforced by the implementer (ExecutorPool) rather than
// by convention.
type PoolMembership interface {
	Release(pe *PooledExecutor)
}

// PooledExecutor is one wrapper job reservation.
type PooledExecutor struct {
	PoolConfig     Config
	Command        *pipeline.Command // the wrapper-level command, not a pipeline command
	CommandTmpRoot string

	hostCommandID string
	executor      backend.CommandExecutor
	protocol      *wrapper.Protocol
	outputLog     *wrapper.ForwardingSink
	onFinish      PoolMembership
	logger        *zap.Logger
	nowFn         func() time.Time

	mu               sync.Mutex
	state            State
	currentCommandID string
	tailCancel       context.CancelFunc
}

// New constructs a PooledExecutor around a not-yet-started backend
// executor. The reservation is not usable until Start succeeds: only
// then is the backend's job id known, and pool descriptor filenames
// (keyed on hostCommandID) must be all-digit, which is only true once
// the backend has actually assigned one.
func New(cfg Config, wrapperCmd *pipeline.Command, exec backend.CommandExecutor, commandTmpRoot string, logger *zap.Logger) *PooledExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PooledExecutor{
		PoolConfig:     cfg,
		Command:        wrapperCmd,
		CommandTmpRoot: commandTmpRoot,
		executor:       exec,
		outputLog:      &wrapper.ForwardingSink{},
		logger:         logger.With(zap.String("pool", cfg.Name)),
		nowFn:          time.Now,
		state:          StateProvisioning,
	}
}

// HostCommandID satisfies pipeline.CommandExecutorRef, and is the
// stable identity of this reservation used throughout persistence and
// the wrapper protocol.
func (pe *PooledExecutor) HostCommandID() string {
	return pe.hostCommandID
}

// SetOnFinish binds the PoolMembership callback used to return this
// executor to its owning pool's idle set once a command completes.
func (pe *PooledExecutor) SetOnFinish(m PoolMembership) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.onFinish = m
}

// State returns the current lifecycle state.
func (pe *PooledExecutor) State() State {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return pe.state
}

// Executor exposes the backing CommandExecutor, e.g. for persistence.
func (pe *PooledExecutor) Executor() backend.CommandExecutor {
	return pe.executor
}

// Protocol exposes the wrapper protocol handle, e.g. for the heartbeat ticker.
func (pe *PooledExecutor) Protocol() *wrapper.Protocol {
	return pe.protocol
}

// Start launches the backing wrapper job, then finishes construction:
// it reads the backend's assigned job id as hostCommandID and opens the
// wrapper protocol directory for it. Must be called exactly once,
// before the executor is placed in any pool's idle set.
func (pe *PooledExecutor) Start(ctx context.Context, out, errw io.Writer) error {
	if err := pe.executor.Start(ctx, pe.Command, out, errw); err != nil {
		return fmt.Errorf("starting wrapper job: %w", err)
	}

	hostCommandID := pe.executor.JobID()
	if hostCommandID == "" {
		return fmt.Errorf("starting pooled executor: backend assigned no job id")
	}

	proto, err := wrapper.New(pe.CommandTmpRoot, hostCommandID)
	if err != nil {
		return fmt.Errorf("opening wrapper protocol: %w", err)
	}

	if err := pe.executor.SetJobName(pe.PoolConfig.Name); err != nil {
		pe.logger.Warn("failed to set wrapper job name", zap.Error(err))
	}

	pe.mu.Lock()
	pe.hostCommandID = hostCommandID
	pe.protocol = proto
	pe.state = StateIdle
	pe.mu.Unlock()
	pe.logger = pe.logger.With(zap.String("hostCommandId", hostCommandID))
	return nil
}

// CanAccept reports whether this executor can take on a command with
// the given resolved configuration. It walks a fixed list of
// acceptance dimensions, of which only walltime is currently enforced;
// memory and CPU are reserved extension points.
func (pe *PooledExecutor) CanAccept(cfg pipeline.ProcessedConfig) bool {
	for _, dimension := range acceptDimensions {
		if !dimension(pe, cfg) {
			return false
		}
	}
	return true
}

// Execute adopts pipelineCmd: redirects outputLog into the wrapper's
// forwarding sink, binds the command's executor pointer to this
// PooledExecutor, and publishes its script text over the wrapper
// protocol. It must not be called on an occupied executor. Dispatch is
// asynchronous; completion is observed via WaitFor.
func (pe *PooledExecutor) Execute(ctx context.Context, pipelineCmd *pipeline.Command, outputLog io.Writer) error {
	pe.mu.Lock()
	if pe.state == StateTerminated || pe.state == StateStopping {
		pe.mu.Unlock()
		return ErrTerminated
	}
	if pe.state != StateIdle {
		pe.mu.Unlock()
		return ErrOccupied
	}
	pe.state = StateRunning
	pe.currentCommandID = pipelineCmd.ID
	pe.mu.Unlock()

	pe.outputLog.Rewire(outputLog)

	if !pipelineCmd.Adopt(pe) {
		pe.mu.Lock()
		pe.state = StateIdle
		pe.currentCommandID = ""
		pe.mu.Unlock()
		return fmt.Errorf("executing command %s: already adopted by another executor", pipelineCmd.ID)
	}

	tailCtx, cancel := context.WithCancel(context.Background())
	pe.mu.Lock()
	pe.tailCancel = cancel
	pe.mu.Unlock()
	go wrapper.NewTailer(pe.protocol.Paths.Out(), pe.outputLog).Run(tailCtx)
	go wrapper.NewTailer(pe.protocol.Paths.Err(), pe.outputLog).Run(tailCtx)

	if err := pe.protocol.Dispatch(pipelineCmd); err != nil {
		cancel()
		pe.mu.Lock()
		pe.state = StateIdle
		pe.currentCommandID = ""
		pe.mu.Unlock()
		pipelineCmd.Release()
		return fmt.Errorf("dispatching command %s: %w", pipelineCmd.ID, err)
	}

	pe.logger.Info("adopted command", zap.String("commandId", pipelineCmd.ID))
	return nil
}

// WaitFor polls for the adopted command's exit file, restores the
// executor to the idle state and invokes onFinish.
func (pe *PooledExecutor) WaitFor(ctx context.Context) (int, error) {
	pe.mu.Lock()
	cmdID := pe.currentCommandID
	pe.mu.Unlock()
	if cmdID == "" {
		return -1, fmt.Errorf("waitFor: no command is currently adopted")
	}

	code, err := pe.protocol.PollExit(ctx, cmdID)
	if err != nil {
		var malformed *wrapper.ExitFileMalformedError
		if !isExitFileMalformed(err, &malformed) {
			return -1, err
		}
		pe.logger.Warn("exit file malformed, treating as failure",
			zap.String("commandId", cmdID), zap.Error(err))
		code = -1
	}

	pe.mu.Lock()
	pe.tailCancel()
	pe.currentCommandID = ""
	terminated := pe.state == StateTerminated
	if !terminated {
		pe.state = StateIdle
	}
	onFinish := pe.onFinish
	pe.mu.Unlock()

	if err := pe.executor.SetJobName(pe.PoolConfig.Name); err != nil {
		pe.logger.Warn("failed to restore wrapper job name", zap.Error(err))
	}

	if !terminated && onFinish != nil {
		onFinish.Release(pe)
	}

	pe.logger.Info("command finished", zap.String("commandId", cmdID), zap.Int("exitCode", code))
	return code, nil
}

// Stop delegates to the backing executor, writes the wrapper protocol's
// stop file, and deletes the heartbeat file. Idempotent: repeated calls
// leave the same observable filesystem state.
func (pe *PooledExecutor) Stop(ctx context.Context) error {
	pe.mu.Lock()
	pe.state = StateTerminated
	pe.mu.Unlock()

	if err := pe.executor.Stop(ctx); err != nil {
		return fmt.Errorf("stopping backend executor: %w", err)
	}
	if err := pe.protocol.WriteStop(pe.nowFn().UnixMilli()); err != nil {
		return fmt.Errorf("writing stop file: %w", err)
	}
	if err := pe.protocol.DeleteHeartbeat(); err != nil {
		return fmt.Errorf("deleting heartbeat: %w", err)
	}
	return nil
}

func isExitFileMalformed(err error, target **wrapper.ExitFileMalformedError) bool {
	if e, ok := err.(*wrapper.ExitFileMalformedError); ok {
		*target = e
		return true
	}
	return false
}
