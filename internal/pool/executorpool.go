package pool

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/cmdid"
	"github.com/bpipe-run/preallocpool/internal/heartbeat"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
)

// ExecutorPool owns a fixed-size set of PooledExecutors for one named
// pool.
type ExecutorPool struct {
	Config  Config
	BaseDir string // .bpipe root; poolDir = BaseDir/pools/Config.Name, commandTmpRoot = BaseDir/commandtmp

	factory  backend.Factory
	renderer backend.TemplateRenderer
	logger   *zap.Logger
	ticker   *heartbeat.Ticker

	mu   sync.Mutex
	all  []*PooledExecutor
	idle []*PooledExecutor
}

// NewExecutorPool constructs an empty pool; call Start to provision it.
// ticker may be nil, in which case provisioned executors simply aren't
// watched for heartbeat refresh (useful in tests).
func NewExecutorPool(cfg Config, baseDir string, factory backend.Factory, renderer backend.TemplateRenderer, ticker *heartbeat.Ticker, logger *zap.Logger) *ExecutorPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutorPool{
		Config:   cfg,
		BaseDir:  baseDir,
		factory:  factory,
		renderer: renderer,
		ticker:   ticker,
		logger:   logger.With(zap.String("pool", cfg.Name)),
	}
}

func (ep *ExecutorPool) poolDir() string {
	return filepath.Join(ep.BaseDir, "pools", ep.Config.Name)
}

func (ep *ExecutorPool) commandTmpRoot() string {
	return filepath.Join(ep.BaseDir, "commandtmp")
}

// Start reconnects any persisted executors still running, then
// provisions fresh ones until Config.Jobs reservations exist.
func (ep *ExecutorPool) Start(ctx context.Context) error {
	reconnected, err := SearchForExistingPools(ep.poolDir(), ep.Config, ep.renderer, ep.logger)
	if err != nil {
		return fmt.Errorf("reconnecting pool %s: %w", ep.Config.Name, err)
	}

	ep.mu.Lock()
	for _, pe := range reconnected {
		pe.SetOnFinish(ep)
		ep.all = append(ep.all, pe)
		ep.idle = append(ep.idle, pe)
	}
	ep.mu.Unlock()
	for _, pe := range reconnected {
		if ep.ticker != nil {
			ep.ticker.Watch(pe)
		}
		ep.logger.Info("reconnected existing pooled executor")
	}

	needed := ep.Config.Jobs - len(reconnected)
	for i := 0; i < needed; i++ {
		if err := ep.provisionOne(ctx); err != nil {
			return fmt.Errorf("provisioning pool %s: %w", ep.Config.Name, err)
		}
	}
	return nil
}

func (ep *ExecutorPool) provisionOne(ctx context.Context) error {
	exec, err := ep.factory.CreateExecutor(ep.Config.Backend)
	if err != nil {
		return fmt.Errorf("creating backend executor: %w", err)
	}

	wrapperCmd := &pipeline.Command{
		ID:           cmdid.New(),
		Name:         ep.Config.Name,
		CommandText:  wrapperScriptPath,
		CreateTimeMs: time.Now().UnixMilli(),
	}

	pe := New(ep.Config, wrapperCmd, exec, ep.commandTmpRoot(), ep.logger)
	pe.SetOnFinish(ep)

	var out, errw discardWriter
	if err := pe.Start(ctx, out, errw); err != nil {
		_ = exec.Stop(ctx)
		return fmt.Errorf("starting wrapper job: %w", err)
	}

	if ep.Config.Persist {
		if err := SaveDescriptor(ep.poolDir(), pe); err != nil {
			ep.logger.Warn("failed to persist new pooled executor", zap.Error(err))
		}
	}

	ep.mu.Lock()
	ep.all = append(ep.all, pe)
	ep.idle = append(ep.idle, pe)
	ep.mu.Unlock()

	if ep.ticker != nil {
		ep.ticker.Watch(pe)
	}

	ep.logger.Info("provisioned pooled executor", zap.String("hostCommandId", pe.HostCommandID()))
	return nil
}

// wrapperScriptPath is the command text handed to the backend to launch
// the long-lived wrapper process. It is a constant path, not
// user-controlled data: what pipeline command actually runs is decided
// per-dispatch over the wrapper protocol, not by this command text.
const wrapperScriptPath = "exec bpipe-wrapper"

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Take returns an idle executor able to accept cfg, using a
// deterministic first-match policy: the first idle executor, in
// insertion order, for which CanAccept reports true. ok is false when
// no idle executor currently qualifies; that is a normal "no pool
// available right now" outcome, not an error.
func (ep *ExecutorPool) Take(cfg pipeline.ProcessedConfig) (*PooledExecutor, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	for i, pe := range ep.idle {
		if pe.CanAccept(cfg) {
			ep.idle = append(ep.idle[:i], ep.idle[i+1:]...)
			return pe, true
		}
	}
	return nil, false
}

// Release returns pe to the idle set, implementing PoolMembership. A
// terminated executor is never re-added.
func (ep *ExecutorPool) Release(pe *PooledExecutor) {
	if pe.State() == StateTerminated {
		return
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	for _, existing := range ep.idle {
		if existing == pe {
			return
		}
	}
	ep.idle = append(ep.idle, pe)
}

// Shutdown stops every executor owned by this pool and removes their
// persisted descriptors, if any.
func (ep *ExecutorPool) Shutdown(ctx context.Context) error {
	ep.mu.Lock()
	all := append([]*PooledExecutor(nil), ep.all...)
	ep.all = nil
	ep.idle = nil
	ep.mu.Unlock()

	var firstErr error
	for _, pe := range all {
		if ep.ticker != nil {
			ep.ticker.Forget(pe)
		}
		if err := pe.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping pooled executor %s: %w", pe.HostCommandID(), err)
		}
		if ep.Config.Persist {
			_ = RemoveDescriptor(ep.poolDir(), pe.HostCommandID())
		}
	}
	return firstErr
}

// Size reports the total and idle executor counts, for status reporting.
func (ep *ExecutorPool) Size() (total, idle int) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.all), len(ep.idle)
}

var _ io.Writer = discardWriter{}
