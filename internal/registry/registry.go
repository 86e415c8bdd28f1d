// Package registry implements the process-wide named-pool router: the
// single entry point pipeline execution asks "does any pre-allocated
// pool want this command", fanning a request out across every
// ExecutorPool configured to serve the command's resolved
// configuration name.
package registry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/heartbeat"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
	"github.com/bpipe-run/preallocpool/internal/pool"
)

// Registry owns every named pool for the life of the controller
// process: a mutex-guarded map, keyed by pool name, rooted at a single
// baseDir.
type Registry struct {
	baseDir string
	logger  *zap.Logger

	mu    sync.RWMutex
	pools map[string]*pool.ExecutorPool
}

// New constructs an empty Registry rooted at baseDir (normally .bpipe).
func New(baseDir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{baseDir: baseDir, logger: logger, pools: make(map[string]*pool.ExecutorPool)}
}

// InitPools provisions (or reconnects) one ExecutorPool per entry in
// cfgs and registers it under its Config.Name. Called once at
// controller startup. ticker may be nil to skip heartbeat registration
// (tests mainly).
func (r *Registry) InitPools(ctx context.Context, factory backend.Factory, renderer backend.TemplateRenderer, ticker *heartbeat.Ticker, cfgs []pool.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range cfgs {
		if _, exists := r.pools[cfg.Name]; exists {
			return fmt.Errorf("initializing pools: duplicate pool name %q", cfg.Name)
		}

		ep := pool.NewExecutorPool(cfg, r.baseDir, factory, renderer, ticker, r.logger)
		if err := ep.Start(ctx); err != nil {
			return fmt.Errorf("initializing pool %q: %w", cfg.Name, err)
		}
		r.pools[cfg.Name] = ep
		r.logger.Info("pool initialized", zap.String("pool", cfg.Name), zap.Int("jobs", cfg.Jobs))
	}
	return nil
}

// RequestExecutor looks for a pool configured to serve procCfg.Name
// with an idle, compatible executor, and if found, dispatches cmd to
// it. The returned bool mirrors the "no pool available" outcome: false
// with a nil error means no preallocated pool could take the command,
// which pipeline execution should treat as "fall through to the
// normal ad hoc execution path", not as a failure.
func (r *Registry) RequestExecutor(ctx context.Context, cmd *pipeline.Command, procCfg pipeline.ProcessedConfig, outputLog io.Writer) (bool, error) {
	r.mu.RLock()
	candidates := make([]*pool.ExecutorPool, 0, len(r.pools))
	for _, ep := range r.pools {
		if ep.Config.Serves(procCfg.Name) {
			candidates = append(candidates, ep)
		}
	}
	r.mu.RUnlock()

	for _, ep := range candidates {
		pe, ok := ep.Take(procCfg)
		if !ok {
			continue
		}
		if err := pe.Execute(ctx, cmd, outputLog); err != nil {
			ep.Release(pe)
			return false, fmt.Errorf("dispatching to pool %q: %w", ep.Config.Name, err)
		}
		return true, nil
	}
	return false, nil
}

// Pool returns the named pool, for status reporting.
func (r *Registry) Pool(name string) (*pool.ExecutorPool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.pools[name]
	return ep, ok
}

// PoolNames returns the names of every registered pool, in no
// particular order.
func (r *Registry) PoolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	return names
}

// ShutdownAll stops every non-persistent registered pool. Persistent
// pools are skipped: their wrappers are meant to outlive this
// controller process and get picked back up by SearchForExistingPools
// on the next start, so tearing them down here on a routine exit would
// defeat the whole point of persisting them.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	pools := r.pools
	remaining := make(map[string]*pool.ExecutorPool)
	r.mu.Unlock()

	var firstErr error
	for name, ep := range pools {
		if ep.Config.Persist {
			remaining[name] = ep
			continue
		}
		if err := ep.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutting down pool %q: %w", name, err)
		}
	}

	r.mu.Lock()
	r.pools = remaining
	r.mu.Unlock()

	return firstErr
}

// ShutdownPool stops and deregisters a single named pool, leaving the
// rest of the registry untouched. Used by the operator CLI's "stop"
// command to drain one pool without restarting the whole controller.
func (r *Registry) ShutdownPool(ctx context.Context, name string) error {
	r.mu.Lock()
	ep, ok := r.pools[name]
	if ok {
		delete(r.pools, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("shutting down pool %q: no such pool", name)
	}
	return ep.Shutdown(ctx)
}
