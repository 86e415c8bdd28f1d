package pool

import "github.com/bpipe-run/preallocpool/internal/pipeline"

// acceptDimension is one pluggable predicate considered by
// PooledExecutor.CanAccept. Resource dimensions beyond walltime
// (memory, CPU) are expected to grow over time without a committed
// shape yet; modeling CanAccept as a slice of these instead of one big
// function body means adding a dimension later is additive, not a
// rewrite.
type acceptDimension func(pe *PooledExecutor, cfg pipeline.ProcessedConfig) bool

// acceptDimensions is the fixed, ordered list of dimensions currently
// enforced. Only walltime is real today; memory and CPU are reserved
// names with no defined comparison yet, so they are not represented
// here until that shape is decided.
var acceptDimensions = []acceptDimension{
	walltimeDimension,
}

// walltimeDimension rejects a command whose declared walltime exceeds
// the wrapper's *remaining* budget: the pool's configured walltime
// minus however long the wrapper has already been alive. A command
// with no declared walltime (zero) always fits; a pool with no
// configured walltime (zero) places no ceiling.
func walltimeDimension(pe *PooledExecutor, cfg pipeline.ProcessedConfig) bool {
	poolWalltimeMs := pe.PoolConfig.Walltime.Milliseconds()
	if poolWalltimeMs <= 0 {
		return true
	}
	if cfg.Walltime <= 0 {
		return true
	}
	elapsed := pe.nowFn().UnixMilli() - pe.Command.CreateTimeMs
	remaining := poolWalltimeMs - elapsed
	return cfg.Walltime <= remaining
}
