// Package pool implements the pre-allocation executor pool itself:
// PooledExecutor, its persistence, and the ExecutorPool that owns a
// fixed-size set of them.
package pool

import (
	"time"

	"github.com/bpipe-run/preallocpool/internal/backend"
)

// Config is the immutable descriptor of one named pool. Configs
// defaults to []string{Name} when empty; callers normally get that
// default applied by internal/config, not here, so that a Config
// constructed directly in a test is unambiguous about whether the
// default was actually applied.
type Config struct {
	Name                string
	Configs             []string
	Jobs                int
	Persist             bool
	Walltime            time.Duration // zero = absent
	DebugPooledExecutor bool
	Backend             backend.Options
}

// Serves reports whether this pool may serve commands resolved against
// the named backend configuration.
func (c Config) Serves(configName string) bool {
	for _, name := range c.Configs {
		if name == configName {
			return true
		}
	}
	return false
}
