// Package pipeline models the external collaborators that this
// subsystem receives commands from. The pipeline DSL and stage engine
// themselves are out of scope; this package only carries the fields of
// Command that the pool needs to adopt, dispatch and account for a
// command.
package pipeline

import "sync"

// ProcessedConfig is the resolved per-command configuration handed to
// the pool alongside a Command. Walltime is the zero value when absent:
// no walltime on either side means no rejection on time grounds.
type ProcessedConfig struct {
	Name     string
	Walltime int64 // milliseconds; 0 = absent
}

// CommandExecutorRef is the minimal surface a Command needs to expose
// the PooledExecutor that adopted it, without internal/pipeline having
// to import internal/pool (which would create an import cycle, since
// pool depends on pipeline for Command itself). Concrete pooled
// executors implement this trivially.
type CommandExecutorRef interface {
	HostCommandID() string
}

// Command is one pipeline-level unit of work. Exactly one PooledExecutor
// may adopt a Command at a time; Executor is set by the adopting
// executor's Execute method and is nil until adoption.
type Command struct {
	ID              string
	Name            string
	CommandText     string
	CreateTimeMs    int64
	ProcessedConfig ProcessedConfig

	mu       sync.Mutex
	executor CommandExecutorRef
}

// Adopt binds this command to the given executor. It is an error for a
// command to be adopted twice without an intervening Release.
func (c *Command) Adopt(exec CommandExecutorRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executor != nil {
		return false
	}
	c.executor = exec
	return true
}

// Release clears the adoption, allowing the command to (in principle)
// be retried against a different executor by the caller.
func (c *Command) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executor = nil
}

// Executor returns the executor that currently owns this command, if any.
func (c *Command) Executor() (CommandExecutorRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executor, c.executor != nil
}
