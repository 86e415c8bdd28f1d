package pool

import "errors"

// Sentinel errors for this package. Not every failure mode has a
// sentinel here: an exhausted pool is reported to callers as a boolean
// ("no pool available"), not a Go error, since the pool itself is not
// at fault (see ExecutorPool.Take).
var (
	// ErrOccupied is returned by Execute when called against a
	// PooledExecutor that already has an adopted command.
	ErrOccupied = errors.New("pool: executor is already occupied")

	// ErrTerminated is returned by Execute against a PooledExecutor
	// that has already been stopped.
	ErrTerminated = errors.New("pool: executor is terminated")

	// ErrStatusNotRunning marks a persisted descriptor whose backend no
	// longer reports RUNNING; SearchForExistingPools discards these
	// silently, but callers that want to log the reason can check for
	// it.
	ErrStatusNotRunning = errors.New("pool: persisted executor is not running")
)
