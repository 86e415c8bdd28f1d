package backend

import "time"

// pidPollInterval governs how often a reconnected LocalProcessExecutor
// re-checks PID liveness while WaitFor is blocked. A var, not a const,
// so tests can shrink it.
var pidPollInterval = time.Second

func pidPollTick() <-chan time.Time {
	return time.After(pidPollInterval)
}
