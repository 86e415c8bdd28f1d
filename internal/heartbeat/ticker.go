// Package heartbeat implements the controller side of the wrapper
// liveness signal: on a fixed interval, every watched PooledExecutor
// gets its heartbeat file refreshed so the remote wrapper knows the
// controller is still alive.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bpipe-run/preallocpool/internal/wrapper"
)

// Watchable is the subset of *pool.PooledExecutor the ticker needs.
// Declared here, not imported from internal/pool, to avoid a dependency
// cycle (pool registers/deregisters its own executors with a Ticker it
// owns).
type Watchable interface {
	HostCommandID() string
	Protocol() *wrapper.Protocol
}

// Ticker refreshes the heartbeat file of every watched executor once
// per Interval: a ticker loop with a stop channel and per-ctx
// cancellation driving a one-way keepalive write.
type Ticker struct {
	Interval time.Duration
	logger   *zap.Logger
	nowFn    func() time.Time

	mu      sync.Mutex
	watched map[string]Watchable
	stopCh  chan struct{}
}

// NewTicker constructs a Ticker. interval <= 0 defaults to 10s, matching
// the wrapper protocol's default HeartbeatInterval.
func NewTicker(interval time.Duration, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{
		Interval: interval,
		logger:   logger,
		nowFn:    time.Now,
		watched:  make(map[string]Watchable),
	}
}

// Watch registers pe to receive heartbeat refreshes until Forget is called.
func (t *Ticker) Watch(pe Watchable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watched[pe.HostCommandID()] = pe
}

// Forget stops refreshing pe's heartbeat, used once it is stopped.
func (t *Ticker) Forget(pe Watchable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.watched, pe.HostCommandID())
}

// Start runs the tick loop in a goroutine until ctx is canceled or Stop
// is called.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.stopCh == nil {
		t.stopCh = make(chan struct{})
	}
	stopCh := t.stopCh
	t.mu.Unlock()

	go t.loop(ctx, stopCh)
}

// Stop ends the tick loop started by Start.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
}

func (t *Ticker) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	t.mu.Lock()
	snapshot := make([]Watchable, 0, len(t.watched))
	for _, pe := range t.watched {
		snapshot = append(snapshot, pe)
	}
	t.mu.Unlock()

	nowMs := t.nowFn().UnixMilli()
	for _, pe := range snapshot {
		if err := pe.Protocol().HeartbeatIfAbsent(nowMs); err != nil {
			t.logger.Warn("failed to refresh heartbeat",
				zap.String("hostCommandId", pe.HostCommandID()), zap.Error(err))
		}
	}
}
