package pool

import (
	"context"
	"io"
	"sync"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
)

// fakeExecutor is a minimal in-memory backend.CommandExecutor double,
// standing in for LocalProcessExecutor in pool-level tests that don't
// want to spawn real processes.
type fakeExecutor struct {
	mu      sync.Mutex
	jobID   string
	jobName string
	status  backend.Status
	started bool
}

func newFakeExecutor(jobID string) *fakeExecutor {
	return &fakeExecutor{jobID: jobID, status: backend.StatusRunning}
}

func (e *fakeExecutor) Start(ctx context.Context, cmd *pipeline.Command, out, errw io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
	return nil
}

func (e *fakeExecutor) WaitFor(ctx context.Context) (int, error) {
	<-ctx.Done()
	return -1, ctx.Err()
}

func (e *fakeExecutor) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = backend.StatusComplete
	return nil
}

func (e *fakeExecutor) StatusOf(ctx context.Context) (backend.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}

func (e *fakeExecutor) SetJobName(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobName = name
	return nil
}

func (e *fakeExecutor) JobID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobID
}

type fakeFactory struct {
	nextID int
}

func (f *fakeFactory) CreateExecutor(opts backend.Options) (backend.CommandExecutor, error) {
	f.nextID++
	return newFakeExecutor(intToDigits(f.nextID)), nil
}

func intToDigits(n int) string {
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}
