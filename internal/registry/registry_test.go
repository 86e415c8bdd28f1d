package registry

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
	"github.com/bpipe-run/preallocpool/internal/pool"
)

type fakeExecutor struct {
	mu    sync.Mutex
	jobID string
}

func (e *fakeExecutor) Start(ctx context.Context, cmd *pipeline.Command, out, errw io.Writer) error {
	return nil
}
func (e *fakeExecutor) WaitFor(ctx context.Context) (int, error) { <-ctx.Done(); return -1, ctx.Err() }
func (e *fakeExecutor) Stop(ctx context.Context) error           { return nil }
func (e *fakeExecutor) StatusOf(ctx context.Context) (backend.Status, error) {
	return backend.StatusRunning, nil
}
func (e *fakeExecutor) SetJobName(name string) error { return nil }
func (e *fakeExecutor) JobID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobID
}

type fakeFactory struct {
	mu     sync.Mutex
	nextID int
}

func (f *fakeFactory) CreateExecutor(opts backend.Options) (backend.CommandExecutor, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	return &fakeExecutor{jobID: strconv.Itoa(id)}, nil
}

func newTestRegistry(t *testing.T, cfgs []pool.Config) *Registry {
	t.Helper()
	r := New(t.TempDir(), nil)
	if err := r.InitPools(context.Background(), &fakeFactory{}, nil, nil, cfgs); err != nil {
		t.Fatalf("InitPools failed: %v", err)
	}
	return r
}

func TestRegistry_InitPoolsRejectsDuplicateNames(t *testing.T) {
	r := New(t.TempDir(), nil)
	cfgs := []pool.Config{
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
	}
	if err := r.InitPools(context.Background(), &fakeFactory{}, nil, nil, cfgs); err == nil {
		t.Fatal("expected an error initializing two pools with the same name")
	}
}

func TestRegistry_RequestExecutorDispatchesToServingPool(t *testing.T) {
	r := newTestRegistry(t, []pool.Config{
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
	})

	cmd := &pipeline.Command{ID: "cmd-1", CommandText: "echo hi"}
	ok, err := r.RequestExecutor(context.Background(), cmd, pipeline.ProcessedConfig{Name: "rscript"}, nil)
	if err != nil {
		t.Fatalf("RequestExecutor failed: %v", err)
	}
	if !ok {
		t.Fatal("expected the rscript pool to accept the command")
	}
}

func TestRegistry_RequestExecutorNoServingPool(t *testing.T) {
	r := newTestRegistry(t, []pool.Config{
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
	})

	cmd := &pipeline.Command{ID: "cmd-1", CommandText: "echo hi"}
	ok, err := r.RequestExecutor(context.Background(), cmd, pipeline.ProcessedConfig{Name: "python"}, nil)
	if err != nil {
		t.Fatalf("expected no error for an unserved config, got %v", err)
	}
	if ok {
		t.Fatal("expected no pool to claim a config it does not serve")
	}
}

func TestRegistry_RequestExecutorExhaustedPool(t *testing.T) {
	r := newTestRegistry(t, []pool.Config{
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
	})

	first := &pipeline.Command{ID: "cmd-1", CommandText: "echo hi"}
	ok, err := r.RequestExecutor(context.Background(), first, pipeline.ProcessedConfig{Name: "rscript"}, nil)
	if err != nil || !ok {
		t.Fatalf("expected first request to succeed, ok=%v err=%v", ok, err)
	}

	second := &pipeline.Command{ID: "cmd-2", CommandText: "echo bye"}
	ok, err = r.RequestExecutor(context.Background(), second, pipeline.ProcessedConfig{Name: "rscript"}, nil)
	if err != nil {
		t.Fatalf("expected no error when a pool is merely exhausted, got %v", err)
	}
	if ok {
		t.Fatal("expected the single-job pool to be exhausted")
	}
}

func TestRegistry_ShutdownAllClearsPools(t *testing.T) {
	r := newTestRegistry(t, []pool.Config{
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
	})

	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("ShutdownAll failed: %v", err)
	}
	if len(r.PoolNames()) != 0 {
		t.Errorf("expected no pools to remain after ShutdownAll, got %v", r.PoolNames())
	}
}

func TestRegistry_ShutdownAllSkipsPersistentPools(t *testing.T) {
	r := newTestRegistry(t, []pool.Config{
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
		{Name: "persistent", Configs: []string{"persistent"}, Jobs: 1, Persist: true},
	})

	if err := r.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("ShutdownAll failed: %v", err)
	}
	if _, ok := r.Pool("rscript"); ok {
		t.Error("expected the non-persistent pool to be shut down and removed")
	}
	if _, ok := r.Pool("persistent"); !ok {
		t.Error("expected the persistent pool to survive ShutdownAll")
	}
}

func TestRegistry_ShutdownPoolRemovesOnlyThatPool(t *testing.T) {
	r := newTestRegistry(t, []pool.Config{
		{Name: "rscript", Configs: []string{"rscript"}, Jobs: 1},
		{Name: "python", Configs: []string{"python"}, Jobs: 1},
	})

	if err := r.ShutdownPool(context.Background(), "rscript"); err != nil {
		t.Fatalf("ShutdownPool failed: %v", err)
	}
	if _, ok := r.Pool("rscript"); ok {
		t.Error("expected rscript pool to be gone after ShutdownPool")
	}
	if _, ok := r.Pool("python"); !ok {
		t.Error("expected python pool to remain untouched")
	}
}

func TestRegistry_ShutdownPoolUnknownName(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.ShutdownPool(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected an error shutting down a pool that was never registered")
	}
}
