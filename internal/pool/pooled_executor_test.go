package pool

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bpipe-run/preallocpool/internal/pipeline"
	"github.com/bpipe-run/preallocpool/internal/wrapper"
)

func newTestExecutor(t *testing.T) (*PooledExecutor, *fakeExecutor) {
	t.Helper()
	tmpDir := t.TempDir()
	exec := newFakeExecutor("101")
	cfg := Config{Name: "rscript", Jobs: 1}
	wrapperCmd := &pipeline.Command{ID: "wrapper-1", Name: "rscript"}

	pe := New(cfg, wrapperCmd, exec, tmpDir, nil)
	if err := pe.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return pe, exec
}

func TestPooledExecutor_StartAssignsHostCommandID(t *testing.T) {
	pe, _ := newTestExecutor(t)
	if pe.HostCommandID() != "101" {
		t.Errorf("expected hostCommandID 101, got %q", pe.HostCommandID())
	}
	if pe.State() != StateIdle {
		t.Errorf("expected idle after start, got %s", pe.State())
	}
}

func TestPooledExecutor_ExecuteRejectsWhenOccupied(t *testing.T) {
	pe, _ := newTestExecutor(t)
	cmd := &pipeline.Command{ID: "cmd-1", CommandText: "echo hi"}

	if err := pe.Execute(context.Background(), cmd, nil); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}

	other := &pipeline.Command{ID: "cmd-2", CommandText: "echo bye"}
	err := pe.Execute(context.Background(), other, nil)
	if err != ErrOccupied {
		t.Errorf("expected ErrOccupied, got %v", err)
	}
}

func TestPooledExecutor_ExecuteRejectsWhenTerminated(t *testing.T) {
	pe, _ := newTestExecutor(t)
	if err := pe.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	cmd := &pipeline.Command{ID: "cmd-1", CommandText: "echo hi"}
	if err := pe.Execute(context.Background(), cmd, nil); err != ErrTerminated {
		t.Errorf("expected ErrTerminated, got %v", err)
	}
}

type releaseRecorder struct {
	released []*PooledExecutor
}

func (r *releaseRecorder) Release(pe *PooledExecutor) {
	r.released = append(r.released, pe)
}

func TestPooledExecutor_WaitForReleasesToOwner(t *testing.T) {
	pe, _ := newTestExecutor(t)
	rec := &releaseRecorder{}
	pe.SetOnFinish(rec)

	cmd := &pipeline.Command{ID: "cmd-1", CommandText: "echo hi"}
	if err := pe.Execute(context.Background(), cmd, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	exitPath := pe.Protocol().Paths.Dir + "/cmd-1.pool.exit"
	savedDelay := wrapper.ExitSettleDelay
	savedPoll := wrapper.ExitPollInterval
	wrapper.ExitSettleDelay = time.Millisecond
	wrapper.ExitPollInterval = 5 * time.Millisecond
	defer func() {
		wrapper.ExitSettleDelay = savedDelay
		wrapper.ExitPollInterval = savedPoll
	}()

	if err := os.WriteFile(exitPath, []byte("0"), 0644); err != nil {
		t.Fatalf("writing exit file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := pe.WaitFor(ctx)
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if pe.State() != StateIdle {
		t.Errorf("expected idle after WaitFor, got %s", pe.State())
	}
	if len(rec.released) != 1 || rec.released[0] != pe {
		t.Errorf("expected onFinish to be called with pe exactly once, got %+v", rec.released)
	}
}

func TestPooledExecutor_CanAcceptWalltime(t *testing.T) {
	pe, _ := newTestExecutor(t)
	pe.PoolConfig.Walltime = 5 * time.Minute
	pe.Command.CreateTimeMs = 0
	pe.nowFn = func() time.Time { return time.UnixMilli(0) }

	if !pe.CanAccept(pipeline.ProcessedConfig{Walltime: 0}) {
		t.Error("expected no declared walltime to always fit")
	}
	if !pe.CanAccept(pipeline.ProcessedConfig{Walltime: (4 * time.Minute).Milliseconds()}) {
		t.Error("expected walltime within budget to fit")
	}
	if pe.CanAccept(pipeline.ProcessedConfig{Walltime: (10 * time.Minute).Milliseconds()}) {
		t.Error("expected walltime exceeding budget to be rejected")
	}
}

// TestPooledExecutor_CanAcceptWalltimeRemainingBudget exercises the
// elapsed-time accounting: a pool's walltime is a ceiling on the
// wrapper's total lifetime, not a per-request budget, so a request must
// be checked against what's left, not against the pool's full walltime.
func TestPooledExecutor_CanAcceptWalltimeRemainingBudget(t *testing.T) {
	pe, _ := newTestExecutor(t)
	pe.PoolConfig.Walltime = 60 * time.Second
	pe.Command.CreateTimeMs = 0
	pe.nowFn = func() time.Time { return time.UnixMilli(55000) }

	if pe.CanAccept(pipeline.ProcessedConfig{Walltime: 10000}) {
		t.Error("expected a request exceeding the remaining 5s budget to be rejected")
	}
	if !pe.CanAccept(pipeline.ProcessedConfig{Walltime: 5000}) {
		t.Error("expected a request fitting exactly in the remaining 5s budget to be accepted")
	}
}
