package pool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
)

func TestSaveAndSearchForExistingPools(t *testing.T) {
	baseDir := t.TempDir()
	commandTmpRoot := filepath.Join(baseDir, "commandtmp")
	poolDir := filepath.Join(baseDir, "pools", "rscript")

	exec := &backend.LocalProcessExecutor{}
	wrapperCmd := &pipeline.Command{ID: "wrapper-1", Name: "rscript", CommandText: "sleep 30"}
	cfg := Config{Name: "rscript", Configs: []string{"rscript"}}

	pe := New(cfg, wrapperCmd, exec, commandTmpRoot, nil)
	if err := pe.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pe.Stop(context.Background())

	if err := SaveDescriptor(poolDir, pe); err != nil {
		t.Fatalf("SaveDescriptor failed: %v", err)
	}

	reconnected, err := SearchForExistingPools(poolDir, cfg, nil, nil)
	if err != nil {
		t.Fatalf("SearchForExistingPools failed: %v", err)
	}
	if len(reconnected) != 1 {
		t.Fatalf("expected 1 reconnected executor, got %d", len(reconnected))
	}
	if reconnected[0].HostCommandID() != pe.HostCommandID() {
		t.Errorf("expected hostCommandID %s, got %s", pe.HostCommandID(), reconnected[0].HostCommandID())
	}
	if reconnected[0].State() != StateIdle {
		t.Errorf("expected reconnected executor to be idle, got %s", reconnected[0].State())
	}
}

func TestSearchForExistingPools_DiscardsCompletedExecutor(t *testing.T) {
	baseDir := t.TempDir()
	commandTmpRoot := filepath.Join(baseDir, "commandtmp")
	poolDir := filepath.Join(baseDir, "pools", "rscript")

	exec := &backend.LocalProcessExecutor{}
	wrapperCmd := &pipeline.Command{ID: "wrapper-1", Name: "rscript", CommandText: "true"}
	cfg := Config{Name: "rscript", Configs: []string{"rscript"}}

	pe := New(cfg, wrapperCmd, exec, commandTmpRoot, nil)
	if err := pe.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := SaveDescriptor(poolDir, pe); err != nil {
		t.Fatalf("SaveDescriptor failed: %v", err)
	}

	exec.WaitFor(context.Background()) // let "true" actually exit

	reconnected, err := SearchForExistingPools(poolDir, cfg, nil, nil)
	if err != nil {
		t.Fatalf("SearchForExistingPools failed: %v", err)
	}
	if len(reconnected) != 0 {
		t.Fatalf("expected a completed executor's descriptor to be discarded, got %d", len(reconnected))
	}
}

func TestRemoveDescriptor_MissingIsNotError(t *testing.T) {
	poolDir := t.TempDir()
	if err := RemoveDescriptor(poolDir, "999"); err != nil {
		t.Errorf("expected no error removing a missing descriptor, got %v", err)
	}
}
