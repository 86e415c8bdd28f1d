package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/pipeline"
	"github.com/bpipe-run/preallocpool/internal/wrapper"
)

// PersistedDescriptor is the on-disk record of one PooledExecutor,
// written under .bpipe/pools/<name>/<hostCommandID>. The filename is
// hostCommandID itself, all-digit, matching the backend's own job id
// convention; there is no extension. Each reservation gets its own
// file, so a crash mid-write only ever corrupts one descriptor.
type PersistedDescriptor struct {
	HostCommandID  string          `json:"hostCommandID"`
	PoolName       string          `json:"poolName"`
	CommandTmpRoot string          `json:"commandTmpRoot"`
	CreateTimeMs   int64           `json:"createTimeMs"`
	Executor       json.RawMessage `json:"executor"`
}

// descriptorPath returns the path a descriptor for hostCommandID would
// live at under poolDir (.bpipe/pools/<name>).
func descriptorPath(poolDir, hostCommandID string) string {
	return filepath.Join(poolDir, hostCommandID)
}

// isAllDigit reports whether name is non-empty and every byte is an
// ASCII digit, the filename convention descriptors use (matching the
// backend's own job id convention).
func isAllDigit(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}

// SaveDescriptor writes pe's descriptor to poolDir, creating it if
// necessary. Called only when PoolConfig.Persist is set.
func SaveDescriptor(poolDir string, pe *PooledExecutor) error {
	payload, err := backend.MarshalExecutor(pe.executor)
	if err != nil {
		return fmt.Errorf("marshaling executor for persistence: %w", err)
	}

	desc := PersistedDescriptor{
		HostCommandID:  pe.HostCommandID(),
		PoolName:       pe.PoolConfig.Name,
		CommandTmpRoot: pe.CommandTmpRoot,
		CreateTimeMs:   pe.Command.CreateTimeMs,
		Executor:       payload,
	}

	if err := os.MkdirAll(poolDir, 0755); err != nil {
		return fmt.Errorf("creating pool descriptor directory: %w", err)
	}

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling descriptor: %w", err)
	}

	tmp := descriptorPath(poolDir, desc.HostCommandID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}
	return os.Rename(tmp, descriptorPath(poolDir, desc.HostCommandID))
}

// RemoveDescriptor deletes the descriptor for hostCommandID, if present.
// Called once the executor it describes has been stopped.
func RemoveDescriptor(poolDir, hostCommandID string) error {
	err := os.Remove(descriptorPath(poolDir, hostCommandID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing descriptor: %w", err)
	}
	return nil
}

// SearchForExistingPools loads every descriptor under poolDir and
// reconnects the ones whose backend still reports RUNNING, discarding
// the rest: a descriptor whose backend has gone away is not an error,
// just stale state to be cleaned up. renderer is threaded through so a
// reconnected ClusterExecutor gets its template renderer wired back in
// (it cannot itself be unmarshaled).
func SearchForExistingPools(poolDir string, cfg Config, renderer backend.TemplateRenderer, logger *zap.Logger) ([]*PooledExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(poolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing pool descriptors: %w", err)
	}

	var reconnected []*PooledExecutor
	for _, entry := range entries {
		if entry.IsDir() || !isAllDigit(entry.Name()) {
			continue
		}

		path := filepath.Join(poolDir, entry.Name())
		pe, err := connectDescriptor(path, cfg, renderer, logger)
		if errors.Is(err, ErrStatusNotRunning) {
			_ = os.Remove(path)
			continue
		}
		if err != nil {
			logger.Warn("discarding stale pool descriptor", zap.String("path", path), zap.Error(err))
			_ = os.Remove(path)
			continue
		}
		if pe == nil {
			_ = os.Remove(path)
			continue
		}
		reconnected = append(reconnected, pe)
	}
	return reconnected, nil
}

// connectDescriptor loads one descriptor file and, if its backend
// executor is still running, returns a reconnected PooledExecutor. A
// descriptor that was read fine but whose executor is no longer running
// yields an error wrapping ErrStatusNotRunning, which
// SearchForExistingPools discards without logging.
func connectDescriptor(path string, cfg Config, renderer backend.TemplateRenderer, logger *zap.Logger) (*PooledExecutor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}

	var desc PersistedDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}

	exec, err := backend.UnmarshalExecutor(desc.Executor)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling executor: %w", err)
	}
	if cl, ok := exec.(*backend.ClusterExecutor); ok {
		cl.SetRenderer(renderer)
	}

	status, err := exec.StatusOf(context.Background())
	if err != nil {
		return nil, fmt.Errorf("checking backend status: %w", err)
	}
	if status != backend.StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrStatusNotRunning, status)
	}

	proto, err := wrapper.New(desc.CommandTmpRoot, desc.HostCommandID)
	if err != nil {
		return nil, err
	}

	wrapperCmd := &pipeline.Command{ID: desc.HostCommandID, Name: cfg.Name, CreateTimeMs: desc.CreateTimeMs}

	pe := &PooledExecutor{
		PoolConfig:     cfg,
		Command:        wrapperCmd,
		CommandTmpRoot: desc.CommandTmpRoot,
		hostCommandID:  desc.HostCommandID,
		executor:       exec,
		protocol:       proto,
		outputLog:      &wrapper.ForwardingSink{},
		logger:         logger.With(zap.String("hostCommandId", desc.HostCommandID), zap.String("pool", cfg.Name)),
		nowFn:          time.Now,
		state:          StateIdle,
	}
	return pe, nil
}
