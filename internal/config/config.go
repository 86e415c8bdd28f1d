// Package config loads the preallocate section of the host pipeline
// tool's configuration file: read the whole YAML document, then
// resolve each entry into a named pool config with its defaults
// applied.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bpipe-run/preallocpool/internal/backend"
	"github.com/bpipe-run/preallocpool/internal/pool"
	"github.com/bpipe-run/preallocpool/internal/walltime"
)

// BackendOptions is the YAML shape of one pool's backend section.
type BackendOptions struct {
	Kind           string `yaml:"kind"`
	SubmitTemplate string `yaml:"submitTemplate"`
	PollTemplate   string `yaml:"pollTemplate"`
	CancelTemplate string `yaml:"cancelTemplate"`
	Queue          string `yaml:"queue"`
}

// PoolEntry is the YAML shape of one preallocate list entry, matching
// pool.Config field-for-field before defaulting is applied.
type PoolEntry struct {
	Name                string         `yaml:"name"`
	Configs             []string       `yaml:"configs"`
	Jobs                int            `yaml:"jobs"`
	Persist             bool           `yaml:"persist"`
	Walltime            string         `yaml:"walltime"`
	DebugPooledExecutor bool           `yaml:"debugPooledExecutor"`
	Backend             BackendOptions `yaml:"backend"`
}

// File is the root document shape: everything lives under the single
// "preallocate" key so it can coexist with the host tool's other
// configuration sections.
type File struct {
	Preallocate []PoolEntry `yaml:"preallocate"`
}

// BaseDir returns the .bpipe directory under the user's home, the root
// for command-tmp files, pool descriptors and this configuration file.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bpipe")
}

// ConfigPath returns the path to the preallocate configuration file.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.yaml")
}

// Load reads ConfigPath and returns the resolved []pool.Config it
// describes. A missing file is not an error: it yields an empty slice,
// meaning no pools are preallocated.
func Load() ([]pool.Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading preallocate config: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into resolved []pool.Config: an entry
// with no configs list defaults to serving only its own section name.
func Parse(data []byte) ([]pool.Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing preallocate config: %w", err)
	}

	cfgs := make([]pool.Config, 0, len(file.Preallocate))
	for _, entry := range file.Preallocate {
		cfg, err := resolve(entry)
		if err != nil {
			return nil, fmt.Errorf("resolving pool %q: %w", entry.Name, err)
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func resolve(entry PoolEntry) (pool.Config, error) {
	if entry.Name == "" {
		return pool.Config{}, fmt.Errorf("pool entry is missing a name")
	}
	if entry.Jobs <= 0 {
		return pool.Config{}, fmt.Errorf("pool %q must declare jobs > 0", entry.Name)
	}

	configs := entry.Configs
	if len(configs) == 0 {
		configs = []string{entry.Name}
	}

	var wallDuration time.Duration
	if entry.Walltime != "" {
		ms, err := walltime.ToMs(entry.Walltime)
		if err != nil {
			return pool.Config{}, fmt.Errorf("parsing walltime: %w", err)
		}
		wallDuration = time.Duration(ms) * time.Millisecond
	}

	return pool.Config{
		Name:                entry.Name,
		Configs:             configs,
		Jobs:                entry.Jobs,
		Persist:             entry.Persist,
		Walltime:            wallDuration,
		DebugPooledExecutor: entry.DebugPooledExecutor,
		Backend: backend.Options{
			Kind:           entry.Backend.Kind,
			SubmitTemplate: entry.Backend.SubmitTemplate,
			PollTemplate:   entry.Backend.PollTemplate,
			CancelTemplate: entry.Backend.CancelTemplate,
			Queue:          entry.Backend.Queue,
		},
	}, nil
}

// EnsureDirs creates the directory layout a controller process needs
// before it can provision any pool: the command-tmp and
// pool-descriptor roots.
func EnsureDirs() error {
	dirs := []string{
		BaseDir(),
		filepath.Join(BaseDir(), "commandtmp"),
		filepath.Join(BaseDir(), "pools"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}
