package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Window is one rate-limit class: at most Max calls per WindowMs.
type Window struct {
	Enabled  bool  `yaml:"enabled"`
	WindowMs int64 `yaml:"windowMs"`
	Max      int   `yaml:"max"`
}

func (w Window) Duration() time.Duration { return time.Duration(w.WindowMs) * time.Millisecond }

// Runtime is the hot-reloadable snapshot consumed by the queue components.
type Runtime struct {
	BatchSize           int               `yaml:"batchSize"`
	LeaseTimeoutSeconds int               `yaml:"leaseTimeoutSeconds"`
	CheckClasses        []int             `yaml:"checkClasses"`
	RateLimits          map[string]Window `yaml:"rateLimits"`
}

func DefaultRuntime() Runtime {
	return Runtime{
		BatchSize:           50,
		LeaseTimeoutSeconds: 120,
		CheckClasses:        []int{1, 2},
		RateLimits: map[string]Window{
			"auth":      {Enabled: true, WindowMs: 15 * 60 * 1000, Max: 20},
			"api":       {Enabled: true, WindowMs: 60 * 1000, Max: 300},
			"cardcheck": {Enabled: true, WindowMs: 60 * 1000, Max: 600},
		},
	}
}

func (r Runtime) LeaseTimeout() time.Duration {
	return time.Duration(r.LeaseTimeoutSeconds) * time.Second
}

func (r Runtime) KnowsCheckClass(class int) bool {
	for _, c := range r.CheckClasses {
		if c == class {
			return true
		}
	}
	return false
}

// Limit returns the window for a class; unknown classes are disabled.
func (r Runtime) Limit(class string) Window {
	return r.RateLimits[class]
}

func (r Runtime) Validate() error {
	if r.BatchSize < 1 {
		return fmt.Errorf("batchSize must be >= 1, got %d", r.BatchSize)
	}
	if r.LeaseTimeoutSeconds < 1 {
		return fmt.Errorf("leaseTimeoutSeconds must be >= 1, got %d", r.LeaseTimeoutSeconds)
	}
	if len(r.CheckClasses) == 0 {
		return errors.New("checkClasses must not be empty")
	}
	for name, w := range r.RateLimits {
		if w.Enabled && (w.WindowMs <= 0 || w.Max <= 0) {
			return fmt.Errorf("rateLimits.%s: windowMs and max must be positive", name)
		}
	}
	return nil
}

// runtimeFile mirrors Runtime, but keeps each rate-limit class as a raw node
// so it can be decoded over that class's default.
type runtimeFile struct {
	BatchSize           int                  `yaml:"batchSize"`
	LeaseTimeoutSeconds int                  `yaml:"leaseTimeoutSeconds"`
	CheckClasses        []int                `yaml:"checkClasses"`
	RateLimits          map[string]yaml.Node `yaml:"rateLimits"`
}

// ParseRuntime decodes YAML over the defaults, so a file only needs the keys
// it changes, down to single fields of a rate-limit class. Classes with no
// default start disabled.
func ParseRuntime(data []byte) (Runtime, error) {
	r := DefaultRuntime()
	var file runtimeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Runtime{}, fmt.Errorf("config: decode runtime: %w", err)
	}
	if file.BatchSize != 0 {
		r.BatchSize = file.BatchSize
	}
	if file.LeaseTimeoutSeconds != 0 {
		r.LeaseTimeoutSeconds = file.LeaseTimeoutSeconds
	}
	if file.CheckClasses != nil {
		r.CheckClasses = file.CheckClasses
	}
	for name, node := range file.RateLimits {
		w := r.RateLimits[name]
		if err := node.Decode(&w); err != nil {
			return Runtime{}, fmt.Errorf("config: decode rateLimits.%s: %w", name, err)
		}
		r.RateLimits[name] = w
	}
	if err := r.Validate(); err != nil {
		return Runtime{}, fmt.Errorf("config: invalid runtime: %w", err)
	}
	return r, nil
}

// Provider supplies runtime snapshots.
type Provider interface {
	GetConfig(ctx context.Context) (Runtime, error)
}

// FileProvider reads a YAML file on every call. A missing file yields the
// defaults.
type FileProvider struct {
	Path string
}

func (p FileProvider) GetConfig(_ context.Context) (Runtime, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultRuntime(), nil
	}
	if err != nil {
		return Runtime{}, fmt.Errorf("config: read %s: %w", p.Path, err)
	}
	return ParseRuntime(data)
}

// Static always returns the same snapshot.
type Static Runtime

func (s Static) GetConfig(context.Context) (Runtime, error) { return Runtime(s), nil }

// Current returns the snapshot itself, so a Static can be handed directly to
// components that read configuration.
func (s Static) Current() Runtime { return Runtime(s) }
