package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"intake/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test:
// <base>/incoming is watched, <base> is the root, state and logs live under
// <base>/state. Options are applied after the defaults.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Watch.Directory = filepath.Join(base, "incoming")
	cfgVal.Watch.RootDirectory = base
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")

	if err := os.MkdirAll(cfgVal.Watch.Directory, 0o755); err != nil {
		t.Fatalf("mkdir watch dir: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDebounce overrides the debounce window and sweep interval.
func WithDebounce(window, sweep config.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.DebounceWindow = window
		b.cfg.Watch.SweepInterval = sweep
	}
}

// WithHandler maps an extension to a handler id.
func WithHandler(ext, handler string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Handlers.Extensions == nil {
			b.cfg.Handlers.Extensions = map[string]string{}
		}
		b.cfg.Handlers.Extensions[ext] = handler
	}
}

// WithoutScan disables the startup scan.
func WithoutScan() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.ScanOnStart = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Watch.RootDirectory
}
