package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Duration is a time.Duration that reads and writes Go duration strings
// ("2s", "750ms") in TOML files.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Watch contains the watched directory and debounce timing.
type Watch struct {
	Directory string `toml:"directory"`
	// RootDirectory holds backup/, processing/ and complete/. When empty the
	// parent of Directory is used.
	RootDirectory  string   `toml:"root_directory"`
	DebounceWindow Duration `toml:"debounce_window"`
	SweepInterval  Duration `toml:"sweep_interval"`
	// MaxPending bounds the number of paths being debounced at once. 0 means
	// unbounded.
	MaxPending  int  `toml:"max_pending"`
	ScanOnStart bool `toml:"scan_on_start"`
}

// Handlers maps file extensions (".txt") to handler identifiers ("text").
type Handlers struct {
	Extensions map[string]string `toml:"extensions"`
}

// Paths contains state and log locations.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains the optional Prometheus listener address.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Notifications contains the optional ntfy target for job outcomes.
type Notifications struct {
	NtfyTopic      string   `toml:"ntfy_topic"`
	RequestTimeout Duration `toml:"request_timeout"`
	// OnSuccess also reports archived files. Failures are always reported.
	OnSuccess bool `toml:"on_success"`
}

// Config encapsulates all configuration values for intake.
//
// Configuration sections by subsystem:
//   - Watch: watched directory, archive root, debounce and sweep timing
//   - Handlers: extension to handler mapping
//   - Paths: state (lock, pid, history database) and log directories
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus listener
//   - Notifications: ntfy topic for job outcomes
type Config struct {
	Watch         Watch         `toml:"watch"`
	Handlers      Handlers      `toml:"handlers"`
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/intake/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A missing file is not an error; defaults apply.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()
	// Left unset so normalize can fit the default to a short debounce window.
	cfg.Watch.SweepInterval = 0

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("intake.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// SetWatchDirectory overrides the watched directory (typically from the
// command line) and re-validates the watch section.
func (c *Config) SetWatchDirectory(dir string) error {
	expanded, err := expandPath(strings.TrimSpace(dir))
	if err != nil {
		return fmt.Errorf("watch.directory: %w", err)
	}
	c.Watch.Directory = expanded
	return c.validateWatch()
}

// RootDir returns the explicit root directory, or the parent of the watched
// directory when none is configured.
func (c *Config) RootDir() string {
	if c.Watch.RootDirectory != "" {
		return c.Watch.RootDirectory
	}
	if c.Watch.Directory == "" {
		return ""
	}
	return filepath.Dir(c.Watch.Directory)
}

// HistoryPath returns the location of the job history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the location of the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "intake.lock")
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
