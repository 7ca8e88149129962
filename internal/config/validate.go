package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable. The watched directory itself
// is checked by ValidateWatch, because commands such as `history` run without
// one.
func (c *Config) Validate() error {
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateHandlers(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// ValidateWatch checks that the watched directory is set, exists, and does
// not overlap the archive directories under the root.
func (c *Config) ValidateWatch() error {
	return c.validateWatch()
}

func (c *Config) validateTiming() error {
	if c.Watch.DebounceWindow <= 0 {
		return errors.New("watch.debounce_window must be positive")
	}
	if c.Watch.SweepInterval <= 0 {
		return errors.New("watch.sweep_interval must be positive")
	}
	if c.Watch.SweepInterval > c.Watch.DebounceWindow {
		return fmt.Errorf("watch.sweep_interval (%s) must not exceed watch.debounce_window (%s)",
			c.Watch.SweepInterval.Std(), c.Watch.DebounceWindow.Std())
	}
	if c.Watch.MaxPending < 0 {
		return errors.New("watch.max_pending must be zero or positive")
	}
	return nil
}

func (c *Config) validateHandlers() error {
	for ext := range c.Handlers.Extensions {
		if strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("handlers.extensions: invalid extension %q", ext)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validateWatch() error {
	dir := c.Watch.Directory
	if dir == "" {
		return errors.New("watch.directory is required (pass it as an argument or set INTAKE_WATCH_DIR)")
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist", dir)
		}
		return fmt.Errorf("stat watch directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	root := c.RootDir()
	for _, name := range []string{"backup", "processing", "complete"} {
		if filepath.Join(root, name) == dir {
			return fmt.Errorf("watch.directory %s collides with the %s directory under %s", dir, name, root)
		}
	}
	return nil
}
