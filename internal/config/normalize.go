package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeHandlers()
	c.normalizeLogging()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = Duration(defaultNtfyTimeout)
	}
	return nil
}

func (c *Config) normalizeWatch() error {
	var err error
	c.Watch.Directory = strings.TrimSpace(c.Watch.Directory)
	if c.Watch.Directory == "" {
		if value, ok := os.LookupEnv("INTAKE_WATCH_DIR"); ok {
			c.Watch.Directory = strings.TrimSpace(value)
		}
	}
	if c.Watch.Directory, err = expandPath(c.Watch.Directory); err != nil {
		return fmt.Errorf("watch.directory: %w", err)
	}
	if c.Watch.RootDirectory, err = expandPath(strings.TrimSpace(c.Watch.RootDirectory)); err != nil {
		return fmt.Errorf("watch.root_directory: %w", err)
	}
	if c.Watch.DebounceWindow == 0 {
		c.Watch.DebounceWindow = Duration(defaultDebounceWindow)
	}
	if c.Watch.SweepInterval == 0 {
		c.Watch.SweepInterval = Duration(defaultSweepInterval)
		if c.Watch.SweepInterval > c.Watch.DebounceWindow {
			c.Watch.SweepInterval = c.Watch.DebounceWindow
		}
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

// normalizeHandlers lowercases extensions, adds the leading dot, and drops
// blank entries.
func (c *Config) normalizeHandlers() {
	if len(c.Handlers.Extensions) == 0 {
		c.Handlers.Extensions = map[string]string{".txt": defaultTextHandler}
		return
	}
	normalized := make(map[string]string, len(c.Handlers.Extensions))
	for ext, handler := range c.Handlers.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		handler = strings.ToLower(strings.TrimSpace(handler))
		if ext == "" || ext == "." || handler == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[ext] = handler
	}
	c.Handlers.Extensions = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
