package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"intake/internal/config"
	"intake/internal/daemon"
	"intake/internal/history"
	"intake/internal/logging"
	"intake/internal/preflight"
)

// Options configures watcher process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the intake watcher and blocks until ctx is cancelled, a
// termination signal arrives, or the watch subscription fails.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("intake-%s.log", runID))

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if failed := preflight.Failed(preflight.RunAll(cfg)); len(failed) > 0 {
		for _, r := range failed {
			logger.Error("preflight check failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_failed"),
			)
		}
		return fmt.Errorf("%s: %s", failed[0].Name, failed[0].Detail)
	}

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// The log pointer, PID file and retention belong to the instance holding
	// the lock. A refused start must leave them alone.
	if err := d.Lock(); err != nil {
		logger.Error("intake watcher refused to start",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_refused"),
			logging.String(logging.FieldErrorHint, "stop the running watcher or use a different paths.state_dir"),
		)
		return err
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update intake.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "intake-*.log", cfg.Logging.RetentionDays, logPath)

	pidPath := filepath.Join(cfg.Paths.StateDir, "intake.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	pruneHistory(signalCtx, logger, store, cfg.Logging.RetentionDays)

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	select {
	case <-signalCtx.Done():
		logger.Info("intake watcher shutting down",
			logging.String(logging.FieldEventType, "shutdown_requested"),
		)
		d.Stop()
		return nil
	case <-d.Done():
		d.Stop()
		if err := d.Err(); err != nil {
			return err
		}
		return errors.New("dispatcher stopped unexpectedly")
	}
}

// pruneHistory drops job records older than the log retention period.
func pruneHistory(ctx context.Context, logger *slog.Logger, store *history.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := store.Prune(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old job records are kept"),
		)
		return
	}
	if removed > 0 {
		logger.Info("pruned job history",
			logging.Int64("removed", removed),
			logging.Int("retention_days", retentionDays),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "intake.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
