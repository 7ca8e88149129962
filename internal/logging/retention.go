package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupOldLogs deletes files in dir matching pattern whose modification time
// is older than retentionDays. Paths in keep are never removed, and zero
// retention disables pruning. The current-run pointer (intake.log) must not
// match pattern.
func CleanupOldLogs(logger *slog.Logger, dir, pattern string, retentionDays int, keep ...string) {
	if retentionDays <= 0 || dir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		WarnWithContext(logger, "log retention skipped", "log_retention_failed",
			Error(err),
			String(FieldErrorHint, "check the retention pattern"),
			String(FieldImpact, "old run logs accumulate"),
		)
		return
	}

	kept := make(map[string]bool, len(keep))
	for _, p := range keep {
		kept[filepath.Clean(p)] = true
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, path := range matches {
		if kept[filepath.Clean(path)] {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String(FieldPath, path),
				Error(err),
				String(FieldErrorHint, "check permissions on paths.log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		if logger != nil {
			logger.Debug("log pruned",
				String(FieldPath, path),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
}
