package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports that the source vanished before it could be processed.
	ErrNotFound = errors.New("source not found")
	// ErrConflict reports a same-named entry already present in processing/.
	ErrConflict = errors.New("quarantine conflict")
	// ErrInfra reports a filesystem failure (mkdir, copy, move).
	ErrInfra = errors.New("filesystem error")
	// ErrUnsupportedType marks files with no registered handler. It is
	// surfaced as a warning and never aborts a job.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrHandler reports a handler failure. The file stays in processing/.
	ErrHandler = errors.New("handler failed")
)

// wrap tags err with marker and a "stage: operation: message" detail so
// errors.Is classifies it and the text explains where it happened.
func wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInfra
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}

// Kind maps an error to the label used in history records and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrHandler):
		return "handler"
	case errors.Is(err, ErrInfra):
		return "infra"
	default:
		return "unknown"
	}
}

// Hint returns an operator-facing next step for a classified failure.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "file was removed or renamed before processing; nothing to do unless it reappears"
	case errors.Is(err, ErrConflict):
		return "a file with the same name is still in processing/; inspect or clear it, then touch the source to retry"
	case errors.Is(err, ErrHandler):
		return "inspect the file left in processing/ and move it back to the watched directory once fixed"
	case errors.Is(err, ErrInfra):
		return "check permissions and free space under the root directory"
	default:
		return "check logs for details"
	}
}
