package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized key for pipeline job identifiers.
	FieldJobID = "job_id"
	// FieldStage is the standardized key for pipeline stage names.
	FieldStage = "stage"
	// FieldPath is the standardized key for the file a log line concerns.
	FieldPath = "path"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorKind carries the pipeline failure classification.
	FieldErrorKind = "error_kind"
)

type contextKey int

const (
	jobIDKey contextKey = iota
	stageKey
)

// WithJobID returns a context carrying the pipeline job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// WithStage returns a context carrying the current pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// WithContext returns logger with the job_id and stage carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var args []any
	for _, key := range []struct {
		ctxKey contextKey
		field  string
	}{{jobIDKey, FieldJobID}, {stageKey, FieldStage}} {
		if v, ok := ctx.Value(key.ctxKey).(string); ok && v != "" {
			args = append(args, slog.String(key.field, v))
		}
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
