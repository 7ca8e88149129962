package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"intake/internal/fileutil"
	"intake/internal/logging"
)

// Pipeline runs triggered files through backup, quarantine, dispatch and
// archive. It is safe for concurrent use by jobs for different files.
type Pipeline struct {
	layout   Layout
	registry *Registry
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithIDGenerator replaces the uuid generator used for job and archive ids.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithClock replaces time.Now for job timestamps.
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.now = fn
		}
	}
}

// New constructs a Pipeline for layout. A nil registry treats every file as
// unsupported.
func New(layout Layout, registry *Registry, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		layout:   layout,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Layout returns the directory set the pipeline operates on.
func (p *Pipeline) Layout() Layout { return p.layout }

// Process runs one file through the lifecycle. The returned Job is never nil;
// on failure its State is StateAborted and Err matches the returned error.
// ctx carries logging fields; handlers may honor its cancellation.
func (p *Pipeline) Process(ctx context.Context, sourcePath string) (*Job, error) {
	job := &Job{
		ID:         p.newID(),
		SourcePath: sourcePath,
		Root:       p.layout.Root,
		StartedAt:  p.now(),
	}
	if abs, err := filepath.Abs(sourcePath); err == nil {
		job.SourcePath = abs
	}
	_, job.Extension = splitName(filepath.Base(job.SourcePath))

	ctx = logging.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("processing file",
		logging.String(logging.FieldPath, job.SourcePath),
		logging.String(logging.FieldEventType, "job_started"),
	)

	steps := []struct {
		name string
		run  func(context.Context, *Job) error
	}{
		{stageValidate, p.validate},
		{stageBackup, p.backup},
		{stageQuarantine, p.quarantine},
		{stageDispatch, p.dispatch},
		{stageArchive, p.archive},
	}
	for _, step := range steps {
		stageCtx := logging.WithStage(ctx, step.name)
		if err := step.run(stageCtx, job); err != nil {
			return p.abort(stageCtx, job, err)
		}
	}

	job.FinishedAt = p.now()
	logger.Info("file archived",
		logging.String(logging.FieldPath, job.SourcePath),
		logging.String("archive_path", job.ArchivePath),
		logging.String("handler", job.Handler),
		logging.Duration("elapsed", job.Duration()),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	return job, nil
}

func (p *Pipeline) abort(ctx context.Context, job *Job, err error) (*Job, error) {
	job.State = StateAborted
	job.Err = err
	job.FinishedAt = p.now()
	logging.WithContext(ctx, p.logger).Debug("job aborted",
		logging.String("last_state", string(job.LastState)),
		logging.String(logging.FieldErrorKind, Kind(err)),
		logging.Error(err),
	)
	return job, err
}

func (p *Pipeline) validate(_ context.Context, job *Job) error {
	job.advance(StateValidating)
	info, err := os.Stat(job.SourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return wrap(ErrNotFound, stageValidate, "stat source", job.SourcePath, nil)
		}
		return wrap(ErrInfra, stageValidate, "stat source", job.SourcePath, err)
	}
	if !info.Mode().IsRegular() {
		return wrap(ErrNotFound, stageValidate, "stat source", job.SourcePath+" is not a regular file", nil)
	}
	if filepath.Dir(job.SourcePath) != p.layout.Source {
		return wrap(ErrInfra, stageValidate, "resolve root", job.SourcePath+" is outside "+p.layout.Source, nil)
	}
	return nil
}

func (p *Pipeline) backup(ctx context.Context, job *Job) error {
	// An occupied quarantine slot aborts before the previous backup is
	// overwritten. The no-replace move below still guards the race.
	if occupant := filepath.Join(p.layout.Processing, job.Name()); exists(occupant) {
		return wrap(ErrConflict, stageQuarantine, "check processing", occupant+" already exists", nil)
	}
	if err := ensureDir(p.layout.Backup); err != nil {
		return wrap(ErrInfra, stageBackup, "create backup directory", "", err)
	}
	dst := filepath.Join(p.layout.Backup, job.Name())
	if err := fileutil.CopyFileVerified(job.SourcePath, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !exists(job.SourcePath) {
			return wrap(ErrNotFound, stageBackup, "copy to backup", job.SourcePath, err)
		}
		return wrap(ErrInfra, stageBackup, "copy to backup", dst, err)
	}
	job.BackupPath = dst
	job.advance(StateBackedUp)
	logging.WithContext(ctx, p.logger).Debug("backup written", logging.String("backup_path", dst))
	return nil
}

func (p *Pipeline) quarantine(ctx context.Context, job *Job) error {
	if err := ensureDir(p.layout.Processing); err != nil {
		return wrap(ErrInfra, stageQuarantine, "create processing directory", "", err)
	}
	dst := filepath.Join(p.layout.Processing, job.Name())
	if err := fileutil.MoveNoReplace(job.SourcePath, dst); err != nil {
		switch {
		case errors.Is(err, fileutil.ErrDestinationExists):
			return wrap(ErrConflict, stageQuarantine, "move to processing", dst+" already exists", nil)
		case errors.Is(err, fs.ErrNotExist) && !exists(job.SourcePath):
			return wrap(ErrNotFound, stageQuarantine, "move to processing", job.SourcePath, err)
		default:
			return wrap(ErrInfra, stageQuarantine, "move to processing", dst, err)
		}
	}
	job.QuarantinePath = dst
	job.advance(StateQuarantined)
	logging.WithContext(ctx, p.logger).Debug("file quarantined", logging.String("quarantine_path", dst))
	return nil
}

func (p *Pipeline) dispatch(ctx context.Context, job *Job) error {
	logger := logging.WithContext(ctx, p.logger)
	handler, ok := p.registry.Lookup(job.Extension)
	if !ok {
		job.Unsupported = true
		logging.WarnWithContext(logger, "unsupported file type", "unsupported_type",
			logging.String(logging.FieldPath, job.SourcePath),
			logging.String("extension", job.Extension),
			logging.Error(wrap(ErrUnsupportedType, stageDispatch, "lookup handler", job.Extension, nil)),
			logging.String(logging.FieldImpact, "file archived without processing"),
			logging.String(logging.FieldErrorHint, "add the extension to [handlers] extensions to process it"),
		)
		job.advance(StateDispatched)
		return nil
	}
	job.Handler = handler.Name()
	if err := handler.Handle(ctx, job); err != nil {
		return wrap(ErrHandler, stageDispatch, job.Handler, "file left in "+p.layout.Processing, err)
	}
	job.advance(StateDispatched)
	return nil
}

func (p *Pipeline) archive(ctx context.Context, job *Job) error {
	if err := ensureDir(p.layout.Complete); err != nil {
		return wrap(ErrInfra, stageArchive, "create complete directory", "", err)
	}
	stem, ext := splitName(job.Name())
	dst := filepath.Join(p.layout.Complete, stem+"-"+job.ID+ext)
	if err := fileutil.MoveNoReplace(job.QuarantinePath, dst); err != nil {
		if errors.Is(err, fileutil.ErrDestinationExists) {
			return wrap(ErrConflict, stageArchive, "move to complete", dst+" already exists", nil)
		}
		return wrap(ErrInfra, stageArchive, "move to complete", dst, err)
	}
	job.ArchivePath = dst
	job.advance(StateArchived)
	logging.WithContext(ctx, p.logger).Debug("quarantine entry released", logging.String("quarantine_path", job.QuarantinePath))
	return nil
}

// splitName separates a base name into stem and extension. Dotfiles such as
// ".env" have no extension.
func splitName(base string) (string, string) {
	ext := filepath.Ext(base)
	if ext == base || ext == "." {
		return base, ""
	}
	return strings.TrimSuffix(base, ext), ext
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
