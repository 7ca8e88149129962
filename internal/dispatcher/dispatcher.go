package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"intake/internal/coalescer"
	"intake/internal/history"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/pipeline"
	"intake/internal/watcher"
)

// Processor runs one file through the pipeline.
type Processor interface {
	Process(ctx context.Context, sourcePath string) (*pipeline.Job, error)
}

// Recorder persists finished jobs. *history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, job *pipeline.Job) (*history.Record, error)
}

// Notifier publishes finished jobs. notifications.Service satisfies it.
type Notifier interface {
	NotifyJob(ctx context.Context, job *pipeline.Job) error
}

// Options configures a Dispatcher.
type Options struct {
	// SourceDir is the watched directory, scanned on Scan.
	SourceDir     string
	Window        time.Duration
	SweepInterval time.Duration
	// MaxPending bounds the coalescer; zero means unbounded.
	MaxPending int
	Processor  Processor
	Recorder   Recorder
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// Clock replaces the coalescer's wall clock in tests.
	Clock coalescer.Clock
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Events    int64 `json:"events"`
	Ignored   int64 `json:"ignored"`
	Triggers  int64 `json:"triggers"`
	Evictions int64 `json:"evictions"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
	Pending   int   `json:"pending"`
}

// Dispatcher connects an event stream, a coalescer and a processor.
type Dispatcher struct {
	sourceDir string
	coalescer *coalescer.Coalescer
	processor Processor
	recorder  Recorder
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// jobCtx carries values for jobs but is never cancelled.
	jobCtx context.Context
	jobs   sync.WaitGroup

	events    atomic.Int64
	ignored   atomic.Int64
	triggers  atomic.Int64
	evictions atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// New constructs a Dispatcher and the coalescer it owns.
func New(opts Options) (*Dispatcher, error) {
	if opts.Processor == nil {
		return nil, errors.New("dispatcher: processor is required")
	}
	d := &Dispatcher{
		sourceDir: opts.SourceDir,
		processor: opts.Processor,
		recorder:  opts.Recorder,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    logging.NewComponentLogger(opts.Logger, "dispatcher"),
		jobCtx:    context.Background(),
	}
	coalescerOpts := []coalescer.Option{
		coalescer.WithLogger(opts.Logger),
		coalescer.WithMaxEntries(opts.MaxPending),
	}
	if opts.Clock != nil {
		coalescerOpts = append(coalescerOpts, coalescer.WithClock(opts.Clock))
	}
	c, err := coalescer.New(opts.Window, opts.SweepInterval, d.onTrigger, coalescerOpts...)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	d.coalescer = c
	return d, nil
}

// Coalescer exposes the owned coalescer for inspection.
func (d *Dispatcher) Coalescer() *coalescer.Coalescer { return d.coalescer }

// Run consumes events until ctx is done or the event channel closes, running
// the sweep loop alongside. On return every started job has finished; jobs
// are never cancelled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan watcher.Event) error {
	d.jobCtx = context.WithoutCancel(ctx)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		d.coalescer.Run(sweepCtx)
	}()

	err := d.loop(ctx, events)

	stopSweep()
	<-sweepDone
	d.Wait()
	return err
}

func (d *Dispatcher) loop(ctx context.Context, events <-chan watcher.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("dispatcher: event stream closed")
			}
			d.HandleEvent(event)
		}
	}
}

// HandleEvent routes one notification.
func (d *Dispatcher) HandleEvent(event watcher.Event) {
	d.events.Add(1)
	d.metrics.RecordEvent(string(event.Kind))

	switch event.Kind {
	case watcher.KindCreated, watcher.KindChanged:
		d.coalescer.Notify(event.Path)
		d.metrics.SetPending(d.coalescer.Len())
		d.logger.Debug("file event",
			logging.String(logging.FieldPath, event.Path),
			logging.String("kind", string(event.Kind)),
		)
	default:
		d.ignored.Add(1)
		d.logger.Debug("file event ignored",
			logging.String(logging.FieldPath, event.Path),
			logging.String("kind", string(event.Kind)),
		)
	}
}

// Scan notifies every regular file already present in the source directory,
// so files that arrived while intake was down are still processed. It returns
// the number of files notified.
func (d *Dispatcher) Scan(ctx context.Context) (int, error) {
	if d.sourceDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(d.sourceDir)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", d.sourceDir, err)
	}
	count := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		d.coalescer.Notify(filepath.Join(d.sourceDir, entry.Name()))
		count++
	}
	d.metrics.SetPending(d.coalescer.Len())
	if count > 0 {
		d.logger.Info("queued existing files",
			logging.Int("files", count),
			logging.String(logging.FieldPath, d.sourceDir),
			logging.String(logging.FieldEventType, "startup_scan"),
		)
	}
	return count, nil
}

// Wait blocks until every started job has finished.
func (d *Dispatcher) Wait() {
	d.jobs.Wait()
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Events:    d.events.Load(),
		Ignored:   d.ignored.Load(),
		Triggers:  d.triggers.Load(),
		Evictions: d.evictions.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		InFlight:  d.inFlight.Load(),
		Pending:   d.coalescer.Len(),
	}
}

func (d *Dispatcher) onTrigger(path string, reason coalescer.Reason) {
	d.metrics.RecordTrigger(reason.String())
	d.metrics.SetPending(d.coalescer.Len())

	if reason != coalescer.ReasonExpired {
		d.evictions.Add(1)
		logging.WarnWithContext(d.logger, "pending file evicted before it settled; skipping", "pending_evicted",
			logging.String(logging.FieldPath, path),
			logging.String("reason", reason.String()),
			logging.String(logging.FieldImpact, "file not processed until its next change"),
			logging.String(logging.FieldErrorHint, "raise watch.max_pending or touch the file to retry"),
		)
		return
	}

	d.triggers.Add(1)
	d.inFlight.Add(1)
	d.metrics.JobStarted()
	d.jobs.Add(1)
	go d.runJob(path)
}

func (d *Dispatcher) runJob(path string) {
	defer d.jobs.Done()
	defer d.inFlight.Add(-1)

	job, err := d.process(path)
	d.finish(path, job, err)
}

// process calls the processor, converting a panic into a job failure.
func (d *Dispatcher) process(path string) (job *pipeline.Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", pipeline.ErrHandler, r)
		}
	}()
	return d.processor.Process(d.jobCtx, path)
}

func (d *Dispatcher) finish(path string, job *pipeline.Job, err error) {
	if job == nil {
		job = &pipeline.Job{SourcePath: path, State: pipeline.StateAborted, Err: err, FinishedAt: time.Now()}
	}
	logger := d.logger
	if job.ID != "" {
		logger = logging.WithContext(logging.WithJobID(context.Background(), job.ID), d.logger)
	}

	outcome := metrics.OutcomeArchived
	if err != nil {
		outcome = pipeline.Kind(err)
		d.failed.Add(1)
		d.reportFailure(logger, path, err)
	} else {
		d.succeeded.Add(1)
	}
	d.metrics.RecordJob(outcome, job.Unsupported, job.Duration())

	if d.recorder != nil && job.ID != "" {
		if _, recErr := d.recorder.Record(d.jobCtx, job); recErr != nil {
			logging.WarnWithContext(logger, "failed to record job history", "history_record_failed",
				logging.Error(recErr),
				logging.String(logging.FieldPath, path),
				logging.String(logging.FieldImpact, "job missing from intake history"),
				logging.String(logging.FieldErrorHint, "check the state directory is writable"),
			)
		}
	}

	if d.notifier != nil {
		if notifyErr := d.notifier.NotifyJob(d.jobCtx, job); notifyErr != nil {
			logging.WarnWithContext(logger, "job notification failed", "notification_failed",
				logging.Error(notifyErr),
				logging.String(logging.FieldPath, path),
				logging.String(logging.FieldImpact, "job outcome not delivered to ntfy"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}
}

func (d *Dispatcher) reportFailure(logger *slog.Logger, path string, err error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldPath, path),
		logging.String(logging.FieldErrorKind, pipeline.Kind(err)),
		logging.String(logging.FieldErrorHint, pipeline.Hint(err)),
		logging.Error(err),
	}
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		logger.Info("file vanished before processing", logging.Args(attrs...)...)
	case errors.Is(err, pipeline.ErrConflict):
		attrs = append(attrs, logging.String(logging.FieldImpact, "file left in the watched directory"))
		logging.WarnWithContext(logger, "file skipped: name already in processing", "job_conflict", attrs...)
	default:
		attrs = append(attrs, logging.String(logging.FieldImpact, "file not archived"))
		logging.ErrorWithContext(logger, "file processing failed", "job_failed", attrs...)
	}
}
