package history

import (
	"database/sql"
	"time"

	"intake/internal/pipeline"
)

// OutcomeArchived is the outcome of a job that reached complete/. Failed jobs
// use the pipeline.Kind label of their error.
const OutcomeArchived = "archived"

// Record is one row of the job ledger.
type Record struct {
	ID           int64
	JobID        string
	SourcePath   string
	FileName     string
	Extension    string
	Handler      string
	Outcome      string
	ErrorKind    string
	ErrorMessage string
	LastState    string
	Unsupported  bool
	BackupPath   string
	ArchivePath  string
	Summary      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
}

// Failed reports whether the job aborted.
func (r *Record) Failed() bool {
	return r.Outcome != OutcomeArchived
}

// FromJob converts a finished pipeline job into a ledger record.
func FromJob(job *pipeline.Job) Record {
	rec := Record{
		JobID:       job.ID,
		SourcePath:  job.SourcePath,
		FileName:    job.Name(),
		Extension:   job.Extension,
		Handler:     job.Handler,
		Outcome:     OutcomeArchived,
		LastState:   string(job.LastState),
		Unsupported: job.Unsupported,
		BackupPath:  job.BackupPath,
		ArchivePath: job.ArchivePath,
		Summary:     job.Summary,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
		Duration:    job.Duration(),
	}
	if job.Err != nil {
		rec.Outcome = pipeline.Kind(job.Err)
		rec.ErrorKind = rec.Outcome
		rec.ErrorMessage = job.Err.Error()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	return rec
}

const recordColumns = "id, job_id, source_path, file_name, extension, handler, outcome, error_kind, error_message, last_state, unsupported, backup_path, archive_path, summary, started_at, finished_at, duration_ms"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec         Record
		extension   sql.NullString
		handler     sql.NullString
		errorKind   sql.NullString
		errorMsg    sql.NullString
		lastState   sql.NullString
		unsupported int64
		backupPath  sql.NullString
		archivePath sql.NullString
		summary     sql.NullString
		startedRaw  string
		finishedRaw string
		durationMS  int64
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.SourcePath,
		&rec.FileName,
		&extension,
		&handler,
		&rec.Outcome,
		&errorKind,
		&errorMsg,
		&lastState,
		&unsupported,
		&backupPath,
		&archivePath,
		&summary,
		&startedRaw,
		&finishedRaw,
		&durationMS,
	); err != nil {
		return nil, err
	}
	rec.Extension = extension.String
	rec.Handler = handler.String
	rec.ErrorKind = errorKind.String
	rec.ErrorMessage = errorMsg.String
	rec.LastState = lastState.String
	rec.Unsupported = unsupported != 0
	rec.BackupPath = backupPath.String
	rec.ArchivePath = archivePath.String
	rec.Summary = summary.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if t, err := parseTimeString(startedRaw); err == nil {
		rec.StartedAt = t
	}
	if t, err := parseTimeString(finishedRaw); err == nil {
		rec.FinishedAt = t
	}
	return &rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}
