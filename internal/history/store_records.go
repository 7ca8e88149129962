package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"intake/internal/pipeline"
)

// Record appends a finished job to the ledger.
func (s *Store) Record(ctx context.Context, job *pipeline.Job) (*Record, error) {
	if job == nil {
		return nil, errors.New("history: job is required")
	}
	rec := FromJob(job)
	return s.Insert(ctx, rec)
}

// Insert stores rec and returns it with its row id populated.
func (s *Store) Insert(ctx context.Context, rec Record) (*Record, error) {
	if strings.TrimSpace(rec.JobID) == "" {
		return nil, errors.New("history: job id is required")
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            job_id, source_path, file_name, extension, handler, outcome,
            error_kind, error_message, last_state, unsupported,
            backup_path, archive_path, summary, started_at, finished_at, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID,
		rec.SourcePath,
		rec.FileName,
		nullableString(rec.Extension),
		nullableString(rec.Handler),
		rec.Outcome,
		nullableString(rec.ErrorKind),
		nullableString(rec.ErrorMessage),
		nullableString(rec.LastState),
		boolToInt(rec.Unsupported),
		nullableString(rec.BackupPath),
		nullableString(rec.ArchivePath),
		nullableString(rec.Summary),
		formatTime(rec.StartedAt),
		formatTime(rec.FinishedAt),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

// GetByJobID fetches a record by its job id. It returns nil, nil when absent.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM jobs WHERE job_id = ?", jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// ListOptions filters List results.
type ListOptions struct {
	// Limit caps the number of rows; zero means 50.
	Limit int
	// Outcomes restricts results to the given outcomes.
	Outcomes []string
	// FileName restricts results to one original file name.
	FileName string
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	ctx = ensureContext(ctx)
	var (
		where []string
		args  []any
	)
	if len(opts.Outcomes) > 0 {
		where = append(where, "outcome IN ("+makePlaceholders(len(opts.Outcomes))+")")
		for _, outcome := range opts.Outcomes {
			args = append(args, outcome)
		}
	}
	if name := strings.TrimSpace(opts.FileName); name != "" {
		where = append(where, "file_name = ?")
		args = append(args, name)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + recordColumns + " FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return records, nil
}

// Stats returns the number of records per outcome.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(1) FROM jobs GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[outcome] = count
	}
	return stats, rows.Err()
}

// Prune deletes records that finished before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM jobs WHERE finished_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// Clear deletes every record.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM jobs")
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
