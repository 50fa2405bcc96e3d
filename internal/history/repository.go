package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vidsift/vidsift/internal/pipeline"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one stored pipeline invocation.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

// JobOutcome is one stored per-job result.
type JobOutcome struct {
	ID           string `json:"id"`
	RunID        string `json:"run_id"`
	DisplayName  string `json:"display_name"`
	SourceRef    string `json:"source_ref"`
	Status       string `json:"status"`
	Stage        string `json:"stage,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Category     string `json:"category,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

type Repository interface {
	RecordRun(ctx context.Context, run *Run, jobs []*JobOutcome) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListRunJobs(ctx context.Context, runID string) ([]*JobOutcome, error)
}

// BuildRun converts a finished report into its storable form.
func BuildRun(report *pipeline.Report, startedAt time.Time) (*Run, []*JobOutcome) {
	run := &Run{
		ID:         uuid.NewString(),
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
		Total:      report.Total(),
		Succeeded:  len(report.Succeeded),
		Failed:     len(report.Failed),
	}

	jobs := make([]*JobOutcome, 0, report.Total())
	for _, rec := range report.Succeeded {
		jobs = append(jobs, &JobOutcome{
			ID:          rec.Job.ID,
			RunID:       run.ID,
			DisplayName: rec.Job.DisplayName,
			SourceRef:   rec.Job.SourceRef,
			Status:      StatusSucceeded,
			Stage:       string(rec.StageReached),
			Category:    rec.Category,
			DurationMs:  rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
		})
	}
	for _, f := range report.Failed {
		jobs = append(jobs, &JobOutcome{
			ID:           f.Job.ID,
			RunID:        run.ID,
			DisplayName:  f.Job.DisplayName,
			SourceRef:    f.Job.SourceRef,
			Status:       StatusFailed,
			Stage:        string(f.Err.Stage),
			ErrorKind:    string(f.Err.Kind),
			ErrorMessage: f.Err.Message,
		})
	}
	return run, jobs
}

// SQLiteRepository stores runs in the local history database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordRun inserts the run and its job outcomes in one transaction.
func (r *SQLiteRepository) RecordRun(ctx context.Context, run *Run, jobs []*JobOutcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, total, succeeded, failed)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.Format(time.RFC3339), run.FinishedAt.Format(time.RFC3339),
		run.Total, run.Succeeded, run.Failed)
	if err != nil {
		return err
	}

	for _, j := range jobs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_jobs (id, run_id, display_name, source_ref, status, stage, error_kind, error_message, category, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, j.ID, j.RunID, j.DisplayName, j.SourceRef, j.Status,
			nullString(j.Stage), nullString(j.ErrorKind), nullString(j.ErrorMessage),
			nullString(j.Category), j.DurationMs)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, succeeded, failed
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var startedAt, finishedAt string
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &run.Total, &run.Succeeded, &run.Failed); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		run.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) ListRunJobs(ctx context.Context, runID string) ([]*JobOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, display_name, source_ref, status, stage, error_kind, error_message, category, duration_ms
		FROM run_jobs WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*JobOutcome
	for rows.Next() {
		var j JobOutcome
		var stage, kind, msg, category sql.NullString
		if err := rows.Scan(&j.ID, &j.RunID, &j.DisplayName, &j.SourceRef, &j.Status,
			&stage, &kind, &msg, &category, &j.DurationMs); err != nil {
			return nil, err
		}
		j.Stage = stage.String
		j.ErrorKind = kind.String
		j.ErrorMessage = msg.String
		j.Category = category.String
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
