package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/draftmill/draftmill/errors"
)

// Store handles persistence of jobs. It is the single source of truth for
// trigger state after a restart: Arm() on a fresh process reproduces the same
// next-wake time from the persisted next_run_at values.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobSelectColumns = `id, name, enabled,
	schedule_kind, cron_expr, cron_timezone, at_time, every_seconds, anchor_at,
	gen_params, publish_config, timeout_seconds, delete_after_run,
	next_run_at, running_at, last_run_at, last_status, last_error,
	last_duration_ms, consecutive_errors, schedule_error_count,
	created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(job *Job) error {
	kind, cols, err := scheduleColumns(job.Schedule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			id, name, enabled,
			schedule_kind, cron_expr, cron_timezone, at_time, every_seconds, anchor_at,
			gen_params, publish_config, timeout_seconds, delete_after_run,
			next_run_at, running_at, last_run_at, last_status, last_error,
			last_duration_ms, consecutive_errors, schedule_error_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	timeout := job.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(query,
		job.ID,
		job.Name,
		job.Enabled,
		kind,
		cols.cronExpr,
		cols.cronTimezone,
		cols.atTime,
		cols.everySeconds,
		cols.anchorAt,
		string(job.GenParams),
		nullableString(string(job.PublishConfig)),
		timeout,
		job.DeleteAfterRun,
		nullableTime(job.NextRunAt),
		nullableTime(job.RunningAt),
		nullableTime(job.LastRunAt),
		nullableString(string(job.LastStatus)),
		nullableString(job.LastError),
		job.LastDurationMs,
		job.ConsecutiveErrors,
		job.ScheduleErrorCount,
		now,
		now,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobSelectColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJobRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobSelectColumns + ` FROM jobs ORDER BY created_at DESC LIMIT 1000`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ListDueContext returns enabled jobs whose next_run_at has passed, ordered by
// next_run_at ASC so triggers due in the same tick fire in ascending order.
// Limited to 100 jobs per batch.
func (s *Store) ListDueContext(ctx context.Context, now time.Time) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT 100`

	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due jobs")
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ListRunning returns jobs with a fire currently in flight.
func (s *Store) ListRunning() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobSelectColumns + ` FROM jobs WHERE running_at IS NOT NULL`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running jobs")
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// NextWake returns the minimum next_run_at across enabled jobs, or nil when
// nothing is scheduled.
func (s *Store) NextWake() (*time.Time, error) {
	var next sql.NullString
	err := s.db.QueryRow(
		`SELECT MIN(next_run_at) FROM jobs WHERE enabled = 1 AND next_run_at IS NOT NULL`,
	).Scan(&next)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query next wake time")
	}
	if !next.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, next.String)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse next wake time")
	}
	return &t, nil
}

// SetEnabled pauses or resumes a job. Pausing clears next_run_at; resuming
// stores the caller-computed next fire time.
func (s *Store) SetEnabled(id string, enabled bool, nextRunAt *time.Time) error {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET enabled = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		enabled,
		nullableTime(nextRunAt),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job enabled state")
	}
	return requireRowAffected(result, id)
}

// MarkFired records that a job fired: last_run_at and running_at move to the
// fire time and next_run_at advances to the recomputed value.
func (s *Store) MarkFired(id string, firedAt time.Time, nextRunAt *time.Time) error {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET last_run_at = ?, running_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		firedAt.UTC().Format(time.RFC3339),
		firedAt.UTC().Format(time.RFC3339),
		nullableTime(nextRunAt),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark job fired")
	}
	return requireRowAffected(result, id)
}

// UpdateJobState writes the mutable state block of a job in one statement.
// Callers read, modify in memory, and write without suspending in between;
// the timer is the only goroutine that mutates job state.
func (s *Store) UpdateJobState(job *Job) error {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET next_run_at = ?, running_at = ?, last_run_at = ?,
		    last_status = ?, last_error = ?, last_duration_ms = ?,
		    consecutive_errors = ?, schedule_error_count = ?, updated_at = ?
		WHERE id = ?`,
		nullableTime(job.NextRunAt),
		nullableTime(job.RunningAt),
		nullableTime(job.LastRunAt),
		nullableString(string(job.LastStatus)),
		nullableString(job.LastError),
		job.LastDurationMs,
		job.ConsecutiveErrors,
		job.ScheduleErrorCount,
		time.Now().UTC().Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job state")
	}
	return requireRowAffected(result, job.ID)
}

// IncrementScheduleError bumps the malformed-expression counter and clears
// next_run_at: a broken schedule has no well-defined next fire, so it must
// not retry on a timer. Single statement so the increment cannot race a read.
func (s *Store) IncrementScheduleError(id string) error {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET schedule_error_count = schedule_error_count + 1,
		    next_run_at = NULL,
		    updated_at = ?
		WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to increment schedule error count")
	}
	return requireRowAffected(result, id)
}

// DeleteJob removes a job.
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}
	return requireRowAffected(result, id)
}

func requireRowAffected(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
