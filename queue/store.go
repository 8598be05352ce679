package queue

import (
	"database/sql"
	"time"

	"github.com/draftmill/draftmill/errors"
)

// Store handles task persistence. Dequeue ordering lives in SQL so a restart
// resumes the queue in exactly the order it would have run.
type Store struct {
	db *sql.DB
}

// NewStore creates a new task store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const taskSelectColumns = `id, name, job_id, gen_params, publish_config, priority, tags,
	status, progress, stage, detail, error,
	word_count, image_count, output_ref,
	created_at, started_at, completed_at, updated_at`

// CreateTask persists a new task in its current state.
func (s *Store) CreateTask(task *Task) error {
	tags, err := encodeTags(task.Tags)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO tasks (
			id, name, job_id, gen_params, publish_config, priority, tags,
			status, progress, stage, detail, error,
			word_count, image_count, output_ref,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Name,
		nullableString(task.JobID),
		string(task.GenParams),
		nullableString(string(task.PublishConfig)),
		int(task.Priority),
		tags,
		string(task.Status),
		task.Progress,
		nullableString(task.Stage),
		nullableString(task.Detail),
		nullableString(task.Error),
		task.WordCount,
		task.ImageCount,
		nullableString(task.OutputRef),
		now.Format(time.RFC3339),
		nullableTime(task.StartedAt),
		nullableTime(task.CompletedAt),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskSelectColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTaskRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return task, nil
}

// UpdateTask writes a task's mutable fields.
func (s *Store) UpdateTask(task *Task) error {
	task.UpdatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE tasks
		SET status = ?, progress = ?, stage = ?, detail = ?, error = ?,
		    word_count = ?, image_count = ?, output_ref = ?,
		    started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(task.Status),
		task.Progress,
		nullableString(task.Stage),
		nullableString(task.Detail),
		nullableString(task.Error),
		task.WordCount,
		task.ImageCount,
		nullableString(task.OutputRef),
		nullableTime(task.StartedAt),
		nullableTime(task.CompletedAt),
		task.UpdatedAt.Format(time.RFC3339),
		task.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("task %s", task.ID)
	}
	return nil
}

// NextQueued returns the next task to run: priority descending, then FIFO
// within a tier (rowid breaks created_at ties for tasks submitted in the same
// second). Nil when the queue is empty.
func (s *Store) NextQueued() (*Task, error) {
	row := s.db.QueryRow(`
		SELECT ` + taskSelectColumns + `
		FROM tasks
		WHERE status = 'queued'
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT 1`)

	task, err := scanTaskRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to dequeue task")
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *Store) ListTasks(status Status, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskSelectColumns + ` FROM tasks`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// CountsByStatus returns the number of tasks in each status.
func (s *Store) CountsByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count tasks")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan task count")
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// RequeueOrphans returns tasks left in running state by a previous process to
// the queue. Called once at startup; mid-execution work is lost, the task
// simply runs again.
func (s *Store) RequeueOrphans() (int, error) {
	result, err := s.db.Exec(`
		UPDATE tasks
		SET status = 'queued', progress = 0, stage = NULL, detail = NULL, started_at = NULL, updated_at = ?
		WHERE status = 'running'`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to requeue orphaned tasks")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
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
