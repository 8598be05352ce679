package queue

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/draftmill/draftmill/errors"
)

// ExecutionRecord is an immutable snapshot of one task's terminal outcome.
// Rows are append-only; nothing updates or deletes them.
type ExecutionRecord struct {
	ID         string
	TaskID     string
	JobID      string
	Status     Status
	DurationMs int
	OutputRef  string
	WordCount  int
	ImageCount int
	Published  bool
	Error      string
	CreatedAt  time.Time
}

// RecordStore handles execution history persistence.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a new execution history store
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Append inserts one record. The record's ID and CreatedAt are assigned here.
func (s *RecordStore) Append(record *ExecutionRecord) error {
	record.ID = "EXEC_" + uuid.NewString()
	record.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO execution_history (
			id, task_id, job_id, status, duration_ms,
			output_ref, word_count, image_count, published, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.TaskID,
		nullableString(record.JobID),
		string(record.Status),
		record.DurationMs,
		nullableString(record.OutputRef),
		record.WordCount,
		record.ImageCount,
		record.Published,
		nullableString(record.Error),
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to append execution record")
	}
	return nil
}

const recordSelectColumns = `id, task_id, job_id, status, duration_ms,
	output_ref, word_count, image_count, published, error, created_at`

// ListByTask returns all records for one task, newest first.
func (s *RecordStore) ListByTask(taskID string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+recordSelectColumns+`
		FROM execution_history
		WHERE task_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list execution records")
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

// ListRecent returns the most recent records across all tasks.
func (s *RecordStore) ListRecent(limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+recordSelectColumns+`
		FROM execution_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list execution records")
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

func scanRecordRows(rows *sql.Rows) ([]*ExecutionRecord, error) {
	var records []*ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		var status, createdAt string
		var jobID, outputRef, recErr sql.NullString
		var wordCount, imageCount sql.NullInt64

		err := rows.Scan(
			&r.ID,
			&r.TaskID,
			&jobID,
			&status,
			&r.DurationMs,
			&outputRef,
			&wordCount,
			&imageCount,
			&r.Published,
			&recErr,
			&createdAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution record")
		}

		r.JobID = jobID.String
		r.Status = Status(status)
		r.OutputRef = outputRef.String
		r.WordCount = int(wordCount.Int64)
		r.ImageCount = int(imageCount.Int64)
		r.Error = recErr.String
		r.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse record created_at")
		}

		records = append(records, &r)
	}
	return records, rows.Err()
}
