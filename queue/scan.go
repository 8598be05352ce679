package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/internal/util"
)

func encodeTags(tags []string) (interface{}, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tags")
	}
	return string(b), nil
}

type scanFunc func(dest ...interface{}) error

// scanTaskRow scans one task row in taskSelectColumns order.
func scanTaskRow(scan scanFunc) (*Task, error) {
	var task Task
	var status, genParams, createdAt, updatedAt string
	var priority int
	var jobID, publishConfig, tags, stage, detail, taskErr sql.NullString
	var wordCount, imageCount sql.NullInt64
	var outputRef, startedAt, completedAt sql.NullString

	err := scan(
		&task.ID,
		&task.Name,
		&jobID,
		&genParams,
		&publishConfig,
		&priority,
		&tags,
		&status,
		&task.Progress,
		&stage,
		&detail,
		&taskErr,
		&wordCount,
		&imageCount,
		&outputRef,
		&createdAt,
		&startedAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.JobID = jobID.String
	task.GenParams = json.RawMessage(genParams)
	if publishConfig.Valid {
		task.PublishConfig = json.RawMessage(publishConfig.String)
	}
	task.Priority = Priority(priority)
	task.Status = Status(status)
	task.Stage = stage.String
	task.Detail = detail.String
	task.Error = taskErr.String
	task.WordCount = int(wordCount.Int64)
	task.ImageCount = int(imageCount.Int64)
	task.OutputRef = outputRef.String

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &task.Tags); err != nil {
			return nil, errors.Wrapf(err, "failed to decode tags for task %s", task.ID)
		}
	}

	task.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for task %s", task.ID)
	}
	task.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for task %s", task.ID)
	}
	for _, field := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{startedAt, &task.StartedAt},
		{completedAt, &task.CompletedAt},
	} {
		if !field.src.Valid {
			continue
		}
		t, err := time.Parse(time.RFC3339, field.src.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse timestamp for task %s", task.ID)
		}
		*field.dst = util.Ptr(t)
	}

	return &task, nil
}

// scanTaskRows scans all rows from a taskSelectColumns query.
func scanTaskRows(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		task, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
