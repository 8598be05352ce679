package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/draftmill/draftmill/errors"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Priority orders dequeue: higher values dequeue first, FIFO within a tier.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return "unknown"
}

// ParsePriority converts the wire form ("high", "normal", "low") to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, errors.NewInvalidRequestError("unknown priority %q", s)
}

// Task is one submitted unit of content-generation work.
type Task struct {
	ID            string
	Name          string
	JobID         string // non-empty when submitted by a job fire
	GenParams     json.RawMessage
	PublishConfig json.RawMessage
	Priority      Priority
	Tags          []string

	Status   Status
	Progress int // 0..100
	Stage    string
	Detail   string
	Error    string

	WordCount  int
	ImageCount int
	OutputRef  string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NewTask creates a queued task ready for submission.
func NewTask(name string, genParams, publishConfig json.RawMessage, priority Priority) *Task {
	return &Task{
		ID:            "TASK_" + uuid.NewString(),
		Name:          name,
		GenParams:     genParams,
		PublishConfig: publishConfig,
		Priority:      priority,
		Status:        StatusQueued,
	}
}

// DurationMs returns the wall-clock execution time, zero before completion.
func (t *Task) DurationMs() int {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return int(t.CompletedAt.Sub(*t.StartedAt) / time.Millisecond)
}

// Result is the payload an executor returns for a completed generation.
type Result struct {
	OutputRef  string
	WordCount  int
	ImageCount int
}

// ProgressFunc reports executor progress at stage boundaries.
type ProgressFunc func(percent int, stage, detail string)

// Executor is the external content-generation pipeline. It must respect
// context cancellation and return an error on failure rather than a partial
// result.
type Executor interface {
	Generate(ctx context.Context, params json.RawMessage, progress ProgressFunc) (*Result, error)
}
