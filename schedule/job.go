package schedule

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the outcome of a job's most recent fire.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
	RunStatusTimeout RunStatus = "timeout"
)

// DefaultTimeoutSeconds bounds how long a fired job may stay in flight before
// checkStuck forces it into an error state.
const DefaultTimeoutSeconds = 1800

// Job is a persisted trigger definition: when its schedule becomes due, the
// timer submits a task carrying the job's generation parameters.
//
// The state block (NextRunAt through ScheduleErrorCount) is mutated only by
// the timer and by task-completion callbacks, never by the executor.
type Job struct {
	ID             string
	Name           string
	Enabled        bool
	Schedule       Schedule
	GenParams      json.RawMessage // generation parameters submitted on fire
	PublishConfig  json.RawMessage // optional publish configuration
	TimeoutSeconds int
	DeleteAfterRun bool // one-shot jobs: delete the job once its task completes

	NextRunAt          *time.Time // nil means no future fire
	RunningAt          *time.Time // non-nil while a fire is in flight
	LastRunAt          *time.Time
	LastStatus         RunStatus
	LastError          string
	LastDurationMs     int
	ConsecutiveErrors  int
	ScheduleErrorCount int // malformed-expression counter, independent of execution errors

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob creates an enabled job with its first fire time computed from now.
func NewJob(name string, s Schedule, genParams, publishConfig json.RawMessage) *Job {
	job := &Job{
		ID:             "JOB_" + uuid.NewString(),
		Name:           name,
		Enabled:        true,
		Schedule:       s,
		GenParams:      genParams,
		PublishConfig:  publishConfig,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
	if next, ok := NextRun(s, time.Now()); ok {
		job.NextRunAt = &next
	}
	return job
}

// Timeout returns the job's stuck-detection timeout as a duration.
func (j *Job) Timeout() time.Duration {
	if j.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}
