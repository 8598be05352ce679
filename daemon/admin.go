package daemon

import (
	"encoding/json"
	"time"

	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/internal/util"
	"github.com/draftmill/draftmill/queue"
	"github.com/draftmill/draftmill/schedule"
)

// The administrative surface consumed by the route layer: task submission and
// inspection, job lifecycle, execution history.

// SubmitTask enqueues a directly-submitted task.
func (d *Daemon) SubmitTask(name string, genParams, publishConfig json.RawMessage, priority string, tags []string) (string, error) {
	if name == "" {
		return "", errors.NewInvalidRequestError("task name required")
	}
	p, err := queue.ParsePriority(priority)
	if err != nil {
		return "", err
	}

	task := queue.NewTask(name, genParams, publishConfig, p)
	task.Tags = tags
	return d.manager.Enqueue(task)
}

// GetTask retrieves a task by ID
func (d *Daemon) GetTask(id string) (*queue.Task, error) {
	return d.manager.Get(id)
}

// CancelTask requests cancellation; false means the task was already
// terminal.
func (d *Daemon) CancelTask(id string) (bool, error) {
	return d.manager.Cancel(id)
}

// ListTasks returns tasks, optionally filtered by status.
func (d *Daemon) ListTasks(status queue.Status, limit int) ([]*queue.Task, error) {
	return d.manager.List(status, limit)
}

// Snapshot returns task counts by status for dashboards.
func (d *Daemon) Snapshot() (map[queue.Status]int, error) {
	return d.manager.Snapshot()
}

// History returns execution records for one task, or the most recent across
// all tasks when taskID is empty.
func (d *Daemon) History(taskID string, limit int) ([]*queue.ExecutionRecord, error) {
	return d.manager.History(taskID, limit)
}

// CreateJob parses the schedule phrase and persists a new enabled job, then
// re-arms the timer since the new job may be the earliest fire.
func (d *Daemon) CreateJob(name, schedulePhrase string, genParams, publishConfig json.RawMessage, timeoutSeconds int, deleteAfterRun bool) (*schedule.Job, error) {
	if name == "" {
		return nil, errors.NewInvalidRequestError("job name required")
	}
	if len(genParams) == 0 {
		return nil, errors.NewInvalidRequestError("job requires generation parameters")
	}

	sched, err := schedule.ParseSpec(schedulePhrase)
	if err != nil {
		return nil, err
	}

	job := schedule.NewJob(name, sched, genParams, publishConfig)
	if timeoutSeconds > 0 {
		job.TimeoutSeconds = timeoutSeconds
	}
	job.DeleteAfterRun = deleteAfterRun

	if err := d.jobs.CreateJob(job); err != nil {
		return nil, err
	}

	d.log.Infow("Job created",
		"job_id", job.ID,
		"job_name", job.Name,
		"next_run_at", job.NextRunAt)

	d.timer.Arm()
	return job, nil
}

// GetJob retrieves a job by ID
func (d *Daemon) GetJob(id string) (*schedule.Job, error) {
	return d.jobs.GetJob(id)
}

// ListJobs returns all jobs, newest first.
func (d *Daemon) ListJobs() ([]*schedule.Job, error) {
	return d.jobs.ListJobs()
}

// DeleteJob removes a job and re-arms the timer.
func (d *Daemon) DeleteJob(id string) error {
	if err := d.jobs.DeleteJob(id); err != nil {
		return err
	}
	d.log.Infow("Job deleted", "job_id", id)
	d.timer.Arm()
	return nil
}

// PauseJob disables a job and clears its next fire time.
func (d *Daemon) PauseJob(id string) error {
	if _, err := d.jobs.GetJob(id); err != nil {
		return err
	}
	if err := d.jobs.SetEnabled(id, false, nil); err != nil {
		return err
	}
	d.log.Infow("Job paused", "job_id", id)
	d.timer.Arm()
	return nil
}

// ResumeJob re-enables a job with a freshly computed next fire time.
func (d *Daemon) ResumeJob(id string) error {
	job, err := d.jobs.GetJob(id)
	if err != nil {
		return err
	}

	var nextRunAt *time.Time
	if next, ok := schedule.NextRun(job.Schedule, time.Now()); ok {
		nextRunAt = util.Ptr(next)
	}
	if err := d.jobs.SetEnabled(id, true, nextRunAt); err != nil {
		return err
	}

	d.log.Infow("Job resumed", "job_id", id, "next_run_at", nextRunAt)
	d.timer.Arm()
	return nil
}
