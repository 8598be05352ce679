package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/internal/util"
)

// DefaultMaxTimerDelay caps a single wake's sleep. A far-future one-shot
// sleep is imprecise over long spans, so a clamped wake simply re-checks and
// re-arms instead of trusting one long timer.
const DefaultMaxTimerDelay = 6 * time.Hour

// TaskSubmitter converts a due job into a queue submission. The queue package
// implements this; the interface lives here to avoid a dependency cycle.
type TaskSubmitter interface {
	SubmitJobTask(job *Job) (taskID string, err error)
}

// TaskResult is the completion signal delivered back to the timer once a
// job-submitted task reaches a terminal state.
type TaskResult struct {
	Cancelled  bool
	Err        string // empty on success
	DurationMs int
}

// TimerConfig contains configuration for the trigger timer.
type TimerConfig struct {
	MaxDelay time.Duration // cap on a single wake's sleep
}

// DefaultTimerConfig returns sensible defaults
func DefaultTimerConfig() TimerConfig {
	return TimerConfig{MaxDelay: DefaultMaxTimerDelay}
}

// Timer is the self-arming trigger timer. It has two observable states:
// idle (no wake pending) and armed (exactly one wake pending at the earliest
// next-fire time across enabled jobs). Arming replaces any previous pending
// wake; an overlapping wake never runs concurrently with an in-flight tick;
// and the timer re-arms unconditionally after every tick, even a failed one.
type Timer struct {
	store     *Store
	submitter TaskSubmitter
	maxDelay  time.Duration
	log       *zap.SugaredLogger

	mu       sync.Mutex
	pending  *time.Timer
	inFlight bool
	stopped  bool

	now func() time.Time // injectable clock for tests
}

// NewTimer creates a trigger timer. Call Arm to schedule the first wake.
func NewTimer(store *Store, submitter TaskSubmitter, cfg TimerConfig, log *zap.SugaredLogger) *Timer {
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxTimerDelay
	}
	return &Timer{
		store:     store,
		submitter: submitter,
		maxDelay:  maxDelay,
		log:       log,
		now:       time.Now,
	}
}

// Arm schedules the next wake from the minimum next_run_at across enabled
// jobs. With nothing scheduled the timer goes idle. Any previously pending
// wake is invalidated first so it can never fire spuriously.
func (t *Timer) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}

	next, err := t.store.NextWake()
	if err != nil {
		// Store failure must not leave the timer dead: retry shortly.
		t.log.Errorw("Failed to query next wake time, retrying", "error", err)
		t.pending = time.AfterFunc(30*time.Second, t.onTimer)
		return
	}
	if next == nil {
		t.log.Debugw("No scheduled jobs, timer idle")
		return
	}

	delay := next.Sub(t.now())
	if delay < 0 {
		delay = 0
	}
	if delay > t.maxDelay {
		// Clamped wake: re-check before the nominal due time rather than
		// sleeping past it.
		delay = t.maxDelay
	}

	t.pending = time.AfterFunc(delay, t.onTimer)
	t.log.Debugw("Timer armed", "next_run_at", next, "delay", delay)
}

// onTimer runs one wake: fire due jobs, sweep stuck ones, re-arm. The
// in-flight guard drops overlapping wakes instead of running them
// concurrently; the dropped wake is covered by the unconditional re-arm.
func (t *Timer) onTimer() {
	t.mu.Lock()
	if t.inFlight || t.stopped {
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
		t.Arm()
	}()

	now := t.now()
	if err := t.tick(now); err != nil {
		t.log.Warnw("Tick error", "error", err)
	}
	if err := t.checkStuck(now); err != nil {
		t.log.Warnw("Stuck-job sweep error", "error", err)
	}
}

// Stop cancels any pending wake and returns to idle. Idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// tick fires every job whose next_run_at has passed, in ascending
// next_run_at order. A failure inside one job's fire is logged and isolated;
// it never prevents the remaining due jobs from firing.
func (t *Timer) tick(now time.Time) error {
	jobs, err := t.store.ListDueContext(context.Background(), now)
	if err != nil {
		return errors.Wrap(err, "failed to list due jobs")
	}

	for _, job := range jobs {
		if err := t.fire(job, now); err != nil {
			t.log.Errorw("Failed to fire job",
				"job_id", job.ID,
				"job_name", job.Name,
				"error", err)
			continue
		}
	}
	return nil
}

// fire submits one due job to the queue and advances its schedule state.
func (t *Timer) fire(job *Job, now time.Time) error {
	next, scheduleBroken := t.nextForJob(job, now)
	if scheduleBroken {
		// No well-defined next fire exists; surface to the operator via the
		// counter rather than retrying on a timer.
		t.log.Errorw("Job schedule is malformed, disabling future fires",
			"job_id", job.ID,
			"job_name", job.Name)
		return t.store.IncrementScheduleError(job.ID)
	}

	taskID, err := t.submitter.SubmitJobTask(job)
	if err != nil {
		// Submission failure counts as an execution error: record it and
		// push next_run_at out by backoff so the retry is not a hot loop.
		job.LastStatus = RunStatusError
		job.LastError = err.Error()
		job.LastRunAt = util.Ptr(now)
		job.RunningAt = nil
		job.ConsecutiveErrors++
		job.NextRunAt = backoffAdjusted(next, now, job.ConsecutiveErrors)
		if stateErr := t.store.UpdateJobState(job); stateErr != nil {
			t.log.Errorw("Failed to record submission failure", "job_id", job.ID, "error", stateErr)
		}
		return errors.Wrap(err, "failed to submit task")
	}

	t.log.Infow("Job fired",
		"job_id", job.ID,
		"job_name", job.Name,
		"task_id", taskID,
		"next_run_at", next)

	return t.store.MarkFired(job.ID, now, next)
}

// nextForJob computes the recomputed next_run_at after a fire at now.
// The second return value is true when a cron expression failed to parse;
// one-shot schedules going dead are normal, not a schedule error.
func (t *Timer) nextForJob(job *Job, now time.Time) (*time.Time, bool) {
	next, ok := NextRun(job.Schedule, now.Add(time.Second))
	if ok {
		return &next, false
	}
	if job.Schedule.Kind() == KindCron {
		return nil, true
	}
	return nil, false
}

// checkStuck forces jobs whose in-flight fire exceeded its timeout into an
// error state so they are not pinned on running_at forever.
func (t *Timer) checkStuck(now time.Time) error {
	jobs, err := t.store.ListRunning()
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}

	for _, job := range jobs {
		if job.RunningAt == nil || now.Before(job.RunningAt.Add(job.Timeout())) {
			continue
		}

		t.log.Warnw("Job exceeded timeout, marking as stuck",
			"job_id", job.ID,
			"job_name", job.Name,
			"running_since", job.RunningAt,
			"timeout_seconds", job.TimeoutSeconds)

		job.RunningAt = nil
		job.LastStatus = RunStatusTimeout
		job.LastError = "execution exceeded timeout"
		job.ConsecutiveErrors++
		job.NextRunAt = backoffAdjusted(job.NextRunAt, now, job.ConsecutiveErrors)

		if err := t.store.UpdateJobState(job); err != nil {
			t.log.Errorw("Failed to mark job as stuck", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// HandleTaskResult is the completion callback invoked by the queue when a
// job-submitted task reaches a terminal state. It owns the job's last_* and
// consecutive_errors bookkeeping and re-arms the timer, since a backoff
// adjustment may move the next wake.
func (t *Timer) HandleTaskResult(jobID string, result TaskResult) {
	job, err := t.store.GetJob(jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return // job deleted while its task ran
		}
		t.log.Errorw("Failed to load job for completion", "job_id", jobID, "error", err)
		return
	}

	now := t.now()
	job.RunningAt = nil
	job.LastDurationMs = result.DurationMs

	switch {
	case result.Cancelled:
		// User-requested, not counted as an error; no backoff.
	case result.Err != "":
		job.LastStatus = RunStatusError
		job.LastError = result.Err
		job.ConsecutiveErrors++
		job.NextRunAt = backoffAdjusted(job.NextRunAt, now, job.ConsecutiveErrors)
	default:
		job.LastStatus = RunStatusSuccess
		job.LastError = ""
		job.ConsecutiveErrors = 0

		if job.DeleteAfterRun && job.NextRunAt == nil {
			// Completed one-shot with delete_after_run: the job is done.
			if err := t.store.DeleteJob(job.ID); err != nil {
				t.log.Errorw("Failed to delete one-shot job", "job_id", job.ID, "error", err)
			} else {
				t.log.Infow("Deleted completed one-shot job", "job_id", job.ID, "job_name", job.Name)
			}
			t.Arm()
			return
		}
	}

	if err := t.store.UpdateJobState(job); err != nil {
		t.log.Errorw("Failed to record task result", "job_id", jobID, "error", err)
	}
	t.Arm()
}

// backoffAdjusted delays the scheduled next fire when the error backoff floor
// lands later than the schedule would. A job with no next fire stays dead;
// backoff never resurrects a one-shot.
func backoffAdjusted(scheduled *time.Time, now time.Time, consecutiveErrors int) *time.Time {
	if scheduled == nil {
		return nil
	}
	floor := now.Add(ErrorBackoff(consecutiveErrors))
	if scheduled.Before(floor) {
		return &floor
	}
	return scheduled
}
