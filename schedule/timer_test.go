package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	dmtest "github.com/draftmill/draftmill/internal/testing"
	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/internal/util"
)

type fakeSubmitter struct {
	submitted []string // job IDs in submission order
	err       error
}

func (f *fakeSubmitter) SubmitJobTask(job *Job) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, job.ID)
	return "TASK_" + job.ID, nil
}

func newTestTimer(t *testing.T, store *Store, sub *fakeSubmitter, now time.Time) *Timer {
	t.Helper()
	timer := NewTimer(store, sub, DefaultTimerConfig(), zap.NewNop().Sugar())
	timer.now = func() time.Time { return now }
	t.Cleanup(timer.Stop)
	return timer
}

func TestTimerTickFiresDueJobsInOrder(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	second := testJob(t, "second", Every{Interval: time.Hour})
	second.NextRunAt = util.Ptr(now.Add(-time.Minute))
	require.NoError(t, store.CreateJob(second))

	first := testJob(t, "first", Every{Interval: time.Hour})
	first.NextRunAt = util.Ptr(now.Add(-2 * time.Minute))
	require.NoError(t, store.CreateJob(first))

	notDue := testJob(t, "not-due", Every{Interval: time.Hour})
	notDue.NextRunAt = util.Ptr(now.Add(time.Hour))
	require.NoError(t, store.CreateJob(notDue))

	sub := &fakeSubmitter{}
	timer := newTestTimer(t, store, sub, now)
	require.NoError(t, timer.tick(now))

	require.Equal(t, []string{first.ID, second.ID}, sub.submitted)

	got, err := store.GetJob(first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RunningAt)
	assert.True(t, got.RunningAt.Equal(now))
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now))

	untouched, err := store.GetJob(notDue.ID)
	require.NoError(t, err)
	assert.Nil(t, untouched.RunningAt)
}

func TestTimerMalformedCronCountsScheduleError(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	// Bypass creation-time validation to simulate an expression that went bad
	// after the fact (e.g. hand-edited storage).
	job := testJob(t, "broken-cron", Cron{Expr: "not a cron"})
	job.NextRunAt = util.Ptr(now.Add(-time.Minute))
	require.NoError(t, store.CreateJob(job))

	sub := &fakeSubmitter{}
	timer := newTestTimer(t, store, sub, now)
	require.NoError(t, timer.tick(now))

	assert.Empty(t, sub.submitted)

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ScheduleErrorCount)
	assert.Equal(t, 0, got.ConsecutiveErrors)
	assert.Nil(t, got.NextRunAt)
}

func TestTimerOneShotGoesDeadAfterFiring(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	job := testJob(t, "one-shot", At{Time: now.Add(-time.Second)})
	job.NextRunAt = util.Ptr(now.Add(-time.Second))
	require.NoError(t, store.CreateJob(job))

	sub := &fakeSubmitter{}
	timer := newTestTimer(t, store, sub, now)
	require.NoError(t, timer.tick(now))

	require.Equal(t, []string{job.ID}, sub.submitted)

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt, "a fired one-shot has no next run")
	assert.Equal(t, 0, got.ScheduleErrorCount, "going dead is not a schedule error")
}

func TestTimerSubmitFailureBacksOff(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	job := testJob(t, "unsubmittable", Every{Interval: time.Second})
	job.NextRunAt = util.Ptr(now.Add(-time.Minute))
	require.NoError(t, store.CreateJob(job))

	sub := &fakeSubmitter{err: errors.New("queue full")}
	timer := newTestTimer(t, store, sub, now)
	require.NoError(t, timer.tick(now), "one job's failure is isolated, not a tick error")

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusError, got.LastStatus)
	assert.Contains(t, got.LastError, "queue full")
	assert.Equal(t, 1, got.ConsecutiveErrors)
	assert.Nil(t, got.RunningAt)
	require.NotNil(t, got.NextRunAt)
	// 1s interval would be due almost immediately; the backoff floor for one
	// failure pushes it out to now+30s.
	assert.True(t, got.NextRunAt.Equal(now.Add(30*time.Second)))
}

func TestTimerCheckStuck(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	stuck := testJob(t, "stuck", Every{Interval: time.Hour})
	stuck.TimeoutSeconds = 60
	require.NoError(t, store.CreateJob(stuck))
	require.NoError(t, store.MarkFired(stuck.ID, now.Add(-5*time.Minute), util.Ptr(now.Add(time.Hour))))

	healthy := testJob(t, "healthy", Every{Interval: time.Hour})
	require.NoError(t, store.CreateJob(healthy))
	require.NoError(t, store.MarkFired(healthy.ID, now.Add(-10*time.Second), util.Ptr(now.Add(time.Hour))))

	timer := newTestTimer(t, store, &fakeSubmitter{}, now)
	require.NoError(t, timer.checkStuck(now))

	got, err := store.GetJob(stuck.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RunningAt)
	assert.Equal(t, RunStatusTimeout, got.LastStatus)
	assert.Equal(t, 1, got.ConsecutiveErrors)

	ok, err := store.GetJob(healthy.ID)
	require.NoError(t, err)
	assert.NotNil(t, ok.RunningAt, "in-flight jobs inside their timeout are untouched")
	assert.NotEqual(t, RunStatusTimeout, ok.LastStatus)
}

func TestTimerHandleTaskResultSuccess(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	job := testJob(t, "recovering", Every{Interval: time.Hour})
	job.ConsecutiveErrors = 3
	require.NoError(t, store.CreateJob(job))
	require.NoError(t, store.MarkFired(job.ID, now, util.Ptr(now.Add(time.Hour))))

	timer := newTestTimer(t, store, &fakeSubmitter{}, now)
	timer.HandleTaskResult(job.ID, TaskResult{DurationMs: 1234})

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RunningAt)
	assert.Equal(t, RunStatusSuccess, got.LastStatus)
	assert.Empty(t, got.LastError)
	assert.Equal(t, 1234, got.LastDurationMs)
	assert.Equal(t, 0, got.ConsecutiveErrors, "success resets the failure streak")
}

func TestTimerHandleTaskResultFailureBacksOff(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	job := testJob(t, "flaky", Every{Interval: time.Second})
	require.NoError(t, store.CreateJob(job))
	require.NoError(t, store.MarkFired(job.ID, now, util.Ptr(now.Add(time.Second))))

	timer := newTestTimer(t, store, &fakeSubmitter{}, now)
	timer.HandleTaskResult(job.ID, TaskResult{Err: "model unavailable", DurationMs: 10})
	timer.HandleTaskResult(job.ID, TaskResult{Err: "model unavailable", DurationMs: 10})

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusError, got.LastStatus)
	assert.Equal(t, "model unavailable", got.LastError)
	assert.Equal(t, 2, got.ConsecutiveErrors)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(now.Add(60*time.Second)), "two failures floor the next fire at now+60s")
}

func TestTimerHandleTaskResultCancelledIsNotAnError(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	job := testJob(t, "cancelled", Every{Interval: time.Hour})
	require.NoError(t, store.CreateJob(job))
	next := now.Add(time.Hour)
	require.NoError(t, store.MarkFired(job.ID, now, &next))

	timer := newTestTimer(t, store, &fakeSubmitter{}, now)
	timer.HandleTaskResult(job.ID, TaskResult{Cancelled: true, DurationMs: 5})

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RunningAt)
	assert.Equal(t, 0, got.ConsecutiveErrors)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next), "cancellation leaves the schedule alone")
}

func TestTimerHandleTaskResultDeletesOneShot(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	job := NewJob("ephemeral", At{Time: now}, json.RawMessage(`{}`), nil)
	job.DeleteAfterRun = true
	require.NoError(t, store.CreateJob(job))
	require.NoError(t, store.MarkFired(job.ID, now, nil))

	timer := newTestTimer(t, store, &fakeSubmitter{}, now)
	timer.HandleTaskResult(job.ID, TaskResult{DurationMs: 100})

	_, err := store.GetJob(job.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTimerHandleTaskResultJobDeletedMidFlight(t *testing.T) {
	store := NewStore(dmtest.CreateTestDB(t))
	timer := newTestTimer(t, store, &fakeSubmitter{}, time.Now())

	// Must not panic or create anything.
	timer.HandleTaskResult("JOB_gone", TaskResult{DurationMs: 1})
}

func TestTimerStopIsIdempotent(t *testing.T) {
	store := NewStore(dmtest.CreateTestDB(t))
	timer := NewTimer(store, &fakeSubmitter{}, DefaultTimerConfig(), zap.NewNop().Sugar())

	timer.Arm()
	timer.Stop()
	timer.Stop()
	timer.Arm() // arming after stop is a no-op, not a crash
}

func TestBackoffAdjusted(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	assert.Nil(t, backoffAdjusted(nil, now, 3), "backoff never resurrects a dead schedule")

	soon := now.Add(time.Second)
	got := backoffAdjusted(&soon, now, 1)
	require.NotNil(t, got)
	assert.True(t, got.Equal(now.Add(30*time.Second)))

	far := now.Add(2 * time.Hour)
	got = backoffAdjusted(&far, now, 5)
	require.NotNil(t, got)
	assert.True(t, got.Equal(far), "a schedule already past the floor is untouched")
}
