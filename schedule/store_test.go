package schedule

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/errors"
	dmtest "github.com/draftmill/draftmill/internal/testing"
	"github.com/draftmill/draftmill/internal/util"
)

func testJob(t *testing.T, name string, s Schedule) *Job {
	t.Helper()
	return NewJob(name, s, json.RawMessage(`{"topic":"go"}`), nil)
}

func TestStoreCreateGetRoundtrip(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)

	anchor := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	schedules := []Schedule{
		Cron{Expr: "0 8 * * *", Timezone: "Europe/Berlin"},
		At{Time: time.Now().Add(time.Hour).UTC().Truncate(time.Second)},
		Every{Interval: 15 * time.Minute, Anchor: &anchor},
		Every{Interval: time.Hour},
	}

	for _, s := range schedules {
		job := testJob(t, "roundtrip", s)
		require.NoError(t, store.CreateJob(job))

		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, s, got.Schedule)
		assert.True(t, got.Enabled)
		assert.Equal(t, DefaultTimeoutSeconds, got.TimeoutSeconds)
		assert.JSONEq(t, `{"topic":"go"}`, string(got.GenParams))
	}
}

func TestStoreGetJobNotFound(t *testing.T) {
	store := NewStore(dmtest.CreateTestDB(t))

	_, err := store.GetJob("JOB_missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreListDueOrdering(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC()

	later := testJob(t, "later", Every{Interval: time.Hour})
	later.NextRunAt = util.Ptr(now.Add(-time.Minute))
	require.NoError(t, store.CreateJob(later))

	earlier := testJob(t, "earlier", Every{Interval: time.Hour})
	earlier.NextRunAt = util.Ptr(now.Add(-time.Hour))
	require.NoError(t, store.CreateJob(earlier))

	future := testJob(t, "future", Every{Interval: time.Hour})
	future.NextRunAt = util.Ptr(now.Add(time.Hour))
	require.NoError(t, store.CreateJob(future))

	due, err := store.ListDueContext(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "earlier", due[0].Name)
	assert.Equal(t, "later", due[1].Name)
}

func TestStoreDisabledJobsAreNeverDue(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC()

	job := testJob(t, "paused", Every{Interval: time.Hour})
	job.NextRunAt = util.Ptr(now.Add(-time.Minute))
	require.NoError(t, store.CreateJob(job))
	require.NoError(t, store.SetEnabled(job.ID, false, nil))

	due, err := store.ListDueContext(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, due)

	next, err := store.NextWake()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestStoreNextWakeIsMinimum(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Second)

	for _, offset := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		job := testJob(t, "wake", Every{Interval: 24 * time.Hour})
		job.NextRunAt = util.Ptr(now.Add(offset))
		require.NoError(t, store.CreateJob(job))
	}

	next, err := store.NextWake()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now.Add(time.Hour)))

	// A second store over the same database derives the identical wake time;
	// nothing about the trigger state lives in memory.
	again, err := NewStore(conn).NextWake()
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.True(t, again.Equal(*next))
}

func TestStoreMarkFired(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)

	job := testJob(t, "fired", Cron{Expr: "0 8 * * *", Timezone: "UTC"})
	require.NoError(t, store.CreateJob(job))

	firedAt := time.Now().UTC().Truncate(time.Second)
	next := firedAt.Add(24 * time.Hour)
	require.NoError(t, store.MarkFired(job.ID, firedAt, &next))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RunningAt)
	assert.True(t, got.RunningAt.Equal(firedAt))
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(firedAt))
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))

	running, err := store.ListRunning()
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, job.ID, running[0].ID)
}

func TestStoreUpdateJobState(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)

	job := testJob(t, "state", Every{Interval: time.Hour})
	require.NoError(t, store.CreateJob(job))

	job.LastStatus = RunStatusError
	job.LastError = "generation failed"
	job.LastDurationMs = 4200
	job.ConsecutiveErrors = 2
	job.NextRunAt = util.Ptr(time.Now().Add(time.Minute).UTC().Truncate(time.Second))
	require.NoError(t, store.UpdateJobState(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusError, got.LastStatus)
	assert.Equal(t, "generation failed", got.LastError)
	assert.Equal(t, 4200, got.LastDurationMs)
	assert.Equal(t, 2, got.ConsecutiveErrors)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(*job.NextRunAt))
}

func TestStoreIncrementScheduleError(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)

	job := testJob(t, "broken", Every{Interval: time.Hour})
	require.NoError(t, store.CreateJob(job))

	require.NoError(t, store.IncrementScheduleError(job.ID))
	require.NoError(t, store.IncrementScheduleError(job.ID))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ScheduleErrorCount)
	assert.Nil(t, got.NextRunAt)
}

func TestStoreDeleteJob(t *testing.T) {
	conn := dmtest.CreateTestDB(t)
	store := NewStore(conn)

	job := testJob(t, "doomed", Every{Interval: time.Hour})
	require.NoError(t, store.CreateJob(job))
	require.NoError(t, store.DeleteJob(job.ID))

	_, err := store.GetJob(job.ID)
	assert.True(t, errors.IsNotFoundError(err))
	assert.True(t, errors.IsNotFoundError(store.DeleteJob(job.ID)))
}
