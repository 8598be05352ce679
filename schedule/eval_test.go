package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("future one-shot fires at its timestamp", func(t *testing.T) {
		at := now.Add(2 * time.Hour)
		next, ok := NextRun(At{Time: at}, now)
		require.True(t, ok)
		assert.Equal(t, at, next)
	})

	t.Run("one-shot exactly at now still fires", func(t *testing.T) {
		next, ok := NextRun(At{Time: now}, now)
		require.True(t, ok)
		assert.Equal(t, now, next)
	})

	t.Run("past one-shot never fires", func(t *testing.T) {
		_, ok := NextRun(At{Time: now.Add(-time.Minute)}, now)
		assert.False(t, ok)
	})
}

func TestNextRunEvery(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("unanchored interval fires one interval from now", func(t *testing.T) {
		next, ok := NextRun(Every{Interval: 10 * time.Minute}, now)
		require.True(t, ok)
		assert.Equal(t, now.Add(10*time.Minute), next)
	})

	t.Run("anchored interval stays on the anchor grid", func(t *testing.T) {
		anchor := now.Add(-25 * time.Minute)
		next, ok := NextRun(Every{Interval: 10 * time.Minute, Anchor: &anchor}, now)
		require.True(t, ok)
		// Grid points: anchor+10m (-15m), anchor+20m (-5m), anchor+30m (+5m).
		assert.Equal(t, anchor.Add(30*time.Minute), next)
		assert.True(t, next.After(now))
		assert.LessOrEqual(t, next.Sub(now), 10*time.Minute)
	})

	t.Run("now exactly on a grid boundary advances to the next boundary", func(t *testing.T) {
		anchor := now.Add(-30 * time.Minute)
		next, ok := NextRun(Every{Interval: 10 * time.Minute, Anchor: &anchor}, now)
		require.True(t, ok)
		assert.Equal(t, now.Add(10*time.Minute), next)
	})

	t.Run("future anchor fires at the anchor", func(t *testing.T) {
		anchor := now.Add(time.Hour)
		next, ok := NextRun(Every{Interval: 10 * time.Minute, Anchor: &anchor}, now)
		require.True(t, ok)
		assert.Equal(t, anchor, next)
	})

	t.Run("non-positive interval never fires", func(t *testing.T) {
		_, ok := NextRun(Every{Interval: 0}, now)
		assert.False(t, ok)
	})
}

func TestNextRunCron(t *testing.T) {
	t.Run("daily 8am before 8 fires same day", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
		next, ok := NextRun(Cron{Expr: "0 8 * * *", Timezone: "UTC"}, now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("daily 8am after 8 fires next day", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		next, ok := NextRun(Cron{Expr: "0 8 * * *", Timezone: "UTC"}, now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("step expression", func(t *testing.T) {
		now := time.Date(2026, 3, 10, 12, 3, 0, 0, time.UTC)
		next, ok := NextRun(Cron{Expr: "*/5 * * * *", Timezone: "UTC"}, now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC), next.UTC())
	})

	t.Run("timezone is honored", func(t *testing.T) {
		// 07:00 UTC is 09:00 in Berlin (CEST); the 8am Berlin fire is next day.
		now := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
		next, ok := NextRun(Cron{Expr: "0 8 * * *", Timezone: "Europe/Berlin"}, now)
		require.True(t, ok)
		berlin, err := time.LoadLocation("Europe/Berlin")
		require.NoError(t, err)
		assert.True(t, next.Equal(time.Date(2026, 6, 11, 8, 0, 0, 0, berlin)))
	})

	t.Run("malformed expression never fires", func(t *testing.T) {
		_, ok := NextRun(Cron{Expr: "not a cron"}, time.Now())
		assert.False(t, ok)
	})

	t.Run("unknown timezone never fires", func(t *testing.T) {
		_, ok := NextRun(Cron{Expr: "0 8 * * *", Timezone: "Mars/Olympus"}, time.Now())
		assert.False(t, ok)
	})
}

func TestNextRunIsPure(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	anchor := now.Add(-7 * time.Minute)
	schedules := []Schedule{
		Cron{Expr: "*/15 * * * *", Timezone: "UTC"},
		At{Time: now.Add(time.Hour)},
		Every{Interval: 5 * time.Minute, Anchor: &anchor},
	}

	for _, s := range schedules {
		first, ok1 := NextRun(s, now)
		second, ok2 := NextRun(s, now)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, first, second)
	}
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("*/5 * * * *"))
	assert.NoError(t, ValidateCron("0 8 * * 1"))
	assert.Error(t, ValidateCron("61 * * * *"))
	assert.Error(t, ValidateCron("* * *"))
	assert.Error(t, ValidateCron("banana"))
}
