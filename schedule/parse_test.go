package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecCron(t *testing.T) {
	for _, raw := range []string{"*/5 * * * *", "0 8 * * 1", "cron: 30 6 * * *"} {
		s, err := ParseSpec(raw)
		require.NoError(t, err, raw)
		require.IsType(t, Cron{}, s, raw)
	}

	s, err := ParseSpec("cron:0 8 * * *")
	require.NoError(t, err)
	assert.Equal(t, Cron{Expr: "0 8 * * *"}, s)
}

func TestParseSpecShortcuts(t *testing.T) {
	cases := map[string]string{
		"hourly":      "0 * * * *",
		"daily":       "0 0 * * *",
		"weekly":      "0 0 * * 0",
		"daily 08:30": "30 8 * * *",
		"daily 7:05":  "5 7 * * *",
	}
	for raw, expr := range cases {
		s, err := ParseSpec(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, Cron{Expr: expr}, s, raw)
	}
}

func TestParseSpecInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"10m":          10 * time.Minute,
		"2h30m":        2*time.Hour + 30*time.Minute,
		"every 45s":    45 * time.Second,
		"every:90s":    90 * time.Second,
		"interval: 1h": time.Hour,
	}
	for raw, want := range cases {
		s, err := ParseSpec(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, Every{Interval: want}, s, raw)
	}
}

func TestParseSpecOneShot(t *testing.T) {
	want := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2026-09-01T08:00:00Z",
		"at 2026-09-01T08:00:00Z",
		"at:2026-09-01T08:00:00Z",
	} {
		s, err := ParseSpec(raw)
		require.NoError(t, err, raw)
		at, ok := s.(At)
		require.True(t, ok, raw)
		assert.True(t, at.Time.Equal(want), raw)
	}
}

func TestParseSpecRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"banana",
		"daily 25:00",
		"daily 08:75",
		"cron:",
		"every:0s",
		"every:-5m",
		"at:not-a-time",
		"61 * * * *",
	} {
		_, err := ParseSpec(raw)
		assert.Error(t, err, "expected %q to be rejected", raw)
	}
}
