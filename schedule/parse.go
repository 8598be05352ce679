package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/draftmill/draftmill/errors"
)

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseSpec parses a schedule phrase into a Schedule.
//
// Supported forms:
//   - Cron (crontab-style): "*/5 * * * *", "0 8 * * 1"
//   - Named shortcuts: "hourly", "daily", "daily 08:30", "weekly"
//   - Interval: "10m", "2h30m", "every 45s"
//   - One-shot: an RFC3339 timestamp, "at 2026-09-01T08:00:00Z"
//
// Optional prefixes force a particular interpretation:
//   - "cron:" forces cron parsing
//   - "every:" or "interval:" forces interval parsing
//   - "at:" forces one-shot parsing
func ParseSpec(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("schedule required")
	}

	low := strings.ToLower(s)

	// Explicit prefixes
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return nil, errors.New("cron expression required after 'cron:'")
		}
		if err := ValidateCron(expr); err != nil {
			return nil, errors.Wrapf(err, "invalid cron expression %q", expr)
		}
		return Cron{Expr: expr}, nil
	}
	for _, prefix := range []string{"every:", "interval:"} {
		if strings.HasPrefix(low, prefix) {
			return parseInterval(strings.TrimSpace(s[len(prefix):]))
		}
	}
	if strings.HasPrefix(low, "at:") {
		return parseOneShot(strings.TrimSpace(s[len("at:"):]))
	}

	// Spaced keyword forms: "every 10m", "at <timestamp>", "daily 08:30"
	if fields := strings.Fields(low); len(fields) == 2 {
		switch fields[0] {
		case "every":
			return parseInterval(fields[1])
		case "at":
			return parseOneShot(strings.Fields(s)[1])
		case "daily":
			m := reHHMM.FindStringSubmatch(fields[1])
			if m == nil {
				return nil, errors.Newf("invalid time %q for daily schedule (use HH:MM)", fields[1])
			}
			hour, _ := strconv.Atoi(m[1])
			minute, _ := strconv.Atoi(m[2])
			if hour > 23 || minute > 59 {
				return nil, errors.Newf("invalid time %q for daily schedule", fields[1])
			}
			return Cron{Expr: fmt.Sprintf("%d %d * * *", minute, hour)}, nil
		}
	}

	// Named shortcuts
	switch low {
	case "hourly":
		return Cron{Expr: "0 * * * *"}, nil
	case "daily":
		return Cron{Expr: "0 0 * * *"}, nil
	case "weekly":
		return Cron{Expr: "0 0 * * 0"}, nil
	}

	// Anything with whitespace left is treated as a cron expression
	if strings.ContainsAny(s, " \t") {
		if err := ValidateCron(s); err != nil {
			return nil, errors.Wrapf(err, "invalid cron expression %q", s)
		}
		return Cron{Expr: s}, nil
	}

	// Bare RFC3339 timestamp => one-shot
	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return At{Time: at}, nil
	}

	// Bare Go duration => interval
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return nil, errors.New("interval must be > 0")
		}
		return Every{Interval: d}, nil
	}

	return nil, errors.Newf(
		"invalid schedule %q (use cron like '*/5 * * * *', a duration like '30m', or an RFC3339 timestamp)",
		raw,
	)
}

func parseInterval(v string) (Schedule, error) {
	if v == "" {
		return nil, errors.New("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, errors.Newf("invalid interval %q (use a Go duration like '45s' or '2h30m')", v)
	}
	if d <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	return Every{Interval: d}, nil
}

func parseOneShot(v string) (Schedule, error) {
	if v == "" {
		return nil, errors.New("timestamp required")
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.Newf("invalid timestamp %q (use RFC3339)", v)
	}
	return At{Time: at}, nil
}
