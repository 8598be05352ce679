package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the classic 5-field crontab format, including * and */N
// step syntax. Descriptors like @hourly are deliberately not enabled here;
// ParseSpec normalizes those before a Cron schedule is ever constructed.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextRun computes the next fire time for a schedule, given the current time.
// It is pure: no side effects, deterministic for a fixed (schedule, now) pair.
// The second return value is false when the schedule can never fire again
// (a past one-shot, a malformed cron expression, a non-positive interval).
// Callers decide whether false means "dead" or "broken"; the evaluator does
// not track schedule errors itself.
func NextRun(s Schedule, now time.Time) (time.Time, bool) {
	switch sc := s.(type) {
	case At:
		// A past one-shot is dead, not "fire immediately".
		if sc.Time.Before(now) {
			return time.Time{}, false
		}
		return sc.Time, true

	case Every:
		if sc.Interval <= 0 {
			return time.Time{}, false
		}
		if sc.Anchor == nil {
			return now.Add(sc.Interval), true
		}
		anchor := *sc.Anchor
		if now.Before(anchor) {
			return anchor, true
		}
		// Smallest anchor + k*Interval strictly after now. When now lands
		// exactly on a boundary we advance to the next one; boundaries are
		// never re-fired.
		elapsed := now.Sub(anchor)
		k := elapsed/sc.Interval + 1
		return anchor.Add(k * sc.Interval), true

	case Cron:
		spec, err := cronParser.Parse(sc.Expr)
		if err != nil {
			return time.Time{}, false
		}
		loc := time.Local
		if sc.Timezone != "" {
			l, err := time.LoadLocation(sc.Timezone)
			if err != nil {
				return time.Time{}, false
			}
			loc = l
		}
		next := spec.Next(now.In(loc))
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true
	}

	return time.Time{}, false
}

// ValidateCron reports whether a cron expression parses under the 5-field
// grammar. Used at job-creation time so malformed expressions are rejected
// before they ever reach the timer.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}
