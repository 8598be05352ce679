// Package schedule provides durable trigger definitions and the self-arming
// timer that fires them. A Job owns a Schedule; when the schedule becomes due
// the timer submits a task to the queue and recomputes the next fire time.
package schedule

import "time"

// Kind discriminates the three schedule variants.
type Kind string

const (
	KindCron  Kind = "cron"
	KindAt    Kind = "at"
	KindEvery Kind = "every"
)

// Schedule is a closed sum over the three trigger kinds. Each variant carries
// only the fields that are meaningful for its kind, so a cron schedule with an
// interval is unrepresentable.
type Schedule interface {
	Kind() Kind
}

// Cron is a recurring schedule driven by a 5-field cron expression
// (minute, hour, day-of-month, month, day-of-week) evaluated in Timezone.
type Cron struct {
	Expr     string
	Timezone string // IANA name; empty means local time
}

func (Cron) Kind() Kind { return KindCron }

// At fires at most once, at an absolute timestamp. Once the timestamp has
// passed the schedule is dead and never fires again.
type At struct {
	Time time.Time
}

func (At) Kind() Kind { return KindAt }

// Every fires on a fixed interval. With an anchor the fires are phase-aligned
// to anchor + k*Interval; without one the next fire is relative to now.
type Every struct {
	Interval time.Duration
	Anchor   *time.Time
}

func (Every) Kind() Kind { return KindEvery }
