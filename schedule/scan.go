package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/internal/util"
)

// scheduleCols holds the kind-specific columns of a schedule for insertion.
type scheduleCols struct {
	cronExpr     interface{}
	cronTimezone interface{}
	atTime       interface{}
	everySeconds interface{}
	anchorAt     interface{}
}

// scheduleColumns flattens a Schedule into its discriminator and the columns
// for the active kind; all other columns stay NULL.
func scheduleColumns(s Schedule) (string, scheduleCols, error) {
	var cols scheduleCols
	switch sc := s.(type) {
	case Cron:
		cols.cronExpr = sc.Expr
		if sc.Timezone != "" {
			cols.cronTimezone = sc.Timezone
		}
		return string(KindCron), cols, nil
	case At:
		cols.atTime = sc.Time.UTC().Format(time.RFC3339)
		return string(KindAt), cols, nil
	case Every:
		cols.everySeconds = int64(sc.Interval / time.Second)
		if sc.Anchor != nil {
			cols.anchorAt = sc.Anchor.UTC().Format(time.RFC3339)
		}
		return string(KindEvery), cols, nil
	default:
		return "", cols, errors.Newf("unknown schedule kind %T", s)
	}
}

// scheduleFromColumns rebuilds the Schedule sum type from its persisted form.
func scheduleFromColumns(kind string, cronExpr, cronTimezone, atTime sql.NullString, everySeconds sql.NullInt64, anchorAt sql.NullString) (Schedule, error) {
	switch Kind(kind) {
	case KindCron:
		if !cronExpr.Valid {
			return nil, errors.Newf("cron job missing expression")
		}
		return Cron{Expr: cronExpr.String, Timezone: cronTimezone.String}, nil
	case KindAt:
		if !atTime.Valid {
			return nil, errors.Newf("one-shot job missing timestamp")
		}
		at, err := time.Parse(time.RFC3339, atTime.String)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse at_time")
		}
		return At{Time: at}, nil
	case KindEvery:
		if !everySeconds.Valid {
			return nil, errors.Newf("interval job missing every_seconds")
		}
		every := Every{Interval: time.Duration(everySeconds.Int64) * time.Second}
		if anchorAt.Valid {
			anchor, err := time.Parse(time.RFC3339, anchorAt.String)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse anchor_at")
			}
			every.Anchor = &anchor
		}
		return every, nil
	default:
		return nil, errors.Newf("unknown schedule kind %q", kind)
	}
}

type scanFunc func(dest ...interface{}) error

// scanJobRow scans one job row in jobSelectColumns order.
func scanJobRow(scan scanFunc) (*Job, error) {
	var job Job
	var kind, genParams, createdAt, updatedAt string
	var cronExpr, cronTimezone, atTime, anchorAt sql.NullString
	var everySeconds sql.NullInt64
	var publishConfig, nextRunAt, runningAt, lastRunAt, lastStatus, lastError sql.NullString

	err := scan(
		&job.ID,
		&job.Name,
		&job.Enabled,
		&kind,
		&cronExpr,
		&cronTimezone,
		&atTime,
		&everySeconds,
		&anchorAt,
		&genParams,
		&publishConfig,
		&job.TimeoutSeconds,
		&job.DeleteAfterRun,
		&nextRunAt,
		&runningAt,
		&lastRunAt,
		&lastStatus,
		&lastError,
		&job.LastDurationMs,
		&job.ConsecutiveErrors,
		&job.ScheduleErrorCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Schedule, err = scheduleFromColumns(kind, cronExpr, cronTimezone, atTime, everySeconds, anchorAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode schedule for job %s", job.ID)
	}

	job.GenParams = json.RawMessage(genParams)
	if publishConfig.Valid {
		job.PublishConfig = json.RawMessage(publishConfig.String)
	}
	if lastStatus.Valid {
		job.LastStatus = RunStatus(lastStatus.String)
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}

	for _, field := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{nextRunAt, &job.NextRunAt},
		{runningAt, &job.RunningAt},
		{lastRunAt, &job.LastRunAt},
	} {
		if !field.src.Valid {
			continue
		}
		t, err := time.Parse(time.RFC3339, field.src.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse timestamp for job %s", job.ID)
		}
		*field.dst = util.Ptr(t)
	}

	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}

	return &job, nil
}

// scanJobRows scans all rows from a jobSelectColumns query.
func scanJobRows(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJobRow(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
