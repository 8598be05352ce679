package schedule

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/draftmill/draftmill/errors"
)

// MigrateLegacyTasks imports rows from the old single-table scheduler
// (legacy_scheduled_tasks) into the jobs table. The legacy table mixed
// trigger definitions and execution state in one row per task; only the
// trigger definition carries over, execution state starts fresh.
//
// The import is idempotent: each legacy row maps to a deterministic job ID
// and INSERT OR IGNORE makes re-running a no-op. The legacy table itself is
// left intact so the old binary can still read it during a rollback.
func MigrateLegacyTasks(db *sql.DB, log *zap.SugaredLogger) (int, error) {
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'legacy_scheduled_tasks'`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to check for legacy table")
	}

	rows, err := db.Query(`
		SELECT id, name, schedule_type, cron_expr, run_at, gen_params, publish_config, enabled
		FROM legacy_scheduled_tasks`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read legacy tasks")
	}
	defer rows.Close()

	type legacyRow struct {
		id            string
		name          string
		scheduleType  string
		cronExpr      sql.NullString
		runAt         sql.NullString
		genParams     sql.NullString
		publishConfig sql.NullString
		enabled       bool
	}

	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.name, &r.scheduleType, &r.cronExpr, &r.runAt, &r.genParams, &r.publishConfig, &r.enabled); err != nil {
			return 0, errors.Wrap(err, "failed to scan legacy task")
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to iterate legacy tasks")
	}

	migrated := 0
	now := time.Now()
	for _, r := range pending {
		sched, err := legacySchedule(r.scheduleType, r.cronExpr, r.runAt)
		if err != nil {
			log.Warnw("Skipping unmigratable legacy task",
				"legacy_id", r.id,
				"name", r.name,
				"error", err)
			continue
		}

		kind, cols, err := scheduleColumns(sched)
		if err != nil {
			return migrated, err
		}

		genParams := "{}"
		if r.genParams.Valid && r.genParams.String != "" {
			genParams = r.genParams.String
		}

		var nextRunAt interface{}
		if r.enabled {
			if next, ok := NextRun(sched, now); ok {
				nextRunAt = next.UTC().Format(time.RFC3339)
			}
		}

		nowStr := now.UTC().Format(time.RFC3339)
		result, err := db.Exec(`
			INSERT OR IGNORE INTO jobs (
				id, name, enabled,
				schedule_kind, cron_expr, cron_timezone, at_time, every_seconds, anchor_at,
				gen_params, publish_config, timeout_seconds, delete_after_run,
				next_run_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			"JOB_legacy_"+r.id,
			r.name,
			r.enabled,
			kind,
			cols.cronExpr,
			cols.cronTimezone,
			cols.atTime,
			cols.everySeconds,
			cols.anchorAt,
			genParams,
			nullableString(r.publishConfig.String),
			DefaultTimeoutSeconds,
			kind == string(KindAt), // legacy one-shots were removed after firing
			nextRunAt,
			nowStr,
			nowStr,
		)
		if err != nil {
			return migrated, errors.Wrapf(err, "failed to import legacy task %s", r.id)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			migrated++
		}
	}

	if migrated > 0 {
		log.Infow("Migrated legacy scheduled tasks", "count", migrated)
	}
	return migrated, nil
}

// legacySchedule maps the legacy schedule_type discriminator onto the
// Schedule sum type. 'cron' carried a cron expression, 'once' an RFC3339
// timestamp.
func legacySchedule(scheduleType string, cronExpr, runAt sql.NullString) (Schedule, error) {
	switch scheduleType {
	case "cron":
		if !cronExpr.Valid || cronExpr.String == "" {
			return nil, errors.New("cron task missing expression")
		}
		if err := ValidateCron(cronExpr.String); err != nil {
			return nil, errors.Wrapf(err, "invalid legacy cron expression %q", cronExpr.String)
		}
		return Cron{Expr: cronExpr.String}, nil
	case "once":
		if !runAt.Valid || runAt.String == "" {
			return nil, errors.New("one-shot task missing run_at")
		}
		at, err := time.Parse(time.RFC3339, runAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid legacy run_at %q", runAt.String)
		}
		return At{Time: at}, nil
	default:
		return nil, errors.Newf("unknown legacy schedule_type %q", scheduleType)
	}
}
