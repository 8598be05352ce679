// Package daemon wires the scheduler core together: store, task queue,
// trigger timer, and publish pipeline, owned by one process-level object.
package daemon

import (
	"database/sql"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/db"
	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/publish"
	"github.com/draftmill/draftmill/queue"
	"github.com/draftmill/draftmill/schedule"
)

const stopTimeout = 30 * time.Second

// Daemon is the composition root of the scheduler core. All shared services
// (rate limiter, stores, publish registry) are constructed here and injected;
// nothing lives in package-level state.
type Daemon struct {
	cfg     *config.Config
	db      *sql.DB
	ownsDB  bool
	jobs    *schedule.Store
	manager *queue.Manager
	timer   *schedule.Timer
	log     *zap.SugaredLogger
}

// New opens the database and assembles the daemon.
func New(cfg *config.Config, executor queue.Executor, log *zap.SugaredLogger) (*Daemon, error) {
	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}
	d, err := NewWithDB(cfg, conn, executor, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	d.ownsDB = true
	return d, nil
}

// NewWithDB assembles the daemon on an existing connection. The caller keeps
// ownership of the connection; used by tests.
func NewWithDB(cfg *config.Config, conn *sql.DB, executor queue.Executor, log *zap.SugaredLogger) (*Daemon, error) {
	if err := db.Migrate(conn, log); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	if _, err := schedule.MigrateLegacyTasks(conn, log); err != nil {
		return nil, errors.Wrap(err, "failed to migrate legacy scheduled tasks")
	}

	registry := publish.NewRegistry()
	if cfg.Publish.WebhookURL != "" {
		registry.Register(publish.NewWebhookPlatform("webhook", cfg.Publish.WebhookURL))
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Publish.RequestsPerMinute/60), 1)
	pipeline := publish.NewPipeline(
		registry,
		publish.Thresholds{
			MinWordCount:  cfg.Publish.MinWordCount,
			MinImageCount: cfg.Publish.MinImageCount,
		},
		limiter,
		log,
	)

	manager := queue.NewManager(
		queue.NewStore(conn),
		queue.NewRecordStore(conn),
		executor,
		pipeline,
		queue.ManagerConfig{MaxConcurrent: cfg.Queue.MaxConcurrent},
		log,
	)

	jobs := schedule.NewStore(conn)
	timer := schedule.NewTimer(jobs, manager, schedule.TimerConfig{MaxDelay: cfg.Timer.MaxDelay()}, log)

	// Task completions for job-fired tasks feed back into the timer's job
	// bookkeeping (consecutive errors, backoff, one-shot deletion).
	manager.SetCompletionFunc(func(task *queue.Task) {
		if task.JobID == "" {
			return
		}
		timer.HandleTaskResult(task.JobID, schedule.TaskResult{
			Cancelled:  task.Status == queue.StatusCancelled,
			Err:        task.Error,
			DurationMs: task.DurationMs(),
		})
	})

	return &Daemon{
		cfg:     cfg,
		db:      conn,
		jobs:    jobs,
		manager: manager,
		timer:   timer,
		log:     log,
	}, nil
}

// Start recovers persisted queue state and arms the trigger timer.
func (d *Daemon) Start() error {
	if err := d.manager.Start(); err != nil {
		return err
	}
	d.timer.Arm()
	d.log.Infow("Daemon started",
		"max_concurrent", d.cfg.Queue.MaxConcurrent,
		"database", d.cfg.Database.Path)
	return nil
}

// Stop shuts the timer and queue down, then closes the database if the
// daemon opened it.
func (d *Daemon) Stop() {
	d.timer.Stop()
	d.manager.Stop(stopTimeout)
	if d.ownsDB {
		if err := d.db.Close(); err != nil {
			d.log.Warnw("Failed to close database", "error", err)
		}
	}
	d.log.Infow("Daemon stopped")
}

// Queue exposes the task queue manager for progress subscriptions.
func (d *Daemon) Queue() *queue.Manager {
	return d.manager
}
