package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/internal/util"
	"github.com/draftmill/draftmill/schedule"
)

// PublishResult is the outcome of the post-execution publish pipeline.
type PublishResult struct {
	Status   string
	Issues   []string
	Platform string
}

// Published reports whether the content actually went out.
func (r PublishResult) Published() bool {
	return r.Status == "published"
}

// Publisher runs the quality gate and conditional platform hand-off once a
// task's executor call returns a result. The publish package implements this.
type Publisher interface {
	Execute(ctx context.Context, task *Task, result *Result) PublishResult
}

// CompletionFunc observes every task reaching a terminal state. The daemon
// uses it to feed job bookkeeping back into the trigger timer.
type CompletionFunc func(task *Task)

// ProgressEvent is one progress update fanned out to subscribers.
type ProgressEvent struct {
	TaskID   string
	Status   Status
	Progress int
	Stage    string
	Detail   string
}

// ManagerConfig contains configuration for the task queue manager.
type ManagerConfig struct {
	MaxConcurrent int           // ceiling on simultaneously running tasks
	PollInterval  time.Duration // pickup interval for tasks enqueued by other processes
}

// DefaultManagerConfig returns sensible defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{MaxConcurrent: 2, PollInterval: 5 * time.Second}
}

// Manager owns the runtime task queue: it enforces the concurrency ceiling,
// dequeue order, cooperative cancellation, and progress reporting. All queue
// bookkeeping happens under one mutex; executor calls run in their own
// goroutines so bookkeeping never blocks on generation work.
type Manager struct {
	store     *Store
	records   *RecordStore
	executor  Executor
	publisher Publisher
	onDone    CompletionFunc
	log       *zap.SugaredLogger

	maxConcurrent int
	pollInterval  time.Duration

	mu          sync.Mutex
	active      int
	cancels     map[string]context.CancelFunc
	subscribers map[chan ProgressEvent]struct{}
	stopped     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a task queue manager. Call Start before submitting work.
func NewManager(store *Store, records *RecordStore, executor Executor, publisher Publisher, cfg ManagerConfig, log *zap.SugaredLogger) *Manager {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultManagerConfig().MaxConcurrent
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultManagerConfig().PollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:         store,
		records:       records,
		executor:      executor,
		publisher:     publisher,
		log:           log,
		maxConcurrent: maxConcurrent,
		pollInterval:  pollInterval,
		cancels:       make(map[string]context.CancelFunc),
		subscribers:   make(map[chan ProgressEvent]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetCompletionFunc installs the terminal-state observer. Must be called
// before Start.
func (m *Manager) SetCompletionFunc(fn CompletionFunc) {
	m.onDone = fn
}

// Start recovers orphaned tasks from a previous process and begins filling
// execution slots from the persisted queue.
func (m *Manager) Start() error {
	requeued, err := m.store.RequeueOrphans()
	if err != nil {
		return errors.Wrap(err, "failed to recover orphaned tasks")
	}
	if requeued > 0 {
		m.log.Infow("Requeued orphaned tasks from previous run", "count", requeued)
	}
	m.fillSlots()

	// Pickup loop for tasks enqueued outside this process (CLI submissions
	// land in the same database). In-process enqueues fill slots directly.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.fillSlots()
			}
		}
	}()
	return nil
}

// Enqueue persists a task as queued and starts it immediately if a slot is
// free.
func (m *Manager) Enqueue(task *Task) (string, error) {
	if len(task.GenParams) == 0 {
		return "", errors.NewInvalidRequestError("task requires generation parameters")
	}
	task.Status = StatusQueued

	if err := m.store.CreateTask(task); err != nil {
		return "", err
	}

	m.log.Infow("Task enqueued",
		"task_id", task.ID,
		"task_name", task.Name,
		"priority", task.Priority.String())

	m.publishEvent(task)
	m.fillSlots()
	return task.ID, nil
}

// SubmitJobTask converts a fired job into a queue submission. Implements the
// trigger timer's submitter contract.
func (m *Manager) SubmitJobTask(job *schedule.Job) (string, error) {
	task := NewTask(job.Name, job.GenParams, job.PublishConfig, PriorityNormal)
	task.JobID = job.ID
	return m.Enqueue(task)
}

// Get retrieves a task by ID
func (m *Manager) Get(id string) (*Task, error) {
	return m.store.GetTask(id)
}

// Cancel requests cancellation of a task. Queued tasks cancel immediately;
// running tasks get a cooperative signal and finish on their own schedule.
// Returns false for tasks already in a terminal state.
func (m *Manager) Cancel(id string) (bool, error) {
	m.mu.Lock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		m.mu.Unlock()
		m.log.Infow("Requested cancellation of running task", "task_id", id)
		return true, nil
	}
	m.mu.Unlock()

	task, err := m.store.GetTask(id)
	if err != nil {
		return false, err
	}
	if task.Status != StatusQueued {
		return false, nil
	}

	task.Status = StatusCancelled
	task.CompletedAt = util.Ptr(time.Now().UTC())
	if err := m.store.UpdateTask(task); err != nil {
		return false, err
	}

	m.log.Infow("Cancelled queued task", "task_id", id)
	m.publishEvent(task)
	m.notifyDone(task)
	return true, nil
}

// Snapshot returns task counts by status.
func (m *Manager) Snapshot() (map[Status]int, error) {
	return m.store.CountsByStatus()
}

// History returns execution records, for one task or globally.
func (m *Manager) History(taskID string, limit int) ([]*ExecutionRecord, error) {
	if taskID != "" {
		return m.records.ListByTask(taskID, limit)
	}
	return m.records.ListRecent(limit)
}

// List returns tasks, optionally filtered by status.
func (m *Manager) List(status Status, limit int) ([]*Task, error) {
	return m.store.ListTasks(status, limit)
}

// UpdateProgress records mid-run progress reported by the executor.
func (m *Manager) UpdateProgress(id string, percent int, stage, detail string) error {
	task, err := m.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Status != StatusRunning {
		return errors.NewInvalidRequestError("task %s is not running", id)
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	task.Progress = percent
	task.Stage = stage
	task.Detail = detail

	if err := m.store.UpdateTask(task); err != nil {
		return err
	}
	m.publishEvent(task)
	return nil
}

// Subscribe returns a channel of progress events. Slow subscribers drop
// events rather than block the queue.
func (m *Manager) Subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, 64)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ProgressEvent) {
	m.mu.Lock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
	m.mu.Unlock()
}

// Stop cancels all running tasks and waits for their goroutines to finish.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Infow("Task queue manager stopped")
	case <-time.After(timeout):
		m.log.Warnw("Task queue manager stop timed out with tasks in flight")
	}
}

// fillSlots starts queued tasks until the concurrency ceiling is reached.
func (m *Manager) fillSlots() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.stopped && m.active < m.maxConcurrent {
		task, err := m.store.NextQueued()
		if err != nil {
			m.log.Errorw("Failed to dequeue next task", "error", err)
			return
		}
		if task == nil {
			return
		}

		task.Status = StatusRunning
		task.StartedAt = util.Ptr(time.Now().UTC())
		if err := m.store.UpdateTask(task); err != nil {
			m.log.Errorw("Failed to mark task running", "task_id", task.ID, "error", err)
			return
		}

		ctx, cancel := context.WithCancel(m.ctx)
		m.cancels[task.ID] = cancel
		m.active++
		m.wg.Add(1)
		go m.run(ctx, task)
	}
}

// run executes one task to its terminal state, then frees the slot.
func (m *Manager) run(ctx context.Context, task *Task) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.cancels[task.ID]; ok {
			cancel()
			delete(m.cancels, task.ID)
		}
		m.active--
		m.mu.Unlock()
		m.fillSlots()
	}()

	m.log.Infow("Task started", "task_id", task.ID, "task_name", task.Name)
	m.publishEvent(task)

	progress := func(percent int, stage, detail string) {
		if err := m.UpdateProgress(task.ID, percent, stage, detail); err != nil {
			m.log.Debugw("Progress update dropped", "task_id", task.ID, "error", err)
		}
	}

	result, err := m.executor.Generate(ctx, task.GenParams, progress)

	task.CompletedAt = util.Ptr(time.Now().UTC())
	published := false

	switch {
	case ctx.Err() != nil:
		task.Status = StatusCancelled
		m.log.Infow("Task cancelled", "task_id", task.ID)

	case err != nil:
		task.Status = StatusFailed
		task.Error = err.Error()
		m.log.Errorw("Task failed", "task_id", task.ID, "error", err)

	default:
		task.Status = StatusCompleted
		task.Progress = 100
		task.WordCount = result.WordCount
		task.ImageCount = result.ImageCount
		task.OutputRef = result.OutputRef
		published = m.maybePublish(ctx, task, result)
		m.log.Infow("Task completed",
			"task_id", task.ID,
			"word_count", result.WordCount,
			"image_count", result.ImageCount,
			"duration_ms", task.DurationMs())
	}

	if err := m.store.UpdateTask(task); err != nil {
		m.log.Errorw("Failed to persist terminal task state", "task_id", task.ID, "error", err)
	}

	record := &ExecutionRecord{
		TaskID:     task.ID,
		JobID:      task.JobID,
		Status:     task.Status,
		DurationMs: task.DurationMs(),
		OutputRef:  task.OutputRef,
		WordCount:  task.WordCount,
		ImageCount: task.ImageCount,
		Published:  published,
		Error:      task.Error,
	}
	if err := m.records.Append(record); err != nil {
		m.log.Errorw("Failed to append execution record", "task_id", task.ID, "error", err)
	}

	m.publishEvent(task)
	m.notifyDone(task)
}

// maybePublish runs the publish pipeline when the task carries a publish
// configuration. Publish failures never fail the task; the content succeeded.
func (m *Manager) maybePublish(ctx context.Context, task *Task, result *Result) bool {
	if m.publisher == nil || len(task.PublishConfig) == 0 {
		return false
	}

	outcome := m.publisher.Execute(ctx, task, result)
	m.log.Infow("Publish pipeline finished",
		"task_id", task.ID,
		"status", outcome.Status,
		"platform", outcome.Platform,
		"issues", outcome.Issues)
	return outcome.Published()
}

func (m *Manager) notifyDone(task *Task) {
	if m.onDone != nil {
		m.onDone(task)
	}
}

// publishEvent fans a task's current state out to subscribers without
// blocking on any of them.
func (m *Manager) publishEvent(task *Task) {
	event := ProgressEvent{
		TaskID:   task.ID,
		Status:   task.Status,
		Progress: task.Progress,
		Stage:    task.Stage,
		Detail:   task.Detail,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// DecodeParams unmarshals a task's generation parameters into dst.
func DecodeParams(task *Task, dst interface{}) error {
	if err := json.Unmarshal(task.GenParams, dst); err != nil {
		return errors.Wrapf(err, "failed to decode parameters for task %s", task.ID)
	}
	return nil
}
