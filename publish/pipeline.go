package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/draftmill/draftmill/queue"
)

// Pipeline statuses, reported back to the queue on every Execute call.
const (
	StatusPublished          = "published"
	StatusQualityCheckFailed = "quality_check_failed"
	StatusSkipped            = "skipped"
	StatusUnsupported        = "unsupported"
	StatusPublishFailed      = "publish_failed"
)

// Config is the per-task publish configuration carried in the task's
// publish_config JSON.
type Config struct {
	AutoPublish      bool   `json:"auto_publish"`
	Platform         string `json:"platform"`
	SkipQualityCheck bool   `json:"skip_quality_check"`
}

// Thresholds are the quality gate's minimum result metrics.
type Thresholds struct {
	MinWordCount  int
	MinImageCount int
}

// DefaultThresholds returns the standard quality gate.
func DefaultThresholds() Thresholds {
	return Thresholds{MinWordCount: 500, MinImageCount: 1}
}

// Pipeline is the post-execution quality gate plus conditional platform
// hand-off. The rate limiter bounds outbound publish calls across all tasks;
// it is injected by the composition root, never global state.
type Pipeline struct {
	registry   *Registry
	thresholds Thresholds
	limiter    *rate.Limiter
	log        *zap.SugaredLogger
}

// NewPipeline creates a publish pipeline.
func NewPipeline(registry *Registry, thresholds Thresholds, limiter *rate.Limiter, log *zap.SugaredLogger) *Pipeline {
	if thresholds.MinWordCount <= 0 && thresholds.MinImageCount <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Pipeline{
		registry:   registry,
		thresholds: thresholds,
		limiter:    limiter,
		log:        log,
	}
}

// Execute runs the quality gate and, when the gate passes and auto_publish is
// set, dispatches to the configured platform. It never returns an error:
// every outcome is a status so the task itself stays completed regardless of
// what happens here.
func (p *Pipeline) Execute(ctx context.Context, task *queue.Task, result *queue.Result) queue.PublishResult {
	var cfg Config
	if err := json.Unmarshal(task.PublishConfig, &cfg); err != nil {
		return queue.PublishResult{
			Status: StatusPublishFailed,
			Issues: []string{fmt.Sprintf("invalid publish configuration: %v", err)},
		}
	}

	if !cfg.SkipQualityCheck {
		if issues := p.qualityIssues(result); len(issues) > 0 {
			p.log.Warnw("Quality gate rejected task output",
				"task_id", task.ID,
				"issues", issues)
			return queue.PublishResult{Status: StatusQualityCheckFailed, Issues: issues}
		}
	}

	if !cfg.AutoPublish {
		return queue.PublishResult{Status: StatusSkipped}
	}

	platform, ok := p.registry.Get(cfg.Platform)
	if !ok {
		p.log.Warnw("No publisher registered for platform",
			"task_id", task.ID,
			"platform", cfg.Platform)
		return queue.PublishResult{Status: StatusUnsupported, Platform: cfg.Platform}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return queue.PublishResult{
				Status:   StatusPublishFailed,
				Platform: cfg.Platform,
				Issues:   []string{fmt.Sprintf("rate limit wait aborted: %v", err)},
			}
		}
	}

	if err := platform.Publish(ctx, task, result); err != nil {
		p.log.Errorw("Platform publish failed",
			"task_id", task.ID,
			"platform", cfg.Platform,
			"error", err)
		return queue.PublishResult{
			Status:   StatusPublishFailed,
			Platform: cfg.Platform,
			Issues:   []string{err.Error()},
		}
	}

	p.log.Infow("Task published", "task_id", task.ID, "platform", cfg.Platform)
	return queue.PublishResult{Status: StatusPublished, Platform: cfg.Platform}
}

// qualityIssues checks result metrics against the thresholds and lists every
// failing check, not just the first.
func (p *Pipeline) qualityIssues(result *queue.Result) []string {
	var issues []string
	if result.WordCount < p.thresholds.MinWordCount {
		issues = append(issues, fmt.Sprintf("word count %d below minimum %d", result.WordCount, p.thresholds.MinWordCount))
	}
	if result.ImageCount < p.thresholds.MinImageCount {
		issues = append(issues, fmt.Sprintf("image count %d below minimum %d", result.ImageCount, p.thresholds.MinImageCount))
	}
	return issues
}
