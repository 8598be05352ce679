package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/queue"
)

// WebhookPlatform delivers completed content to an HTTP endpoint. It is the
// generic channel for platforms without a dedicated client: the receiving end
// owns the actual posting.
type WebhookPlatform struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewWebhookPlatform creates a webhook publisher for one endpoint.
func NewWebhookPlatform(name, endpoint string) *WebhookPlatform {
	return &WebhookPlatform{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WebhookPlatform) Name() string {
	return w.name
}

// Publish POSTs the task outcome as JSON. Any non-2xx response is a failure.
func (w *WebhookPlatform) Publish(ctx context.Context, task *queue.Task, result *queue.Result) error {
	payload, err := json.Marshal(map[string]interface{}{
		"task_id":     task.ID,
		"name":        task.Name,
		"output_ref":  result.OutputRef,
		"word_count":  result.WordCount,
		"image_count": result.ImageCount,
		"tags":        task.Tags,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "webhook delivery to %s failed", w.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("webhook %s returned status %d", w.endpoint, resp.StatusCode)
	}
	return nil
}
