// Package pipeline is the client side of the executor contract: the actual
// content generation happens in an external service, and the queue only sees
// it as one blocking call that either returns result metrics or fails.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/draftmill/draftmill/errors"
	"github.com/draftmill/draftmill/queue"
)

// Client calls the content-generation service over HTTP. Implements
// queue.Executor.
type Client struct {
	url    string
	client *http.Client
	log    *zap.SugaredLogger
}

// NewClient creates a pipeline client for one service endpoint.
func NewClient(url string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// generateResponse is the service's wire format for a finished generation.
type generateResponse struct {
	OutputRef  string `json:"output_ref"`
	WordCount  int    `json:"word_count"`
	ImageCount int    `json:"image_count"`
	Error      string `json:"error,omitempty"`
}

// Generate submits the generation parameters and blocks until the service
// responds. Cancellation propagates through the request context.
func (c *Client) Generate(ctx context.Context, params json.RawMessage, progress queue.ProgressFunc) (*queue.Result, error) {
	progress(0, "submitting", "sending generation request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(params))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build generation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "generation request to %s failed", c.url)
	}
	defer resp.Body.Close()

	progress(90, "finalizing", "reading generation response")

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode generation response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := body.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, errors.Newf("generation failed: %s", msg)
	}
	if body.Error != "" {
		return nil, errors.Newf("generation failed: %s", body.Error)
	}
	if body.OutputRef == "" {
		return nil, errors.New("generation returned no output reference")
	}

	return &queue.Result{
		OutputRef:  body.OutputRef,
		WordCount:  body.WordCount,
		ImageCount: body.ImageCount,
	}, nil
}
