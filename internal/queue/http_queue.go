package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// HTTPQueue posts envelopes straight to the worker's dispatch endpoint with
// no persistence or retry. Local development only; a failed dispatch is an
// error on the enqueue call itself, which makes bugs loud instead of queued.
type HTTPQueue struct {
	workerURL string // base URL; dispatchPath is appended per request
	client    *http.Client
	logger    arbor.ILogger
}

// NewHTTPQueue creates the direct-dispatch queue.
func NewHTTPQueue(workerURL string, logger arbor.ILogger) *HTTPQueue {
	return &HTTPQueue{
		workerURL: workerURL,
		client:    &http.Client{Timeout: 10 * time.Minute},
		logger:    logger,
	}
}

// Enqueue delivers the envelope synchronously.
func (q *HTTPQueue) Enqueue(ctx context.Context, envelope *models.Envelope) (string, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	target, err := dispatchURL(q.workerURL)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to dispatch %s: %w", envelope.JobType, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("worker returned %d for %s", resp.StatusCode, envelope.JobType)
	}

	id := common.NewEnvelopeID()
	q.logger.Debug().
		Str("message_id", id).
		Str("job_type", envelope.JobType).
		Msg("Envelope dispatched directly")
	return id, nil
}

// Close is a no-op; the HTTP queue holds no resources.
func (q *HTTPQueue) Close() error { return nil }
