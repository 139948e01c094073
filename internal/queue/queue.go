// Package queue provides the durable task queue between the ingress/admin
// services and the worker. Envelopes are enqueued once and delivered to the
// worker's dispatch endpoint at least once; handler idempotency claims turn
// that into at-most-once effect.
package queue

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
)

// dispatchPath is the worker route every envelope is delivered to. The
// configured worker URL is a bare base URL; the queue owns the path.
const dispatchPath = "/tasks/dispatch"

// dispatchURL joins the worker base URL with the dispatch route.
func dispatchURL(workerURL string) (string, error) {
	target, err := url.JoinPath(workerURL, dispatchPath)
	if err != nil {
		return "", fmt.Errorf("invalid worker URL %q: %w", workerURL, err)
	}
	return target, nil
}

// NewFromConfig selects the queue backend. Local development dispatches
// synchronously over plain HTTP; everywhere else the badger-backed durable
// queue with OIDC-authenticated delivery is used.
func NewFromConfig(config *common.Config, logger arbor.ILogger) (interfaces.Queue, error) {
	if config.LocalDev {
		logger.Info().Str("worker_url", config.Worker.URL).Msg("Using direct HTTP queue (local dev)")
		return NewHTTPQueue(config.Worker.URL, logger), nil
	}
	return NewBadgerQueue(config, logger)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
