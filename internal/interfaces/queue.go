package interfaces

import (
	"context"
	"time"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// Queue is the only mechanism for crossing process boundaries. Enqueue
// returns the backend's task name for logging; delivery is at-least-once, so
// every handler behind the queue must be idempotent or idempotency-guarded.
type Queue interface {
	Enqueue(ctx context.Context, env *models.Envelope) (taskName string, err error)
	Close() error
}

// DeadLetterPruner is implemented by queue backends that retain failed
// envelopes. Housekeeping prunes entries older than the cutoff; backends
// without a dead-letter store simply do not implement it.
type DeadLetterPruner interface {
	PruneDeadLetters(cutoff time.Time) (int64, error)
}
