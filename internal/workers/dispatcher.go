package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// ErrUnknownJobType marks an envelope outside the closed job-type set. The
// dispatch endpoint maps it to 400 so the queue dead-letters instead of
// retrying.
var ErrUnknownJobType = errors.New("unknown job type")

// HandlerFunc processes one envelope.
type HandlerFunc func(ctx context.Context, env *models.Envelope) error

// Dispatcher routes envelopes to the registered handler for their jobType.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewDispatcher wires the closed handler registry.
func NewDispatcher(h *Handlers, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		handlers: map[string]HandlerFunc{
			models.JobTypeCalendarSync:  h.HandleCalendarSync,
			models.JobTypeTasksProcess:  h.HandleTasksProcess,
			models.JobTypeStageAction:   h.HandleStageAction,
			models.JobTypeResearchBatch: h.HandleResearchBatch,
			models.JobTypeResearchAgent: h.HandleResearchAgent,
			models.JobTypeMemoGenerate:  h.HandleMemoGenerate,
		},
		validate: validator.New(),
		logger:   logger,
	}
}

// Dispatch validates the envelope and runs its handler. An unknown jobType or
// malformed envelope returns ErrUnknownJobType (non-retryable); handler
// errors propagate so the queue retries.
func (d *Dispatcher) Dispatch(ctx context.Context, env *models.Envelope) error {
	if err := d.validate.Struct(env); err != nil {
		return fmt.Errorf("%w: invalid envelope: %v", ErrUnknownJobType, err)
	}

	handler, ok := d.handlers[env.JobType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, env.JobType)
	}

	startTime := time.Now()
	d.logger.Info().
		Str("job_type", env.JobType).
		Str("tenant_id", env.TenantID).
		Msg("Dispatching job")

	if err := handler(ctx, env); err != nil {
		d.logger.Error().
			Err(err).
			Str("job_type", env.JobType).
			Dur("duration", time.Since(startTime)).
			Msg("Job failed")
		return err
	}

	d.logger.Info().
		Str("job_type", env.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("Job completed")
	return nil
}
