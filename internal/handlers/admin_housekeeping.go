package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
)

// Housekeeping retention windows.
const (
	idempotencyRetention = 7 * 24 * time.Hour
	retiredChannelAge    = 24 * time.Hour
	deadLetterRetention  = 7 * 24 * time.Hour
)

// HousekeepingHandler prunes expired idempotency claims, retired channel rows
// and aged dead-letter envelopes. Invoked by the scheduler and exposed for
// manual runs.
type HousekeepingHandler struct {
	storage interfaces.StorageManager
	queue   interfaces.Queue
	logger  arbor.ILogger
}

// NewHousekeepingHandler creates the housekeeping handler.
func NewHousekeepingHandler(storage interfaces.StorageManager, queue interfaces.Queue, logger arbor.ILogger) *HousekeepingHandler {
	return &HousekeepingHandler{
		storage: storage,
		queue:   queue,
		logger:  logger,
	}
}

// Handle processes POST /admin/housekeeping.
func (h *HousekeepingHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	result, err := h.Run(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Run executes one housekeeping pass and returns the per-category counts.
func (h *HousekeepingHandler) Run(ctx context.Context) (map[string]int64, error) {
	now := time.Now()

	keys, err := h.storage.Idempotency().DeleteOlderThan(ctx, now.Add(-idempotencyRetention))
	if err != nil {
		return nil, err
	}

	channels, err := h.storage.Channels().DeleteRetiredBefore(ctx, now.Add(-retiredChannelAge))
	if err != nil {
		return nil, err
	}

	// Only the durable queue backend retains dead letters.
	var deadLetters int64
	if pruner, ok := h.queue.(interfaces.DeadLetterPruner); ok {
		deadLetters, err = pruner.PruneDeadLetters(now.Add(-deadLetterRetention))
		if err != nil {
			h.logger.Warn().Err(err).Msg("Dead-letter prune failed")
		}
	}

	h.logger.Info().
		Int64("idempotency_keys", keys).
		Int64("retired_channels", channels).
		Int64("dead_letters", deadLetters).
		Msg("Housekeeping completed")
	return map[string]int64{
		"idempotencyKeys": keys,
		"retiredChannels": channels,
		"deadLetters":     deadLetters,
	}, nil
}
