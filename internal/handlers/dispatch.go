package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/workers"
)

// headerRequestID is the correlation header assigned by the server
// middleware.
const headerRequestID = "X-Request-ID"

// DispatchHandler is the worker's single queue-facing endpoint. Status codes
// are the retry protocol: 2xx acks the envelope, 400 dead-letters it, 5xx
// makes the queue redeliver.
type DispatchHandler struct {
	dispatcher *workers.Dispatcher
	logger     arbor.ILogger
}

// NewDispatchHandler creates the dispatch handler.
func NewDispatchHandler(dispatcher *workers.Dispatcher, logger arbor.ILogger) *DispatchHandler {
	return &DispatchHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Handle processes POST /tasks/dispatch.
func (h *DispatchHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var env models.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid envelope")
		return
	}

	h.logger.Info().
		Str("jobType", env.JobType).
		Str("requestId", r.Header.Get(headerRequestID)).
		Msg("Dispatching job")

	if err := h.dispatcher.Dispatch(r.Context(), &env); err != nil {
		if errors.Is(err, workers.ErrUnknownJobType) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"jobType": env.JobType,
	})
}
