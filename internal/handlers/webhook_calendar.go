// Package handlers contains the HTTP surface of the three services: the
// public webhooks on ingress, the admin lifecycle operations and the worker
// dispatch endpoint.
package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// Calendar push notification headers. The provider delivers headers only,
// never a body.
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
	headerMessageNumber = "X-Goog-Message-Number"
	headerChannelToken  = "X-Goog-Channel-Token"
)

// CalendarWebhookHandler receives calendar push notifications and turns them
// into CALENDAR_SYNC jobs. Everything past the two explicit 400 cases answers
// 200: the provider disables channels that fail persistently, so transient
// storage faults must stay invisible to it.
type CalendarWebhookHandler struct {
	config  *common.Config
	storage interfaces.StorageManager
	queue   interfaces.Queue
	logger  arbor.ILogger
}

// NewCalendarWebhookHandler creates the calendar webhook handler.
func NewCalendarWebhookHandler(config *common.Config, storage interfaces.StorageManager, queue interfaces.Queue, logger arbor.ILogger) *CalendarWebhookHandler {
	return &CalendarWebhookHandler{
		config:  config,
		storage: storage,
		queue:   queue,
		logger:  logger,
	}
}

// Handle processes POST /webhooks/calendar.
func (h *CalendarWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	channelID := r.Header.Get(headerChannelID)
	resourceID := r.Header.Get(headerResourceID)
	resourceState := r.Header.Get(headerResourceState)
	messageNumber := r.Header.Get(headerMessageNumber)
	channelToken := r.Header.Get(headerChannelToken)

	// Initial handshake ping after watch creation carries state "sync".
	if resourceState == "sync" {
		h.logger.Debug().Str("channel_id", channelID).Msg("Calendar channel handshake")
		WriteAccepted(w)
		return
	}

	if channelID == "" || resourceID == "" {
		WriteError(w, http.StatusBadRequest, "missing channel or resource id")
		return
	}

	ctx := r.Context()
	tenantID := h.config.Tenant.ID

	channel, err := h.storage.Channels().GetByChannelID(ctx, tenantID, channelID)
	if err != nil {
		if err != interfaces.ErrNotFound {
			h.logger.Warn().Err(err).Str("channel_id", channelID).Msg("Channel lookup failed")
		}
		WriteAccepted(w)
		return
	}
	if channel.Status == models.ChannelStopped {
		h.logger.Debug().Str("channel_id", channelID).Msg("Ping on stopped channel, dropping")
		WriteAccepted(w)
		return
	}
	if channel.ResourceID != resourceID || (channel.ChannelToken != "" && channel.ChannelToken != channelToken) {
		h.logger.Warn().
			Str("channel_id", channelID).
			Msg("Ping with mismatched resource id or token, dropping")
		WriteAccepted(w)
		return
	}

	claimed, err := h.storage.Idempotency().Claim(ctx, tenantID, models.CalendarPingKey(channelID, messageNumber))
	if err != nil {
		h.logger.Warn().Err(err).Str("channel_id", channelID).Msg("Ping claim failed")
		WriteAccepted(w)
		return
	}
	if !claimed {
		WriteAccepted(w)
		return
	}

	env, err := models.NewEnvelope(models.JobTypeCalendarSync, tenantID, &models.CalendarSyncPayload{
		CalendarID: channel.CalendarID,
		ChannelID:  channelID,
	})
	if err == nil {
		_, err = h.queue.Enqueue(ctx, env)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("channel_id", channelID).Msg("Failed to enqueue calendar sync")
	}
	WriteAccepted(w)
}
