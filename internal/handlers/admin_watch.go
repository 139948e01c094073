package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// WatchHandler exposes the push-channel lifecycle: start, replace, stop.
// Channels never auto-renew; the scheduler calls Replace before expiry.
type WatchHandler struct {
	config   *common.Config
	storage  interfaces.StorageManager
	calendar interfaces.CalendarClient
	logger   arbor.ILogger
}

// NewWatchHandler creates the push-channel lifecycle handler.
func NewWatchHandler(config *common.Config, storage interfaces.StorageManager, calendarClient interfaces.CalendarClient, logger arbor.ILogger) *WatchHandler {
	return &WatchHandler{
		config:   config,
		storage:  storage,
		calendar: calendarClient,
		logger:   logger,
	}
}

type watchStartRequest struct {
	CalendarID   string `json:"calendarId"`
	ChannelToken string `json:"channelToken"`
	TenantID     string `json:"tenantId"`
}

type watchReplaceRequest struct {
	CalendarID string `json:"calendarId"`
	TenantID   string `json:"tenantId"`
}

type watchStopRequest struct {
	ChannelID string `json:"channelId"`
}

// HandleStart processes POST /admin/calendar/watch/start. It creates the
// provider watch, persists the channel row and runs one full sync solely to
// obtain the initial sync token.
func (h *WatchHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req watchStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	tenantID := h.resolveTenant(req.TenantID)
	calendarID := h.resolveCalendar(req.CalendarID)

	channel, err := h.startWatch(ctx, tenantID, calendarID, req.ChannelToken)
	if err != nil {
		h.logger.Error().Err(err).Str("calendar_id", calendarID).Msg("Failed to start watch")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"channelId":    channel.ChannelID,
		"resourceId":   channel.ResourceID,
		"calendarId":   channel.CalendarID,
		"expirationMs": channel.ExpirationMS,
	})
}

// HandleReplace processes POST /admin/calendar/watch/replace. The ordering is
// mandatory: provider watch first, then an atomic row swap carrying the sync
// token, then best-effort stop of the old watch. That leaves no window in
// which notifications could be lost and keeps exactly one active row per
// (tenant, calendar) at every read.
func (h *WatchHandler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req watchReplaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	tenantID := h.resolveTenant(req.TenantID)
	calendarID := h.resolveCalendar(req.CalendarID)

	newChannel, oldChannel, err := h.ReplaceChannel(ctx, tenantID, calendarID)
	if err != nil {
		h.logger.Error().Err(err).Str("calendar_id", calendarID).Msg("Failed to replace watch")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"channelId":    newChannel.ChannelID,
		"oldChannelId": oldChannel.ChannelID,
		"calendarId":   calendarID,
		"expirationMs": newChannel.ExpirationMS,
	})
}

// HandleStop processes POST /admin/calendar/watch/stop.
func (h *WatchHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req watchStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == "" {
		WriteError(w, http.StatusBadRequest, "channelId is required")
		return
	}
	ctx := r.Context()
	tenantID := h.config.Tenant.ID

	channel, err := h.storage.Channels().GetByChannelID(ctx, tenantID, req.ChannelID)
	if err == interfaces.ErrNotFound {
		WriteError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.calendar.StopWatch(ctx, channel.ChannelID, channel.ResourceID); err != nil {
		h.logger.Warn().Err(err).Str("channel_id", channel.ChannelID).Msg("Provider stop failed")
	}
	if err := h.storage.Channels().MarkStopped(ctx, tenantID, channel.ChannelID); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"channelId": channel.ChannelID,
		"status":    string(models.ChannelStopped),
	})
}

// startWatch creates a fresh channel and seeds its sync token with a full
// enumeration.
func (h *WatchHandler) startWatch(ctx context.Context, tenantID, calendarID, channelToken string) (*models.PushChannel, error) {
	channelID := common.NewChannelID()
	if channelToken == "" {
		channelToken = common.NewChannelToken()
	}
	address := h.config.Ingress.PublicBaseURL + "/webhooks/calendar"

	info, err := h.calendar.Watch(ctx, calendarID, channelID, channelToken, address)
	if err != nil {
		return nil, fmt.Errorf("provider watch failed: %w", err)
	}

	channel := &models.PushChannel{
		TenantID:     tenantID,
		CalendarID:   calendarID,
		ChannelID:    channelID,
		ResourceID:   info.ResourceID,
		ChannelToken: channelToken,
		ExpirationMS: info.ExpirationMS,
		Status:       models.ChannelActive,
	}
	if err := h.storage.Channels().Create(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to persist channel: %w", err)
	}

	// A full enumeration is the only way the provider hands out an initial
	// sync token. Events are discarded; the webhook path processes them.
	syncToken, err := h.initialSyncToken(ctx, calendarID)
	if err != nil {
		h.logger.Warn().Err(err).Str("channel_id", channelID).Msg("Initial sync failed, token will come from first sync job")
	} else if syncToken != "" {
		if err := h.storage.Channels().SetSyncTokenByChannelID(ctx, tenantID, channelID, syncToken); err != nil {
			return nil, fmt.Errorf("failed to store initial sync token: %w", err)
		}
		channel.SyncToken = syncToken
	}

	h.logger.Info().
		Str("channel_id", channelID).
		Str("calendar_id", calendarID).
		Int64("expiration_ms", channel.ExpirationMS).
		Msg("Push channel started")
	return channel, nil
}

// ReplaceChannel swaps the active channel for a fresh one, carrying the sync
// token over. Also called by the scheduler ahead of channel expiry.
func (h *WatchHandler) ReplaceChannel(ctx context.Context, tenantID, calendarID string) (newChannel, oldChannel *models.PushChannel, err error) {
	oldChannel, err = h.storage.Channels().GetActive(ctx, tenantID, calendarID)
	if err != nil {
		return nil, nil, fmt.Errorf("no active channel to replace: %w", err)
	}

	// 1. Create the new channel at the provider.
	channelID := common.NewChannelID()
	channelToken := common.NewChannelToken()
	address := h.config.Ingress.PublicBaseURL + "/webhooks/calendar"
	info, err := h.calendar.Watch(ctx, calendarID, channelID, channelToken, address)
	if err != nil {
		return nil, nil, fmt.Errorf("provider watch failed: %w", err)
	}

	// 2. Swap the rows atomically: retire the old channel and insert the new
	// one carrying the old sync token in a single transaction, so no reader
	// ever sees the calendar without an active channel.
	newChannel = &models.PushChannel{
		TenantID:     tenantID,
		CalendarID:   calendarID,
		ChannelID:    channelID,
		ResourceID:   info.ResourceID,
		ChannelToken: channelToken,
		SyncToken:    oldChannel.SyncToken,
		ExpirationMS: info.ExpirationMS,
		Status:       models.ChannelActive,
	}
	if err := h.storage.Channels().Replace(ctx, tenantID, oldChannel.ChannelID, newChannel); err != nil {
		return nil, nil, fmt.Errorf("failed to swap channels: %w", err)
	}

	// 3. Best-effort provider stop; the old channel may already be expired.
	if err := h.calendar.StopWatch(ctx, oldChannel.ChannelID, oldChannel.ResourceID); err != nil {
		h.logger.Warn().Err(err).Str("channel_id", oldChannel.ChannelID).Msg("Failed to stop replaced channel")
	}

	h.logger.Info().
		Str("old_channel_id", oldChannel.ChannelID).
		Str("new_channel_id", channelID).
		Str("calendar_id", calendarID).
		Msg("Push channel replaced")
	return newChannel, oldChannel, nil
}

// initialSyncToken pages through a windowed full sync and returns the final
// sync token.
func (h *WatchHandler) initialSyncToken(ctx context.Context, calendarID string) (string, error) {
	since := time.Now().AddDate(0, 0, -h.config.Calendar.FullSyncDays)
	pageToken := ""
	for {
		page, err := h.calendar.ListEvents(ctx, calendarID, interfaces.ListEventsOptions{
			PageToken: pageToken,
			Since:     since,
			PageSize:  h.config.Calendar.PageSize,
		})
		if err != nil {
			return "", err
		}
		if page.NextPageToken == "" {
			return page.NextSyncToken, nil
		}
		pageToken = page.NextPageToken
	}
}

func (h *WatchHandler) resolveTenant(requested string) string {
	if requested != "" {
		return requested
	}
	return h.config.Tenant.ID
}

func (h *WatchHandler) resolveCalendar(requested string) string {
	if requested != "" {
		return requested
	}
	return h.config.Calendar.DefaultCalendarID
}
