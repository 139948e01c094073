package workers

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// dealTag marks a calendar event as deal flow, matched case-insensitively in
// title or description.
const dealTag = "[deal]"

var (
	// titlePattern splits a dash-separated "Company / Founder" title; both
	// the em dash and the plain hyphen are accepted.
	titlePattern = regexp.MustCompile(`^(.+?)\s*[—-]\s*(.+)$`)
	tagPattern   = regexp.MustCompile(`(?i)\[deal\]`)
)

// HandleCalendarSync runs an incremental (or full) sync for one calendar and
// upserts deals for every tagged event. Safe under redelivery: the deal
// upsert is keyed on the event and task creation is guarded by the stored
// task_record_gid.
func (h *Handlers) HandleCalendarSync(ctx context.Context, env *models.Envelope) error {
	var payload models.CalendarSyncPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	channel, err := h.storage.Channels().GetByChannelID(ctx, env.TenantID, payload.ChannelID)
	if err == interfaces.ErrNotFound {
		h.logger.Debug().Str("channel_id", payload.ChannelID).Msg("Sync for unknown channel, dropping")
		return nil
	}
	if err != nil {
		return err
	}

	calendarID := channel.CalendarID
	syncToken := channel.SyncToken

	nextToken, err := h.enumerateAndProcess(ctx, env.TenantID, calendarID, syncToken)
	if errors.Is(err, interfaces.ErrSyncTokenExpired) && syncToken != "" {
		h.logger.Warn().
			Str("calendar_id", calendarID).
			Msg("Sync token expired, falling back to full sync")
		nextToken, err = h.enumerateAndProcess(ctx, env.TenantID, calendarID, "")
	}
	if err != nil {
		return err
	}

	if nextToken != "" {
		// The token belongs to whichever channel is active now; the
		// triggering channel may have been replaced mid-sync.
		if err := h.storage.Channels().SetSyncToken(ctx, env.TenantID, calendarID, nextToken); err != nil {
			return err
		}
	}
	return nil
}

// enumerateAndProcess pages through the provider and processes every event.
// Per-event failures are logged and skipped; only enumeration failures abort
// (and the queue retries the whole sync).
func (h *Handlers) enumerateAndProcess(ctx context.Context, tenantID, calendarID, syncToken string) (string, error) {
	opts := interfaces.ListEventsOptions{
		SyncToken: syncToken,
		PageSize:  h.config.Calendar.PageSize,
	}
	if syncToken == "" {
		fullSyncDays := h.config.Calendar.FullSyncDays
		if fullSyncDays <= 0 {
			fullSyncDays = 30
		}
		opts.Since = time.Now().AddDate(0, 0, -fullSyncDays)
	}

	var nextSyncToken string
	for {
		page, err := h.calendar.ListEvents(ctx, calendarID, opts)
		if err != nil {
			return "", err
		}

		for _, event := range page.Events {
			if err := h.processEvent(ctx, tenantID, calendarID, &event); err != nil {
				h.logger.Warn().
					Err(err).
					Str("event_id", event.ID).
					Msg("Failed to process event, continuing")
			}
		}

		if page.NextSyncToken != "" {
			nextSyncToken = page.NextSyncToken
		}
		if page.NextPageToken == "" {
			return nextSyncToken, nil
		}
		opts.PageToken = page.NextPageToken
	}
}

// processEvent filters for deal-tagged events and upserts the deal,
// materializing the task and document workspace on first sight.
func (h *Handlers) processEvent(ctx context.Context, tenantID, calendarID string, event *interfaces.CalendarEvent) error {
	if event.Status == "cancelled" {
		return nil
	}
	haystack := strings.ToLower(event.Summary + " " + event.Description)
	if !strings.Contains(haystack, dealTag) {
		return nil
	}

	company, founder := extractDealParties(event)
	if company == "" {
		h.logger.Debug().Str("event_id", event.ID).Msg("Tagged event with empty title, skipping")
		return nil
	}

	deal, err := h.storage.Deals().Upsert(ctx, &models.Deal{
		TenantID:   tenantID,
		CalendarID: calendarID,
		EventID:    event.ID,
		Company:    company,
		Founder:    founder,
	})
	if err != nil {
		return err
	}

	if deal.TaskRecordGID == "" {
		h.materializeDeal(ctx, deal)
	}
	return nil
}

// extractDealParties derives (company, founder) from the event. A
// dash-separated title wins; otherwise the stripped title is the company
// and the first non-self attendee the founder.
func extractDealParties(event *interfaces.CalendarEvent) (string, string) {
	title := strings.TrimSpace(tagPattern.ReplaceAllString(event.Summary, ""))

	if match := titlePattern.FindStringSubmatch(title); match != nil {
		return strings.TrimSpace(match[1]), strings.TrimSpace(match[2])
	}

	founder := ""
	for _, attendee := range event.Attendees {
		if attendee.Self {
			continue
		}
		if attendee.DisplayName != "" {
			founder = attendee.DisplayName
		} else {
			founder = attendee.Email
		}
		break
	}
	return title, founder
}
