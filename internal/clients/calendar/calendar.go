// Package calendar implements the push-notification calendar provider
// client: watch channel management and sync-token event enumeration.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/secrets"
)

// Client talks to the calendar provider's REST API.
type Client struct {
	baseURL     string
	client      *http.Client
	secretCache interfaces.SecretSource
	logger      arbor.ILogger
}

// NewClient creates a calendar client.
func NewClient(config *common.CalendarConfig, secretCache interfaces.SecretSource, logger arbor.ILogger) *Client {
	return &Client{
		baseURL:     config.BaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		secretCache: secretCache,
		logger:      logger,
	}
}

type watchRequest struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

type watchResponse struct {
	ResourceID string `json:"resourceId"`
	Expiration string `json:"expiration"` // epoch ms as string
}

// Watch registers a push channel for the calendar. The address must be the
// publicly reachable ingress webhook URL.
func (c *Client) Watch(ctx context.Context, calendarID, channelID, token, address string) (*interfaces.WatchInfo, error) {
	var resp watchResponse
	path := fmt.Sprintf("/calendars/%s/events/watch", url.PathEscape(calendarID))
	err := c.do(ctx, http.MethodPost, path, &watchRequest{
		ID:      channelID,
		Type:    "web_hook",
		Address: address,
		Token:   token,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to create watch for %s: %w", calendarID, err)
	}

	expiration, _ := strconv.ParseInt(resp.Expiration, 10, 64)
	c.logger.Info().
		Str("calendar_id", calendarID).
		Str("channel_id", channelID).
		Int64("expiration_ms", expiration).
		Msg("Watch channel created")

	return &interfaces.WatchInfo{
		ChannelID:    channelID,
		ResourceID:   resp.ResourceID,
		ExpirationMS: expiration,
	}, nil
}

// StopWatch tears down a push channel with the provider.
func (c *Client) StopWatch(ctx context.Context, channelID, resourceID string) error {
	err := c.do(ctx, http.MethodPost, "/channels/stop", map[string]string{
		"id":         channelID,
		"resourceId": resourceID,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to stop channel %s: %w", channelID, err)
	}
	return nil
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type apiAttendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Self        bool   `json:"self,omitempty"`
}

type apiEvent struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Summary     string        `json:"summary"`
	Description string        `json:"description"`
	Start       eventTime     `json:"start"`
	Attendees   []apiAttendee `json:"attendees"`
}

type listResponse struct {
	Items         []apiEvent `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
	NextSyncToken string     `json:"nextSyncToken"`
}

// ListEvents fetches one page of the enumeration. A provider 410 maps to
// interfaces.ErrSyncTokenExpired so the sync handler can fall back to a full
// window.
func (c *Client) ListEvents(ctx context.Context, calendarID string, opts interfaces.ListEventsOptions) (*interfaces.EventPage, error) {
	query := url.Values{}
	query.Set("singleEvents", "true")
	if opts.SyncToken != "" {
		query.Set("syncToken", opts.SyncToken)
	} else if !opts.Since.IsZero() {
		query.Set("timeMin", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.PageToken != "" {
		query.Set("pageToken", opts.PageToken)
	}
	if opts.PageSize > 0 {
		query.Set("maxResults", strconv.Itoa(opts.PageSize))
	}

	var resp listResponse
	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(calendarID), query.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	page := &interfaces.EventPage{
		NextPageToken: resp.NextPageToken,
		NextSyncToken: resp.NextSyncToken,
	}
	for _, item := range resp.Items {
		event := interfaces.CalendarEvent{
			ID:          item.ID,
			Status:      item.Status,
			Summary:     item.Summary,
			Description: item.Description,
		}
		if item.Start.DateTime != "" {
			event.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		} else if item.Start.Date != "" {
			event.Start, _ = time.Parse("2006-01-02", item.Start.Date)
		}
		for _, a := range item.Attendees {
			event.Attendees = append(event.Attendees, interfaces.CalendarAttendee{
				Email:       a.Email,
				DisplayName: a.DisplayName,
				Self:        a.Self,
			})
		}
		page.Events = append(page.Events, event)
	}
	return page, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	apiKey, err := c.secretCache.Get(ctx, secrets.NameCalendarAPIKey)
	if err != nil {
		return fmt.Errorf("failed to resolve calendar credentials: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		_, _ = io.Copy(io.Discard, resp.Body)
		return interfaces.ErrSyncTokenExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("calendar API returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
