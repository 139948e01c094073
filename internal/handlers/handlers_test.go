package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/storage"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/workers"
)

type fakeQueue struct {
	mu        sync.Mutex
	envelopes []*models.Envelope
}

func (q *fakeQueue) Enqueue(_ context.Context, env *models.Envelope) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.envelopes = append(q.envelopes, env)
	return "task-name", nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.envelopes)
}

type fakeCalendar struct {
	mu       sync.Mutex
	watches  []string // channel ids in creation order
	stopped  []string
	watchErr error
}

func (c *fakeCalendar) Watch(_ context.Context, _, channelID, _, _ string) (*interfaces.WatchInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchErr != nil {
		return nil, c.watchErr
	}
	c.watches = append(c.watches, channelID)
	return &interfaces.WatchInfo{
		ChannelID:    channelID,
		ResourceID:   "res-" + channelID,
		ExpirationMS: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	}, nil
}

func (c *fakeCalendar) StopWatch(_ context.Context, channelID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, channelID)
	return nil
}

func (c *fakeCalendar) ListEvents(_ context.Context, _ string, _ interfaces.ListEventsOptions) (*interfaces.EventPage, error) {
	return &interfaces.EventPage{NextSyncToken: "initial-token"}, nil
}

func newTestStorage(t *testing.T) *storage.Manager {
	t.Helper()
	manager, err := storage.NewManager(&common.DatabaseConfig{SQLitePath: ":memory:"}, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, manager.Tenants().Ensure(context.Background(), common.DefaultTenantID, "test"))
	return manager
}

func testConfig() *common.Config {
	config := common.NewDefaultConfig()
	config.Ingress.PublicBaseURL = "https://ingress.example"
	config.Tasks.PipelineProjectGID = "proj-1"
	return config
}

// --- calendar webhook ---

func seedActiveChannel(t *testing.T, manager *storage.Manager, channelID, token string) {
	t.Helper()
	require.NoError(t, manager.Channels().Create(context.Background(), &models.PushChannel{
		TenantID:     common.DefaultTenantID,
		CalendarID:   "primary",
		ChannelID:    channelID,
		ResourceID:   "res-1",
		ChannelToken: token,
		Status:       models.ChannelActive,
	}))
}

func calendarPing(handler *CalendarWebhookHandler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendar", nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	return rec
}

func TestCalendarWebhook_HandshakeAck(t *testing.T) {
	manager := newTestStorage(t)
	queue := &fakeQueue{}
	handler := NewCalendarWebhookHandler(testConfig(), manager, queue, common.GetLogger())

	rec := calendarPing(handler, map[string]string{
		headerChannelID:     "chan-1",
		headerResourceID:    "res-1",
		headerResourceState: "sync",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, queue.count())
}

func TestCalendarWebhook_MissingIdentifiers(t *testing.T) {
	manager := newTestStorage(t)
	handler := NewCalendarWebhookHandler(testConfig(), manager, &fakeQueue{}, common.GetLogger())

	rec := calendarPing(handler, map[string]string{headerResourceState: "exists"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarWebhook_ValidPingEnqueuesOnce(t *testing.T) {
	manager := newTestStorage(t)
	queue := &fakeQueue{}
	handler := NewCalendarWebhookHandler(testConfig(), manager, queue, common.GetLogger())
	seedActiveChannel(t, manager, "chan-1", "tok-1")

	headers := map[string]string{
		headerChannelID:     "chan-1",
		headerResourceID:    "res-1",
		headerResourceState: "exists",
		headerMessageNumber: "42",
		headerChannelToken:  "tok-1",
	}
	rec := calendarPing(handler, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, queue.count())

	var payload models.CalendarSyncPayload
	require.NoError(t, queue.envelopes[0].DecodePayload(&payload))
	assert.Equal(t, "primary", payload.CalendarID)
	assert.Equal(t, "chan-1", payload.ChannelID)

	// Replayed ping with the same message number is dropped with 200.
	rec = calendarPing(handler, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, queue.count())
}

func TestCalendarWebhook_UnknownChannelAndMismatchDrop(t *testing.T) {
	manager := newTestStorage(t)
	queue := &fakeQueue{}
	handler := NewCalendarWebhookHandler(testConfig(), manager, queue, common.GetLogger())
	seedActiveChannel(t, manager, "chan-1", "tok-1")

	// Unknown channel: acknowledged, never enqueued.
	rec := calendarPing(handler, map[string]string{
		headerChannelID:     "chan-ghost",
		headerResourceID:    "res-1",
		headerResourceState: "exists",
		headerMessageNumber: "1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong resource id.
	rec = calendarPing(handler, map[string]string{
		headerChannelID:     "chan-1",
		headerResourceID:    "res-other",
		headerResourceState: "exists",
		headerMessageNumber: "2",
		headerChannelToken:  "tok-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong token.
	rec = calendarPing(handler, map[string]string{
		headerChannelID:     "chan-1",
		headerResourceID:    "res-1",
		headerResourceState: "exists",
		headerMessageNumber: "3",
		headerChannelToken:  "tok-wrong",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, queue.count())
}

// --- tasks webhook ---

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestTasksWebhook_HandshakePersistsAndEchoes(t *testing.T) {
	manager := newTestStorage(t)
	handler := NewTasksWebhookHandler(testConfig(), manager, &fakeQueue{}, common.GetLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/tasks", nil)
	req.Header.Set(headerHookSecret, "shared-secret")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shared-secret", rec.Header().Get(headerHookSecret))

	stored, err := manager.Integrations().GetConfigValue(
		context.Background(), common.DefaultTenantID, models.IntegrationTasks, tasksConfigWebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, "shared-secret", stored)
}

func TestTasksWebhook_SignedEventBatch(t *testing.T) {
	manager := newTestStorage(t)
	queue := &fakeQueue{}
	handler := NewTasksWebhookHandler(testConfig(), manager, queue, common.GetLogger())
	require.NoError(t, manager.Integrations().SetConfigValue(
		context.Background(), common.DefaultTenantID, models.IntegrationTasks, tasksConfigWebhookSecret, "shared-secret"))

	body := []byte(`{"events":[
		{"action":"changed","created_at":"2026-08-25T10:00:00.000Z","resource":{"gid":"task-1","resource_type":"task"}},
		{"action":"changed","created_at":"2026-08-25T10:00:01.000Z","resource":{"gid":"story-1","resource_type":"story"}}
	]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tasks", bytes.NewReader(body))
	req.Header.Set(headerHookSignature, signBody("shared-secret", body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, queue.count(), "only task events are enqueued")

	var payload models.TasksProcessPayload
	require.NoError(t, queue.envelopes[0].DecodePayload(&payload))
	assert.Equal(t, "task-1", payload.TaskGID)
	assert.Equal(t, "proj-1", payload.ProjectGID)
	assert.Equal(t, "changed", payload.Action)

	// Redelivered batch: claims already taken, nothing enqueued again.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/tasks", bytes.NewReader(body))
	req.Header.Set(headerHookSignature, signBody("shared-secret", body))
	rec = httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, queue.count())
}

func TestTasksWebhook_RejectsBadSignature(t *testing.T) {
	manager := newTestStorage(t)
	handler := NewTasksWebhookHandler(testConfig(), manager, &fakeQueue{}, common.GetLogger())
	require.NoError(t, manager.Integrations().SetConfigValue(
		context.Background(), common.DefaultTenantID, models.IntegrationTasks, tasksConfigWebhookSecret, "shared-secret"))

	body := []byte(`{"events":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tasks", bytes.NewReader(body))
	req.Header.Set(headerHookSignature, signBody("wrong-secret", body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTasksWebhook_RejectsWithoutStoredSecret(t *testing.T) {
	manager := newTestStorage(t)
	handler := NewTasksWebhookHandler(testConfig(), manager, &fakeQueue{}, common.GetLogger())

	body := []byte(`{"events":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tasks", bytes.NewReader(body))
	req.Header.Set(headerHookSignature, signBody("anything", body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTasksWebhook_HeartbeatAck(t *testing.T) {
	manager := newTestStorage(t)
	queue := &fakeQueue{}
	handler := NewTasksWebhookHandler(testConfig(), manager, queue, common.GetLogger())
	require.NoError(t, manager.Integrations().SetConfigValue(
		context.Background(), common.DefaultTenantID, models.IntegrationTasks, tasksConfigWebhookSecret, "shared-secret"))

	body := []byte(`{"events":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tasks", bytes.NewReader(body))
	req.Header.Set(headerHookSignature, signBody("shared-secret", body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, queue.count())
}

// --- admin: watch lifecycle ---

func TestWatchHandler_StartCreatesChannelWithInitialToken(t *testing.T) {
	manager := newTestStorage(t)
	calendar := &fakeCalendar{}
	handler := NewWatchHandler(testConfig(), manager, calendar, common.GetLogger())

	req := httptest.NewRequest(http.MethodPost, "/admin/calendar/watch/start", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.HandleStart(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	channel, err := manager.Channels().GetActive(context.Background(), common.DefaultTenantID, "primary")
	require.NoError(t, err)
	assert.Equal(t, "initial-token", channel.SyncToken)
	assert.NotEmpty(t, channel.ChannelToken)
	assert.Greater(t, channel.ExpirationMS, int64(0))
}

func TestWatchHandler_ReplaceCarriesTokenAndRetiresOld(t *testing.T) {
	manager := newTestStorage(t)
	calendar := &fakeCalendar{}
	handler := NewWatchHandler(testConfig(), manager, calendar, common.GetLogger())
	ctx := context.Background()

	// Existing active channel with an established cursor.
	require.NoError(t, manager.Channels().Create(ctx, &models.PushChannel{
		TenantID:   common.DefaultTenantID,
		CalendarID: "primary",
		ChannelID:  "chan-old",
		ResourceID: "res-old",
		SyncToken:  "cursor-42",
		Status:     models.ChannelActive,
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/calendar/watch/replace", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.HandleReplace(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The new active channel inherits the cursor; no sync gap.
	active, err := manager.Channels().GetActive(ctx, common.DefaultTenantID, "primary")
	require.NoError(t, err)
	assert.NotEqual(t, "chan-old", active.ChannelID)
	assert.Equal(t, "cursor-42", active.SyncToken)

	old, err := manager.Channels().GetByChannelID(ctx, common.DefaultTenantID, "chan-old")
	require.NoError(t, err)
	assert.Equal(t, models.ChannelReplaced, old.Status)

	// Provider-side: new watch created, old stopped, in that order.
	require.Len(t, calendar.watches, 1)
	assert.Equal(t, []string{"chan-old"}, calendar.stopped)
}

func TestWatchHandler_ReplaceWithoutActiveChannel(t *testing.T) {
	manager := newTestStorage(t)
	handler := NewWatchHandler(testConfig(), manager, &fakeCalendar{}, common.GetLogger())

	req := httptest.NewRequest(http.MethodPost, "/admin/calendar/watch/replace", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.HandleReplace(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWatchHandler_Stop(t *testing.T) {
	manager := newTestStorage(t)
	calendar := &fakeCalendar{}
	handler := NewWatchHandler(testConfig(), manager, calendar, common.GetLogger())
	ctx := context.Background()
	seedActiveChannel(t, manager, "chan-1", "")

	req := httptest.NewRequest(http.MethodPost, "/admin/calendar/watch/stop",
		strings.NewReader(`{"channelId":"chan-1"}`))
	rec := httptest.NewRecorder()
	handler.HandleStop(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	channel, err := manager.Channels().GetByChannelID(ctx, common.DefaultTenantID, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChannelStopped, channel.Status)
	assert.Equal(t, []string{"chan-1"}, calendar.stopped)
}

// --- admin: housekeeping ---

type pruningQueue struct {
	fakeQueue
	pruned int64
}

func (q *pruningQueue) PruneDeadLetters(time.Time) (int64, error) {
	q.pruned++
	return 3, nil
}

func TestHousekeeping_ReportsCounts(t *testing.T) {
	manager := newTestStorage(t)
	queue := &pruningQueue{}
	handler := NewHousekeepingHandler(manager, queue, common.GetLogger())

	req := httptest.NewRequest(http.MethodPost, "/admin/housekeeping", nil)
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), queue.pruned)
	assert.Contains(t, rec.Body.String(), "deadLetters")
}

// --- worker: dispatch ---

type failingTasks struct{}

func (failingTasks) GetTask(context.Context, string) (*interfaces.TaskRecord, error) {
	return nil, fmt.Errorf("provider unavailable")
}
func (failingTasks) CreateTask(context.Context, *interfaces.NewTaskRequest) (*interfaces.TaskRecord, error) {
	return nil, fmt.Errorf("provider unavailable")
}
func (failingTasks) CreateSubtask(context.Context, string, string, string) (*interfaces.TaskRecord, error) {
	return nil, fmt.Errorf("provider unavailable")
}
func (failingTasks) UpdateTaskNotes(context.Context, string, string) error {
	return fmt.Errorf("provider unavailable")
}
func (failingTasks) CompleteTask(context.Context, string) error {
	return fmt.Errorf("provider unavailable")
}
func (failingTasks) CreateWebhook(context.Context, string, string) (*interfaces.WebhookInfo, error) {
	return nil, fmt.Errorf("provider unavailable")
}
func (failingTasks) DeleteWebhook(context.Context, string) error {
	return fmt.Errorf("provider unavailable")
}

func newDispatchHandler(t *testing.T) *DispatchHandler {
	t.Helper()
	manager := newTestStorage(t)
	h := workers.NewHandlers(testConfig(), manager, &fakeQueue{}, &fakeCalendar{}, failingTasks{}, nil, nil, common.GetLogger())
	return NewDispatchHandler(workers.NewDispatcher(h, common.GetLogger()), common.GetLogger())
}

func TestDispatch_UnknownJobTypeIsNonRetryable(t *testing.T) {
	handler := newDispatchHandler(t)

	body := fmt.Sprintf(`{"jobType":"NOT_A_JOB","tenantId":%q,"payload":{}}`, common.DefaultTenantID)
	req := httptest.NewRequest(http.MethodPost, "/tasks/dispatch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatch_MalformedBody(t *testing.T) {
	handler := newDispatchHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/tasks/dispatch", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatch_HandlerFailureRetries(t *testing.T) {
	handler := newDispatchHandler(t)

	// GetTask fails, so the handler errors and the queue must retry.
	body := fmt.Sprintf(`{"jobType":"TASKS_PROCESS","tenantId":%q,"payload":{"taskGid":"task-1","projectGid":"proj-1"}}`,
		common.DefaultTenantID)
	req := httptest.NewRequest(http.MethodPost, "/tasks/dispatch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDispatch_SuccessAcks(t *testing.T) {
	handler := newDispatchHandler(t)

	// CALENDAR_SYNC for an unknown channel drops silently: success, ack.
	body := fmt.Sprintf(`{"jobType":"CALENDAR_SYNC","tenantId":%q,"payload":{"calendarId":"primary","channelId":"chan-ghost"}}`,
		common.DefaultTenantID)
	req := httptest.NewRequest(http.MethodPost, "/tasks/dispatch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
