package workers

import (
	"context"
	"fmt"
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
)

const testTenant = common.DefaultTenantID

// --- fakes ---

type fakeQueue struct {
	mu        sync.Mutex
	envelopes []*models.Envelope
}

func (q *fakeQueue) Enqueue(_ context.Context, env *models.Envelope) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.envelopes = append(q.envelopes, env)
	return common.NewEnvelopeID(), nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) byType(jobType string) []*models.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.Envelope
	for _, env := range q.envelopes {
		if env.JobType == jobType {
			out = append(out, env)
		}
	}
	return out
}

type fakeCalendar struct {
	listFn func(ctx context.Context, calendarID string, opts interfaces.ListEventsOptions) (*interfaces.EventPage, error)
}

func (c *fakeCalendar) Watch(context.Context, string, string, string, string) (*interfaces.WatchInfo, error) {
	return &interfaces.WatchInfo{}, nil
}
func (c *fakeCalendar) StopWatch(context.Context, string, string) error { return nil }
func (c *fakeCalendar) ListEvents(ctx context.Context, calendarID string, opts interfaces.ListEventsOptions) (*interfaces.EventPage, error) {
	return c.listFn(ctx, calendarID, opts)
}

type fakeTasks struct {
	mu         sync.Mutex
	nextGID    int
	tasks      map[string]*interfaces.TaskRecord
	created    []*interfaces.NewTaskRequest
	subtasks   map[string][]string
	notes      map[string]string
	completed  []string
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{
		tasks:    map[string]*interfaces.TaskRecord{},
		subtasks: map[string][]string{},
		notes:    map[string]string{},
	}
}

func (t *fakeTasks) GetTask(_ context.Context, taskGID string) (*interfaces.TaskRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskGID]
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskGID)
	}
	return task, nil
}

func (t *fakeTasks) CreateTask(_ context.Context, req *interfaces.NewTaskRequest) (*interfaces.TaskRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextGID++
	gid := fmt.Sprintf("task-%d", t.nextGID)
	t.created = append(t.created, req)
	record := &interfaces.TaskRecord{GID: gid, Name: req.Name, Notes: req.Notes}
	t.tasks[gid] = record
	return record, nil
}

func (t *fakeTasks) CreateSubtask(_ context.Context, parentGID, name, _ string) (*interfaces.TaskRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subtasks[parentGID] = append(t.subtasks[parentGID], name)
	t.nextGID++
	return &interfaces.TaskRecord{GID: fmt.Sprintf("task-%d", t.nextGID), Name: name}, nil
}

func (t *fakeTasks) UpdateTaskNotes(_ context.Context, taskGID, notes string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notes[taskGID] = notes
	return nil
}

func (t *fakeTasks) CompleteTask(_ context.Context, taskGID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = append(t.completed, taskGID)
	return nil
}

func (t *fakeTasks) CreateWebhook(context.Context, string, string) (*interfaces.WebhookInfo, error) {
	return &interfaces.WebhookInfo{GID: "wh-1"}, nil
}
func (t *fakeTasks) DeleteWebhook(context.Context, string) error { return nil }

type fakeDocs struct {
	mu       sync.Mutex
	nextID   int
	appended map[string][]models.DocBlock
	cleared  []string
	pageText map[string]string
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		appended: map[string][]models.DocBlock{},
		pageText: map[string]string{},
	}
}

func (d *fakeDocs) CreatePage(_ context.Context, _, title string) (*interfaces.DocPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("page-%d", d.nextID)
	return &interfaces.DocPage{ID: id, Title: title, URL: "https://docs.example/" + id}, nil
}

func (d *fakeDocs) AppendBlocks(_ context.Context, pageID string, blocks []models.DocBlock) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appended[pageID] = append(d.appended[pageID], blocks...)
	return nil
}

func (d *fakeDocs) GetPageText(_ context.Context, pageID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageText[pageID], nil
}

func (d *fakeDocs) ClearPage(_ context.Context, pageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared = append(d.cleared, pageID)
	d.appended[pageID] = nil
	return nil
}

func (d *fakeDocs) blocks(pageID string) []models.DocBlock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.DocBlock(nil), d.appended[pageID]...)
}

type fakeLLM struct {
	generateFn func(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error)
	callCount  int64
	mu         sync.Mutex
}

func (l *fakeLLM) GenerateText(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	l.mu.Lock()
	l.callCount++
	l.mu.Unlock()
	if l.generateFn != nil {
		return l.generateFn(ctx, req)
	}
	return &interfaces.GenerateResult{Text: "## Findings\n\nGenerated.", Model: "test"}, nil
}

func (l *fakeLLM) ProviderName() string { return "fake" }
func (l *fakeLLM) Close() error         { return nil }

func (l *fakeLLM) count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.callCount
}

// --- environment ---

type env struct {
	handlers *Handlers
	storage  *storage.Manager
	queue    *fakeQueue
	calendar *fakeCalendar
	tasks    *fakeTasks
	docs     *fakeDocs
	llm      *fakeLLM
	config   *common.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	manager, err := storage.NewManager(&common.DatabaseConfig{SQLitePath: ":memory:"}, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	ctx := context.Background()
	require.NoError(t, manager.Tenants().Ensure(ctx, testTenant, "test"))
	sections := map[string]models.StageKey{
		"sec-fm":      models.StageFirstMeeting,
		"sec-dil":     models.StageInDiligence,
		"sec-ic":      models.StageICReview,
		"sec-pass":    models.StagePass,
		"sec-archive": models.StageArchive,
	}
	for gid, stage := range sections {
		require.NoError(t, manager.Sections().Upsert(ctx, &models.PipelineSection{
			TenantID: testTenant, SectionGID: gid, StageKey: stage, Enabled: true,
		}))
	}

	config := common.NewDefaultConfig()
	config.Tasks.PipelineProjectGID = "proj-1"
	config.Docs.ParentPageID = "page-parent"
	config.Research.CancelPollInterval = "30ms"

	e := &env{
		storage:  manager,
		queue:    &fakeQueue{},
		calendar: &fakeCalendar{},
		tasks:    newFakeTasks(),
		docs:     newFakeDocs(),
		llm:      &fakeLLM{},
		config:   config,
	}
	e.handlers = NewHandlers(config, manager, e.queue, e.calendar, e.tasks, e.docs, e.llm, common.GetLogger())
	return e
}

func (e *env) seedChannel(t *testing.T, channelID, syncToken string) {
	t.Helper()
	require.NoError(t, e.storage.Channels().Create(context.Background(), &models.PushChannel{
		TenantID:   testTenant,
		CalendarID: "primary",
		ChannelID:  channelID,
		ResourceID: "res-1",
		SyncToken:  syncToken,
		Status:     models.ChannelActive,
	}))
}

func (e *env) seedDeal(t *testing.T, taskGID string) *models.Deal {
	t.Helper()
	ctx := context.Background()
	deal, err := e.storage.Deals().Upsert(ctx, &models.Deal{
		TenantID:   testTenant,
		CalendarID: "primary",
		EventID:    "evt-" + taskGID,
		Company:    "Acme Robotics",
		Founder:    "Jane Doe",
	})
	require.NoError(t, err)
	require.NoError(t, e.storage.Deals().SetTaskRecordGID(ctx, testTenant, deal.ID, taskGID))
	docURLs := map[string]string{
		models.DocPageRoot:                                  "https://docs.example/root",
		models.DocPageRoot + DocPageIDSuffix:                "page-root",
		models.DocPageMeetingNotes:                          "https://docs.example/notes",
		models.DocPageMeetingNotes + DocPageIDSuffix:        "page-notes",
		models.DocPageResearch:                              "https://docs.example/research",
		models.DocPageResearch + DocPageIDSuffix:            "page-research",
		models.DocPageMemo:                                  "https://docs.example/memo",
		models.DocPageMemo + DocPageIDSuffix:                "page-memo",
	}
	require.NoError(t, e.storage.Deals().SetDocWorkspace(ctx, testTenant, deal.ID, "page-root", docURLs))
	deal.TaskRecordGID = taskGID
	deal.DocRootID = "page-root"
	deal.DocURLs = docURLs
	return deal
}

func calendarSyncEnvelope(t *testing.T, channelID string) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.JobTypeCalendarSync, testTenant,
		&models.CalendarSyncPayload{CalendarID: "primary", ChannelID: channelID})
	require.NoError(t, err)
	return env
}

// --- CALENDAR_SYNC ---

func TestCalendarSync_CreatesAndMaterializesDeal(t *testing.T) {
	e := newEnv(t)
	e.seedChannel(t, "chan-1", "")
	ctx := context.Background()

	e.calendar.listFn = func(_ context.Context, _ string, opts interfaces.ListEventsOptions) (*interfaces.EventPage, error) {
		return &interfaces.EventPage{
			Events: []interfaces.CalendarEvent{
				{ID: "evt-1", Status: "confirmed", Summary: "[deal] Acme Robotics — Jane Doe"},
				{ID: "evt-2", Status: "confirmed", Summary: "Board meeting"},
				{ID: "evt-3", Status: "cancelled", Summary: "[deal] Ghost Co — Nobody"},
			},
			NextSyncToken: "token-1",
		}, nil
	}

	require.NoError(t, e.handlers.HandleCalendarSync(ctx, calendarSyncEnvelope(t, "chan-1")))

	deal, err := e.storage.Deals().GetByEvent(ctx, testTenant, "primary", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Robotics", deal.Company)
	assert.Equal(t, "Jane Doe", deal.Founder)
	assert.NotEmpty(t, deal.TaskRecordGID, "deal task must be created")
	assert.NotEmpty(t, deal.DocRootID, "doc workspace must be created")
	assert.NotEmpty(t, deal.DocURLs[models.DocPageResearch])

	// Untagged and cancelled events do not become deals.
	_, err = e.storage.Deals().GetByEvent(ctx, testTenant, "primary", "evt-2")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = e.storage.Deals().GetByEvent(ctx, testTenant, "primary", "evt-3")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// Task landed in the FIRST_MEETING section with a workspace link.
	require.Len(t, e.tasks.created, 1)
	assert.Equal(t, "sec-fm", e.tasks.created[0].SectionGID)
	assert.Contains(t, e.tasks.created[0].Notes, deal.DocURLs[models.DocPageRoot])

	// Sync token persisted on the active channel.
	channel, err := e.storage.Channels().GetActive(ctx, testTenant, "primary")
	require.NoError(t, err)
	assert.Equal(t, "token-1", channel.SyncToken)
}

func TestCalendarSync_RedeliveryDoesNotDuplicate(t *testing.T) {
	e := newEnv(t)
	e.seedChannel(t, "chan-1", "")
	ctx := context.Background()

	e.calendar.listFn = func(context.Context, string, interfaces.ListEventsOptions) (*interfaces.EventPage, error) {
		return &interfaces.EventPage{
			Events:        []interfaces.CalendarEvent{{ID: "evt-1", Status: "confirmed", Summary: "[deal] Acme — Jane"}},
			NextSyncToken: "token-1",
		}, nil
	}

	require.NoError(t, e.handlers.HandleCalendarSync(ctx, calendarSyncEnvelope(t, "chan-1")))
	require.NoError(t, e.handlers.HandleCalendarSync(ctx, calendarSyncEnvelope(t, "chan-1")))

	assert.Len(t, e.tasks.created, 1, "task creation is guarded by task_record_gid")
}

func TestCalendarSync_ExpiredTokenFallsBackToFullSync(t *testing.T) {
	e := newEnv(t)
	e.seedChannel(t, "chan-1", "stale-token")
	ctx := context.Background()

	var syncTokensSeen []string
	e.calendar.listFn = func(_ context.Context, _ string, opts interfaces.ListEventsOptions) (*interfaces.EventPage, error) {
		syncTokensSeen = append(syncTokensSeen, opts.SyncToken)
		if opts.SyncToken != "" {
			return nil, interfaces.ErrSyncTokenExpired
		}
		assert.False(t, opts.Since.IsZero(), "full sync must be windowed")
		return &interfaces.EventPage{NextSyncToken: "fresh-token"}, nil
	}

	require.NoError(t, e.handlers.HandleCalendarSync(ctx, calendarSyncEnvelope(t, "chan-1")))

	require.Equal(t, []string{"stale-token", ""}, syncTokensSeen)
	channel, err := e.storage.Channels().GetActive(ctx, testTenant, "primary")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", channel.SyncToken)
}

func TestCalendarSync_AttendeeFallbackForFounder(t *testing.T) {
	e := newEnv(t)
	e.seedChannel(t, "chan-1", "")
	ctx := context.Background()

	e.calendar.listFn = func(context.Context, string, interfaces.ListEventsOptions) (*interfaces.EventPage, error) {
		return &interfaces.EventPage{
			Events: []interfaces.CalendarEvent{{
				ID: "evt-1", Status: "confirmed", Summary: "[DEAL] Initech",
				Attendees: []interfaces.CalendarAttendee{
					{Email: "me@fund.example", Self: true},
					{Email: "peter@initech.example", DisplayName: "Peter Gibbons"},
				},
			}},
			NextSyncToken: "token-1",
		}, nil
	}

	require.NoError(t, e.handlers.HandleCalendarSync(ctx, calendarSyncEnvelope(t, "chan-1")))

	deal, err := e.storage.Deals().GetByEvent(ctx, testTenant, "primary", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Initech", deal.Company)
	assert.Equal(t, "Peter Gibbons", deal.Founder)
}

// --- TASKS_PROCESS ---

func tasksProcessEnvelope(t *testing.T, taskGID string) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.JobTypeTasksProcess, testTenant,
		&models.TasksProcessPayload{TaskGID: taskGID, ProjectGID: "proj-1"})
	require.NoError(t, err)
	return env
}

func (e *env) placeTask(taskGID, sectionGID, modifiedAt string) {
	e.tasks.mu.Lock()
	defer e.tasks.mu.Unlock()
	e.tasks.tasks[taskGID] = &interfaces.TaskRecord{
		GID:        taskGID,
		Name:       "Acme Robotics",
		ModifiedAt: modifiedAt,
		Memberships: []interfaces.TaskMembership{
			{ProjectGID: "proj-1", SectionGID: sectionGID},
		},
	}
}

func TestTasksProcess_FirstObservationIsNoop(t *testing.T) {
	e := newEnv(t)
	e.placeTask("task-1", "sec-fm", "2026-08-25T10:00:00Z")

	require.NoError(t, e.handlers.HandleTasksProcess(context.Background(), tasksProcessEnvelope(t, "task-1")))
	assert.Empty(t, e.queue.byType(models.JobTypeStageAction))
}

func TestTasksProcess_NoMovementIsNoop(t *testing.T) {
	e := newEnv(t)
	e.placeTask("task-1", "sec-fm", "2026-08-25T10:00:00Z")
	ctx := context.Background()

	require.NoError(t, e.handlers.HandleTasksProcess(ctx, tasksProcessEnvelope(t, "task-1")))
	require.NoError(t, e.handlers.HandleTasksProcess(ctx, tasksProcessEnvelope(t, "task-1")))
	require.NoError(t, e.handlers.HandleTasksProcess(ctx, tasksProcessEnvelope(t, "task-1")))

	assert.Empty(t, e.queue.byType(models.JobTypeStageAction))
}

func TestTasksProcess_SectionMoveEnqueuesStageAction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.placeTask("task-1", "sec-fm", "2026-08-25T10:00:00Z")
	require.NoError(t, e.handlers.HandleTasksProcess(ctx, tasksProcessEnvelope(t, "task-1")))

	e.placeTask("task-1", "sec-dil", "2026-08-25T11:00:00Z")
	require.NoError(t, e.handlers.HandleTasksProcess(ctx, tasksProcessEnvelope(t, "task-1")))

	actions := e.queue.byType(models.JobTypeStageAction)
	require.Len(t, actions, 1)
	var payload models.StageActionPayload
	require.NoError(t, actions[0].DecodePayload(&payload))
	assert.Equal(t, models.StageInDiligence, payload.StageKey)
	assert.Equal(t, models.StageFirstMeeting, payload.PreviousStage)
	assert.Equal(t, "2026-08-25T11:00:00Z", payload.ModifiedAt)

	state, err := e.storage.TaskStates().Get(ctx, testTenant, "task-1", "proj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageInDiligence, state.LastTriggeredStage)
}

func TestTasksProcess_UnmappedSectionIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.placeTask("task-1", "sec-fm", "2026-08-25T10:00:00Z")
	require.NoError(t, e.handlers.HandleTasksProcess(ctx, tasksProcessEnvelope(t, "task-1")))

	e.placeTask("task-1", "sec-random", "2026-08-25T11:00:00Z")
	require.NoError(t, e.handlers.HandleTasksProcess(ctx, tasksProcessEnvelope(t, "task-1")))

	assert.Empty(t, e.queue.byType(models.JobTypeStageAction))
}

// --- STAGE_ACTION ---

func stageActionEnvelope(t *testing.T, taskGID string, stage models.StageKey, previous models.StageKey, modifiedAt string) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.JobTypeStageAction, testTenant, &models.StageActionPayload{
		TaskGID:       taskGID,
		SectionGID:    "sec-" + string(stage[:2]),
		StageKey:      stage,
		ModifiedAt:    modifiedAt,
		PreviousStage: previous,
	})
	require.NoError(t, err)
	return env
}

func TestStageAction_SingleFireAcrossRedeliveries(t *testing.T) {
	e := newEnv(t)
	e.seedDeal(t, "task-1")
	ctx := context.Background()

	env := stageActionEnvelope(t, "task-1", models.StageInDiligence, models.StageFirstMeeting, "2026-08-25T11:00:00Z")
	require.NoError(t, e.handlers.HandleStageAction(ctx, env))
	require.NoError(t, e.handlers.HandleStageAction(ctx, env))
	require.NoError(t, e.handlers.HandleStageAction(ctx, env))

	assert.Len(t, e.queue.byType(models.JobTypeResearchBatch), 1,
		"downstream enqueues must happen exactly once per (task, section, modified_at)")
}

func TestStageAction_InDiligence(t *testing.T) {
	e := newEnv(t)
	deal := e.seedDeal(t, "task-1")
	e.docs.pageText["page-notes"] = "Strong founding team, early revenue."
	ctx := context.Background()

	env := stageActionEnvelope(t, "task-1", models.StageInDiligence, models.StageFirstMeeting, "2026-08-25T11:00:00Z")
	require.NoError(t, e.handlers.HandleStageAction(ctx, env))

	// Stage written on the deal.
	stored, err := e.storage.Deals().GetByID(ctx, testTenant, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInDiligence, stored.CurrentStage)

	// Research placeholders cleared before the batch is enqueued.
	assert.Contains(t, e.docs.cleared, "page-research")

	batches := e.queue.byType(models.JobTypeResearchBatch)
	require.Len(t, batches, 1)
	var payload models.ResearchBatchPayload
	require.NoError(t, batches[0].DecodePayload(&payload))
	assert.Equal(t, deal.ID, payload.DealID)
	assert.NotEmpty(t, payload.RunID)
	assert.Contains(t, payload.Context, "Strong founding team")

	// The run stays open for the batch to close.
	run, err := e.storage.WorkflowRuns().Get(ctx, testTenant, payload.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, run.Status)

	// Five human subtasks created.
	assert.Len(t, e.tasks.subtasks["task-1"], 5)
}

func TestStageAction_FirstMeetingCreatesPrepSubtasks(t *testing.T) {
	e := newEnv(t)
	e.seedDeal(t, "task-1")
	ctx := context.Background()

	env := stageActionEnvelope(t, "task-1", models.StageFirstMeeting, "", "2026-08-25T09:00:00Z")
	require.NoError(t, e.handlers.HandleStageAction(ctx, env))

	assert.Len(t, e.tasks.subtasks["task-1"], 4)
	assert.Contains(t, e.tasks.notes["task-1"], "https://docs.example/root")
}

func TestStageAction_TerminalCancelsAndCompletes(t *testing.T) {
	e := newEnv(t)
	deal := e.seedDeal(t, "task-1")
	ctx := context.Background()

	// A running research workflow from diligence.
	running := &models.WorkflowRun{ID: common.NewRunID(), TenantID: testTenant, DealID: deal.ID, Stage: models.StageInDiligence}
	require.NoError(t, e.storage.WorkflowRuns().Create(ctx, running))

	env := stageActionEnvelope(t, "task-1", models.StagePass, models.StageInDiligence, "2026-08-25T12:00:00Z")
	require.NoError(t, e.handlers.HandleStageAction(ctx, env))

	flagged, err := e.storage.WorkflowRuns().IsCancelRequested(ctx, testTenant, running.ID)
	require.NoError(t, err)
	assert.True(t, flagged, "running workflows must be flagged for cancellation")

	assert.Contains(t, e.tasks.completed, "task-1")

	// Terminal note on the document root.
	var sawTerminalNote bool
	for _, block := range e.docs.blocks("page-root") {
		if block.Type == models.BlockCallout {
			sawTerminalNote = true
		}
	}
	assert.True(t, sawTerminalNote)
}

func TestStageAction_NoDealIsNoop(t *testing.T) {
	e := newEnv(t)
	env := stageActionEnvelope(t, "task-unknown", models.StageInDiligence, "", "2026-08-25T11:00:00Z")
	require.NoError(t, e.handlers.HandleStageAction(context.Background(), env))
	assert.Empty(t, e.queue.byType(models.JobTypeResearchBatch))
}

// --- RESEARCH_BATCH ---

func researchBatchEnvelope(t *testing.T, runID, dealID string) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.JobTypeResearchBatch, testTenant, &models.ResearchBatchPayload{
		RunID:   runID,
		DealID:  dealID,
		Company: "Acme Robotics",
		Founder: "Jane Doe",
	})
	require.NoError(t, err)
	return env
}

func (e *env) createRun(t *testing.T, dealID string) *models.WorkflowRun {
	t.Helper()
	run := &models.WorkflowRun{ID: common.NewRunID(), TenantID: testTenant, DealID: dealID, Stage: models.StageInDiligence}
	require.NoError(t, e.storage.WorkflowRuns().Create(context.Background(), run))
	return run
}

func TestResearchBatch_EmitsInFixedOrder(t *testing.T) {
	e := newEnv(t)
	deal := e.seedDeal(t, "task-1")
	run := e.createRun(t, deal.ID)
	ctx := context.Background()

	// Finish in scrambled order; emission must still follow the agent order.
	delays := map[string]time.Duration{
		"market_tam":            40 * time.Millisecond,
		"competitors":           5 * time.Millisecond,
		"founder_background":    25 * time.Millisecond,
		"risks_redflags":        1 * time.Millisecond,
		"product_defensibility": 30 * time.Millisecond,
		"traction_signals":      10 * time.Millisecond,
	}
	e.llm.generateFn = func(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
		for key, delay := range delays {
			if containsAgentFocus(req.Prompt, key) {
				time.Sleep(delay)
				return &interfaces.GenerateResult{Text: "Body for " + key}, nil
			}
		}
		return &interfaces.GenerateResult{Text: "Body"}, nil
	}

	require.NoError(t, e.handlers.HandleResearchBatch(ctx, researchBatchEnvelope(t, run.ID, deal.ID)))

	blocks := e.docs.blocks("page-research")
	var headings []string
	for _, block := range blocks {
		if block.Type == models.BlockHeading2 {
			headings = append(headings, block.Text)
		}
	}
	assert.Equal(t, []string{
		"Market & TAM",
		"Competitive Landscape",
		"Founder Background",
		"Risks & Red Flags",
		"Product & Defensibility",
		"Traction Signals",
	}, headings)

	stored, err := e.storage.WorkflowRuns().Get(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, stored.Status)
	assert.Equal(t, "6", stored.Meta["agents_succeeded"])
}

// containsAgentFocus matches a prompt to its agent via distinctive focus
// wording.
func containsAgentFocus(prompt, key string) bool {
	markers := map[string]string{
		"market_tam":            "total addressable market",
		"competitors":           "direct and indirect competitors",
		"founder_background":    "track record",
		"risks_redflags":        "regulatory exposure",
		"product_defensibility": "switching costs",
		"traction_signals":      "hiring velocity",
	}
	marker := markers[key]
	return marker != "" && strings.Contains(prompt, marker)
}

func TestResearchBatch_FailedAgentIsSkippedNotFatal(t *testing.T) {
	e := newEnv(t)
	deal := e.seedDeal(t, "task-1")
	run := e.createRun(t, deal.ID)

	e.llm.generateFn = func(_ context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
		if containsAgentFocus(req.Prompt, "competitors") {
			return nil, fmt.Errorf("provider overloaded")
		}
		return &interfaces.GenerateResult{Text: "Body"}, nil
	}

	require.NoError(t, e.handlers.HandleResearchBatch(context.Background(), researchBatchEnvelope(t, run.ID, deal.ID)))

	var headings []string
	for _, block := range e.docs.blocks("page-research") {
		if block.Type == models.BlockHeading2 {
			headings = append(headings, block.Text)
		}
	}
	assert.Len(t, headings, 5)
	assert.NotContains(t, headings, "Competitive Landscape")

	stored, err := e.storage.WorkflowRuns().Get(context.Background(), testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, stored.Status)
	assert.Equal(t, "5", stored.Meta["agents_succeeded"])
}

func TestResearchBatch_PreCanceledExitsCleanly(t *testing.T) {
	e := newEnv(t)
	deal := e.seedDeal(t, "task-1")
	run := e.createRun(t, deal.ID)
	ctx := context.Background()

	_, err := e.storage.WorkflowRuns().RequestCancelAll(ctx, testTenant, deal.ID)
	require.NoError(t, err)

	require.NoError(t, e.handlers.HandleResearchBatch(ctx, researchBatchEnvelope(t, run.ID, deal.ID)))

	assert.Zero(t, e.llm.count(), "no LLM round-trip may start after cancel")
	assert.Empty(t, e.docs.blocks("page-research"))

	stored, err := e.storage.WorkflowRuns().Get(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCanceled, stored.Status)
}

func TestResearchBatch_CancelMidFlightAbortsCalls(t *testing.T) {
	e := newEnv(t)
	deal := e.seedDeal(t, "task-1")
	run := e.createRun(t, deal.ID)
	ctx := context.Background()

	started := make(chan struct{}, 6)
	e.llm.generateFn = func(callCtx context.Context, _ *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
		started <- struct{}{}
		<-callCtx.Done() // block until the shared cancel fires
		return nil, callCtx.Err()
	}

	// Flip the cancel flag once all agents are in flight.
	go func() {
		for i := 0; i < 6; i++ {
			<-started
		}
		_, _ = e.storage.WorkflowRuns().RequestCancelAll(context.Background(), testTenant, deal.ID)
	}()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- e.handlers.HandleResearchBatch(ctx, researchBatchEnvelope(t, run.ID, deal.ID))
	}()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not observe cancellation within the poll interval")
	}

	stored, err := e.storage.WorkflowRuns().Get(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCanceled, stored.Status)
	assert.Empty(t, e.docs.blocks("page-research"))
}

// --- MEMO_GENERATE ---

func TestMemoGenerate_WritesMemoPage(t *testing.T) {
	e := newEnv(t)
	deal := e.seedDeal(t, "task-1")
	run := e.createRun(t, deal.ID)
	e.docs.pageText["page-research"] = "Research findings here."
	ctx := context.Background()

	e.llm.generateFn = func(_ context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
		assert.Contains(t, req.Prompt, "Research findings here.")
		return &interfaces.GenerateResult{Text: "## Executive Summary\n\nInvest.", Model: "test-model"}, nil
	}

	env, err := models.NewEnvelope(models.JobTypeMemoGenerate, testTenant, &models.MemoGeneratePayload{
		RunID: run.ID, DealID: deal.ID, Company: "Acme Robotics", Founder: "Jane Doe",
	})
	require.NoError(t, err)
	require.NoError(t, e.handlers.HandleMemoGenerate(ctx, env))

	blocks := e.docs.blocks("page-memo")
	require.NotEmpty(t, blocks)
	assert.Equal(t, models.BlockCallout, blocks[0].Type, "memo must open with the generated-on callout")
	assert.Contains(t, blocks[0].Text, "Generated on")
	last := blocks[len(blocks)-1]
	assert.Equal(t, models.BlockCallout, last.Type, "memo must end with the review warning")

	stored, err := e.storage.WorkflowRuns().Get(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, stored.Status)
	assert.Equal(t, "test-model", stored.Meta["model"])
}

// --- dispatcher ---

func TestDispatcher_UnknownJobType(t *testing.T) {
	e := newEnv(t)
	dispatcher := NewDispatcher(e.handlers, common.GetLogger())

	err := dispatcher.Dispatch(context.Background(), &models.Envelope{
		JobType:  "NOT_A_JOB",
		TenantID: testTenant,
	})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestDispatcher_RejectsInvalidEnvelope(t *testing.T) {
	e := newEnv(t)
	dispatcher := NewDispatcher(e.handlers, common.GetLogger())

	err := dispatcher.Dispatch(context.Background(), &models.Envelope{
		JobType:  models.JobTypeCalendarSync,
		TenantID: "not-a-uuid",
	})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}
