package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

type captureWorker struct {
	mu        sync.Mutex
	envelopes []*models.Envelope
	status    int
}

func (w *captureWorker) handler(rw http.ResponseWriter, r *http.Request) {
	var env models.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.envelopes = append(w.envelopes, &env)
	status := w.status
	w.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	rw.WriteHeader(status)
}

func (w *captureWorker) received() []*models.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*models.Envelope, len(w.envelopes))
	copy(out, w.envelopes)
	return out
}

// serve exposes the capture handler at the dispatch route only, matching the
// worker's real route table; deliveries to any other path 404.
func (w *captureWorker) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/dispatch", w.handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestBadgerQueue(t *testing.T, workerURL string) *BadgerQueue {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Queue.BadgerPath = t.TempDir()
	config.Queue.PollInterval = "20ms"
	config.Queue.MaxReceive = 2
	config.Queue.BackoffBase = "30ms"
	config.Queue.BackoffCap = "100ms"
	config.Worker.URL = workerURL

	q, err := NewBadgerQueue(config, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestBadgerQueue_DeliversEnvelope(t *testing.T) {
	worker := &captureWorker{}
	server := worker.serve(t)

	q := newTestBadgerQueue(t, server.URL)

	env, err := models.NewEnvelope(models.JobTypeCalendarSync, common.DefaultTenantID,
		&models.CalendarSyncPayload{CalendarID: "primary", ChannelID: "chan-1"})
	require.NoError(t, err)

	taskName, err := q.Enqueue(context.Background(), env)
	require.NoError(t, err)
	assert.NotEmpty(t, taskName)

	require.Eventually(t, func() bool {
		return len(worker.received()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	got := worker.received()[0]
	assert.Equal(t, models.JobTypeCalendarSync, got.JobType)

	var payload models.CalendarSyncPayload
	require.NoError(t, got.DecodePayload(&payload))
	assert.Equal(t, "chan-1", payload.ChannelID)
}

func TestBadgerQueue_RetriesThenDeadLetters(t *testing.T) {
	worker := &captureWorker{status: http.StatusInternalServerError}
	server := worker.serve(t)

	q := newTestBadgerQueue(t, server.URL)

	env, err := models.NewEnvelope(models.JobTypeTasksProcess, common.DefaultTenantID,
		&models.TasksProcessPayload{TaskGID: "task-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), env)
	require.NoError(t, err)

	// max_receive is 2: one initial attempt plus one retry, then dead-letter.
	require.Eventually(t, func() bool {
		return len(worker.received()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, worker.received(), 2, "no redelivery after dead-letter")

	pruned, err := q.PruneDeadLetters(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestBadgerQueue_BadRequestDeadLettersImmediately(t *testing.T) {
	worker := &captureWorker{status: http.StatusBadRequest}
	server := worker.serve(t)

	q := newTestBadgerQueue(t, server.URL)

	env, err := models.NewEnvelope(models.JobTypeStageAction, common.DefaultTenantID,
		&models.StageActionPayload{TaskGID: "task-1", StageKey: models.StagePass})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), env)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(worker.received()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, worker.received(), 1, "non-retryable rejection must not be retried")
}

func TestHTTPQueue_DispatchesSynchronously(t *testing.T) {
	worker := &captureWorker{}
	server := worker.serve(t)

	q := NewHTTPQueue(server.URL, common.GetLogger())

	env, err := models.NewEnvelope(models.JobTypeMemoGenerate, common.DefaultTenantID,
		&models.MemoGeneratePayload{RunID: "run-1", DealID: "deal-1"})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), env)
	require.NoError(t, err)
	assert.Len(t, worker.received(), 1)
}

func TestDispatchURL(t *testing.T) {
	target, err := dispatchURL("http://localhost:8082")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8082/tasks/dispatch", target)

	target, err = dispatchURL("https://worker.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://worker.example.com/tasks/dispatch", target)
}

func TestHTTPQueue_TrailingSlashBaseURL(t *testing.T) {
	worker := &captureWorker{}
	server := worker.serve(t)

	q := NewHTTPQueue(server.URL+"/", common.GetLogger())

	env, err := models.NewEnvelope(models.JobTypeStageAction, common.DefaultTenantID,
		&models.StageActionPayload{TaskGID: "task-1", StageKey: models.StageICReview})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), env)
	require.NoError(t, err)
	assert.Len(t, worker.received(), 1)
}

func TestHTTPQueue_SurfacesWorkerError(t *testing.T) {
	worker := &captureWorker{status: http.StatusInternalServerError}
	server := worker.serve(t)

	q := NewHTTPQueue(server.URL, common.GetLogger())

	env, err := models.NewEnvelope(models.JobTypeMemoGenerate, common.DefaultTenantID,
		&models.MemoGeneratePayload{RunID: "run-1", DealID: "deal-1"})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), env)
	assert.Error(t, err)
}
