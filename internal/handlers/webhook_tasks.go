package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// Task-provider webhook headers.
const (
	headerHookSecret    = "X-Hook-Secret"
	headerHookSignature = "X-Hook-Signature"
)

// Integration config keys under (tenant, tasks).
const (
	tasksConfigWebhookSecret = "webhook_secret"
	tasksConfigWebhookGID    = "webhook_gid"
)

// webhookEvent is one entry in the provider's event batch.
type webhookEvent struct {
	Action    string `json:"action"`
	CreatedAt string `json:"created_at"`
	Resource  struct {
		GID          string `json:"gid"`
		ResourceType string `json:"resource_type"`
	} `json:"resource"`
	Parent *struct {
		GID          string `json:"gid"`
		ResourceType string `json:"resource_type"`
	} `json:"parent"`
}

type webhookEventBatch struct {
	Events []webhookEvent `json:"events"`
}

// TasksWebhookHandler receives task-provider webhooks. Registration is
// two-phase: the handshake request carries a shared secret header which is
// persisted and echoed back; every later event batch is authenticated by
// HMAC-SHA256 of the raw body with that secret.
type TasksWebhookHandler struct {
	config  *common.Config
	storage interfaces.StorageManager
	queue   interfaces.Queue
	logger  arbor.ILogger
}

// NewTasksWebhookHandler creates the tasks webhook handler.
func NewTasksWebhookHandler(config *common.Config, storage interfaces.StorageManager, queue interfaces.Queue, logger arbor.ILogger) *TasksWebhookHandler {
	return &TasksWebhookHandler{
		config:  config,
		storage: storage,
		queue:   queue,
		logger:  logger,
	}
}

// Handle processes POST /webhooks/tasks.
func (h *TasksWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()
	tenantID := h.config.Tenant.ID

	// Handshake mode: persist and echo the secret.
	if secret := r.Header.Get(headerHookSecret); secret != "" {
		if err := h.storage.Integrations().SetConfigValue(ctx, tenantID, models.IntegrationTasks, tasksConfigWebhookSecret, secret); err != nil {
			h.logger.Error().Err(err).Msg("Failed to persist webhook secret")
			WriteError(w, http.StatusInternalServerError, "failed to persist webhook secret")
			return
		}
		h.logger.Info().Msg("Task webhook handshake completed")
		w.Header().Set(headerHookSecret, secret)
		WriteAccepted(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	secret, err := h.storage.Integrations().GetConfigValue(ctx, tenantID, models.IntegrationTasks, tasksConfigWebhookSecret)
	if err != nil || secret == "" {
		h.logger.Warn().Msg("Task webhook event with no stored secret")
		WriteError(w, http.StatusUnauthorized, "no webhook secret")
		return
	}

	// The signature covers the raw bytes, so verification has to happen
	// before any parsing.
	if !verifySignature(secret, body, r.Header.Get(headerHookSignature)) {
		h.logger.Warn().Msg("Task webhook signature mismatch")
		WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var batch webhookEventBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to parse verified webhook body")
		WriteAccepted(w)
		return
	}
	if len(batch.Events) == 0 {
		// Heartbeat.
		WriteAccepted(w)
		return
	}

	webhookGID, _ := h.storage.Integrations().GetConfigValue(ctx, tenantID, models.IntegrationTasks, tasksConfigWebhookGID)

	enqueued := 0
	for _, event := range batch.Events {
		if event.Resource.ResourceType != "task" {
			continue
		}
		claimed, err := h.storage.Idempotency().Claim(ctx, tenantID,
			models.TasksEventKey(webhookGID, event.CreatedAt, event.Resource.GID, event.Action))
		if err != nil {
			h.logger.Warn().Err(err).Str("task_gid", event.Resource.GID).Msg("Event claim failed")
			continue
		}
		if !claimed {
			continue
		}

		projectGID := h.config.Tasks.PipelineProjectGID
		if event.Parent != nil && event.Parent.ResourceType == "project" {
			projectGID = event.Parent.GID
		}
		env, err := models.NewEnvelope(models.JobTypeTasksProcess, tenantID, &models.TasksProcessPayload{
			TaskGID:    event.Resource.GID,
			ProjectGID: projectGID,
			Action:     event.Action,
		})
		if err == nil {
			_, err = h.queue.Enqueue(ctx, env)
		}
		if err != nil {
			h.logger.Error().Err(err).Str("task_gid", event.Resource.GID).Msg("Failed to enqueue task event")
			continue
		}
		enqueued++
	}

	h.logger.Debug().
		Int("events", len(batch.Events)).
		Int("enqueued", enqueued).
		Msg("Task webhook batch processed")
	WriteAccepted(w)
}

// verifySignature checks the hex HMAC-SHA256 of body against the header value
// in constant time.
func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
