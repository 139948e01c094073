package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// TasksWebhookAdminHandler registers and deregisters the task-provider
// webhook. The provider completes registration by calling the ingress
// handshake, which persists the shared secret.
type TasksWebhookAdminHandler struct {
	config  *common.Config
	storage interfaces.StorageManager
	tasks   interfaces.TasksClient
	logger  arbor.ILogger
}

// NewTasksWebhookAdminHandler creates the webhook admin handler.
func NewTasksWebhookAdminHandler(config *common.Config, storage interfaces.StorageManager, tasksClient interfaces.TasksClient, logger arbor.ILogger) *TasksWebhookAdminHandler {
	return &TasksWebhookAdminHandler{
		config:  config,
		storage: storage,
		tasks:   tasksClient,
		logger:  logger,
	}
}

type webhookCreateRequest struct {
	ResourceGID string `json:"resourceGid"`
}

// HandleCreate processes POST /admin/tasks/webhook/create.
func (h *TasksWebhookAdminHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req webhookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resourceGID := req.ResourceGID
	if resourceGID == "" {
		resourceGID = h.config.Tasks.PipelineProjectGID
	}
	if resourceGID == "" {
		WriteError(w, http.StatusBadRequest, "resourceGid is required")
		return
	}
	ctx := r.Context()

	target := h.config.Ingress.PublicBaseURL + "/webhooks/tasks"
	info, err := h.tasks.CreateWebhook(ctx, resourceGID, target)
	if err != nil {
		h.logger.Error().Err(err).Str("resource_gid", resourceGID).Msg("Failed to create task webhook")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The webhook gid keys event idempotency claims on ingress.
	if err := h.storage.Integrations().SetConfigValue(ctx, h.config.Tenant.ID, models.IntegrationTasks, tasksConfigWebhookGID, info.GID); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to persist webhook gid")
	}

	h.logger.Info().
		Str("webhook_gid", info.GID).
		Str("resource_gid", resourceGID).
		Msg("Task webhook registered")
	WriteJSON(w, http.StatusOK, map[string]string{
		"webhookGid": info.GID,
		"target":     target,
	})
}

type webhookDeleteRequest struct {
	WebhookGID string `json:"webhookGid"`
}

// HandleDelete processes POST /admin/tasks/webhook/delete.
func (h *TasksWebhookAdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req webhookDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()

	webhookGID := req.WebhookGID
	if webhookGID == "" {
		stored, err := h.storage.Integrations().GetConfigValue(ctx, h.config.Tenant.ID, models.IntegrationTasks, tasksConfigWebhookGID)
		if err != nil || stored == "" {
			WriteError(w, http.StatusBadRequest, "webhookGid is required")
			return
		}
		webhookGID = stored
	}

	if err := h.tasks.DeleteWebhook(ctx, webhookGID); err != nil {
		h.logger.Error().Err(err).Str("webhook_gid", webhookGID).Msg("Failed to delete task webhook")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteSuccess(w, "webhook deleted")
}
