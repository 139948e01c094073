package workers

import (
	"context"
	"fmt"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// HandleTasksProcess is the state-change detector. The task provider fires
// on any edit; this collapses the stream down to real section moves and
// enqueues one STAGE_ACTION per transition.
func (h *Handlers) HandleTasksProcess(ctx context.Context, env *models.Envelope) error {
	var payload models.TasksProcessPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	projectGID := payload.ProjectGID
	if projectGID == "" {
		projectGID = h.config.Tasks.PipelineProjectGID
	}

	task, err := h.tasks.GetTask(ctx, payload.TaskGID)
	if err != nil {
		return fmt.Errorf("failed to fetch task %s: %w", payload.TaskGID, err)
	}

	currentSection := ""
	for _, membership := range task.Memberships {
		if membership.ProjectGID == projectGID {
			currentSection = membership.SectionGID
			break
		}
	}
	if currentSection == "" {
		h.logger.Debug().
			Str("task_gid", payload.TaskGID).
			Msg("Task not in pipeline project, dropping")
		return nil
	}

	previousSection, err := h.storage.TaskStates().ObserveSection(
		ctx, env.TenantID, payload.TaskGID, projectGID, currentSection, task.ModifiedAt)
	if err != nil {
		return err
	}

	// First observation or no movement: nothing to trigger.
	if previousSection == "" || previousSection == currentSection {
		return nil
	}

	stage, ok, err := h.storage.Sections().ResolveStage(ctx, env.TenantID, currentSection)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Debug().
			Str("section_gid", currentSection).
			Msg("Section not mapped to a stage, dropping")
		return nil
	}

	// Best-effort: the previous stage informs cancellation downstream.
	previousStage, _, err := h.storage.Sections().ResolveStage(ctx, env.TenantID, previousSection)
	if err != nil {
		return err
	}

	stageEnv, err := models.NewEnvelope(models.JobTypeStageAction, env.TenantID, &models.StageActionPayload{
		TaskGID:       payload.TaskGID,
		SectionGID:    currentSection,
		StageKey:      stage,
		ModifiedAt:    task.ModifiedAt,
		PreviousStage: previousStage,
	})
	if err != nil {
		return err
	}
	if _, err := h.queue.Enqueue(ctx, stageEnv); err != nil {
		return fmt.Errorf("failed to enqueue stage action: %w", err)
	}

	if err := h.storage.TaskStates().SetLastTriggeredStage(ctx, env.TenantID, payload.TaskGID, projectGID, stage); err != nil {
		return err
	}

	h.logger.Info().
		Str("task_gid", payload.TaskGID).
		Str("stage", string(stage)).
		Str("previous_section", previousSection).
		Msg("Stage transition detected")
	return nil
}
