package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// Subtask sets created per stage. Fixed names keep the board predictable.
var (
	firstMeetingSubtasks = []string{
		"Send follow-up email",
		"Collect deck and data room access",
		"Schedule partner intro",
		"Log first impressions in meeting notes",
	}
	diligenceSubtasks = []string{
		"Customer reference calls",
		"Founder deep-dive session",
		"Financial model review",
		"Technical architecture review",
		"Legal and cap table check",
	}
	icReviewSubtasks = []string{
		"Circulate memo to partnership",
		"Collect partner feedback",
		"Schedule IC slot",
		"Prepare term sheet scenarios",
		"Confirm valuation comparables",
	}
)

// HandleStageAction drives the deal state machine for one section move. The
// stage claim key makes the whole handler single-fire per
// (task, section, modified_at) across any number of redeliveries.
func (h *Handlers) HandleStageAction(ctx context.Context, env *models.Envelope) error {
	var payload models.StageActionPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	if !payload.StageKey.Valid() {
		h.logger.Warn().Str("stage", string(payload.StageKey)).Msg("Invalid stage key, dropping")
		return nil
	}

	claimKey := models.StageActionKey(payload.TaskGID, payload.SectionGID, payload.ModifiedAt)
	claimed, err := h.storage.Idempotency().Claim(ctx, env.TenantID, claimKey)
	if err != nil {
		return err
	}
	if !claimed {
		h.logger.Debug().Str("key", claimKey).Msg("Stage action already handled, dropping")
		return nil
	}

	deal, err := h.storage.Deals().GetByTaskGID(ctx, env.TenantID, payload.TaskGID)
	if err == interfaces.ErrNotFound {
		h.logger.Debug().Str("task_gid", payload.TaskGID).Msg("No deal for task, dropping")
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.storage.Deals().SetStage(ctx, env.TenantID, deal.ID, payload.StageKey); err != nil {
		return err
	}
	deal.CurrentStage = payload.StageKey
	h.appendStageNote(ctx, deal, payload.StageKey)

	// Leaving diligence, or reaching a terminal stage, invalidates any
	// running research or memo work.
	if payload.PreviousStage == models.StageInDiligence || payload.StageKey.Terminal() {
		count, err := h.storage.WorkflowRuns().RequestCancelAll(ctx, env.TenantID, deal.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			h.logger.Info().
				Str("deal_id", deal.ID).
				Int64("runs", count).
				Msg("Requested cancellation of running workflows")
		}
	}

	run := &models.WorkflowRun{
		ID:       common.NewRunID(),
		TenantID: env.TenantID,
		DealID:   deal.ID,
		Stage:    payload.StageKey,
	}
	if err := h.storage.WorkflowRuns().Create(ctx, run); err != nil {
		return err
	}

	// Stages with asynchronous work hand their run to the enqueued job,
	// which closes it on completion. Inline stages close here.
	async, err := h.dispatchStageWork(ctx, deal, run, &payload)
	if err != nil {
		closeErr := h.storage.WorkflowRuns().Close(ctx, env.TenantID, run.ID, models.RunFailed,
			map[string]string{"error": err.Error()})
		if closeErr != nil && closeErr != interfaces.ErrAlreadyClosed {
			h.logger.Warn().Err(closeErr).Str("run_id", run.ID).Msg("Failed to close run as failed")
		}
		return err
	}
	if !async {
		if err := h.storage.WorkflowRuns().Close(ctx, env.TenantID, run.ID, models.RunSucceeded, nil); err != nil &&
			err != interfaces.ErrAlreadyClosed {
			return err
		}
	}
	return nil
}

// dispatchStageWork runs the per-stage actions. Returns async=true when an
// enqueued job now owns the run.
func (h *Handlers) dispatchStageWork(ctx context.Context, deal *models.Deal, run *models.WorkflowRun, payload *models.StageActionPayload) (bool, error) {
	switch payload.StageKey {
	case models.StageFirstMeeting:
		return false, h.stageFirstMeeting(ctx, deal)
	case models.StageInDiligence:
		return true, h.stageInDiligence(ctx, deal, run)
	case models.StageICReview:
		return true, h.stageICReview(ctx, deal, run)
	case models.StagePass, models.StageArchive:
		return false, h.stageTerminal(ctx, deal, payload.StageKey)
	}
	return false, nil
}

func (h *Handlers) stageFirstMeeting(ctx context.Context, deal *models.Deal) error {
	for _, name := range firstMeetingSubtasks {
		if _, err := h.tasks.CreateSubtask(ctx, deal.TaskRecordGID, name, ""); err != nil {
			h.logger.Warn().Err(err).Str("subtask", name).Msg("Failed to create prep subtask")
		}
	}

	notes := fmt.Sprintf("Company: %s\nFounder: %s", deal.Company, deal.Founder)
	if rootURL := deal.DocURLs[models.DocPageRoot]; rootURL != "" {
		notes += fmt.Sprintf("\n\nWorkspace: %s", rootURL)
	}
	if err := h.tasks.UpdateTaskNotes(ctx, deal.TaskRecordGID, notes); err != nil {
		h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to update task notes")
	}
	return nil
}

func (h *Handlers) stageInDiligence(ctx context.Context, deal *models.Deal, run *models.WorkflowRun) error {
	// Meeting notes feed the research prompts; absence is not fatal.
	context_ := ""
	if notesID := deal.DocURLs[models.DocPageMeetingNotes+DocPageIDSuffix]; notesID != "" {
		text, err := h.docs.GetPageText(ctx, notesID)
		if err != nil {
			h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to read meeting notes")
		} else {
			context_ = text
		}
	}

	if researchID := deal.DocURLs[models.DocPageResearch+DocPageIDSuffix]; researchID != "" {
		if err := h.docs.ClearPage(ctx, researchID); err != nil {
			h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to clear research placeholders")
		}
	}

	batchEnv, err := models.NewEnvelope(models.JobTypeResearchBatch, deal.TenantID, &models.ResearchBatchPayload{
		RunID:   run.ID,
		DealID:  deal.ID,
		Company: deal.Company,
		Founder: deal.Founder,
		Context: context_,
	})
	if err != nil {
		return err
	}
	if _, err := h.queue.Enqueue(ctx, batchEnv); err != nil {
		return fmt.Errorf("failed to enqueue research batch: %w", err)
	}

	for _, name := range diligenceSubtasks {
		if _, err := h.tasks.CreateSubtask(ctx, deal.TaskRecordGID, name, ""); err != nil {
			h.logger.Warn().Err(err).Str("subtask", name).Msg("Failed to create diligence subtask")
		}
	}
	return nil
}

func (h *Handlers) stageICReview(ctx context.Context, deal *models.Deal, run *models.WorkflowRun) error {
	memoEnv, err := models.NewEnvelope(models.JobTypeMemoGenerate, deal.TenantID, &models.MemoGeneratePayload{
		RunID:   run.ID,
		DealID:  deal.ID,
		Company: deal.Company,
		Founder: deal.Founder,
	})
	if err != nil {
		return err
	}
	if _, err := h.queue.Enqueue(ctx, memoEnv); err != nil {
		return fmt.Errorf("failed to enqueue memo generation: %w", err)
	}

	for _, name := range icReviewSubtasks {
		if _, err := h.tasks.CreateSubtask(ctx, deal.TaskRecordGID, name, ""); err != nil {
			h.logger.Warn().Err(err).Str("subtask", name).Msg("Failed to create review subtask")
		}
	}
	return nil
}

func (h *Handlers) stageTerminal(ctx context.Context, deal *models.Deal, stage models.StageKey) error {
	// Cancellation was already requested before the run opened; re-issue in
	// case a batch started in between.
	if _, err := h.storage.WorkflowRuns().RequestCancelAll(ctx, deal.TenantID, deal.ID); err != nil {
		return err
	}

	if rootID := deal.DocURLs[models.DocPageRoot+DocPageIDSuffix]; rootID != "" {
		note := fmt.Sprintf("Deal closed as %s on %s.", stage.Title(), time.Now().Format("2006-01-02"))
		if err := h.docs.AppendBlocks(ctx, rootID, []models.DocBlock{
			{Type: models.BlockDivider},
			{Type: models.BlockCallout, Text: note},
		}); err != nil {
			h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to append terminal note")
		}
	}

	if err := h.tasks.CompleteTask(ctx, deal.TaskRecordGID); err != nil {
		h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to complete task")
	}
	return nil
}

// appendStageNote writes the stage change onto the document root.
func (h *Handlers) appendStageNote(ctx context.Context, deal *models.Deal, stage models.StageKey) {
	rootID := deal.DocURLs[models.DocPageRoot+DocPageIDSuffix]
	if rootID == "" {
		return
	}
	note := fmt.Sprintf("Stage: %s (updated %s)", stage.Title(), time.Now().Format("2006-01-02 15:04"))
	if err := h.docs.AppendBlocks(ctx, rootID, []models.DocBlock{
		{Type: models.BlockParagraph, Text: note},
	}); err != nil {
		h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to write stage note")
	}
}
