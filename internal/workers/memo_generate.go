package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/research"
)

// HandleMemoGenerate synthesizes the investment memo with a single LLM call
// under the same cancellation pattern as the research batch.
func (h *Handlers) HandleMemoGenerate(ctx context.Context, env *models.Envelope) error {
	var payload models.MemoGeneratePayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	canceled, err := h.storage.WorkflowRuns().IsCancelRequested(ctx, env.TenantID, payload.RunID)
	if err == interfaces.ErrNotFound {
		h.logger.Debug().Str("run_id", payload.RunID).Msg("Memo generation for unknown run, dropping")
		return nil
	}
	if err != nil {
		return err
	}
	if canceled {
		return h.closeRun(ctx, env.TenantID, payload.RunID, models.RunCanceled, nil)
	}

	deal, err := h.storage.Deals().GetByID(ctx, env.TenantID, payload.DealID)
	if err != nil {
		return err
	}

	// The research page is the memo's raw material.
	context_ := payload.Context
	if context_ == "" {
		if researchID := deal.DocURLs[models.DocPageResearch+DocPageIDSuffix]; researchID != "" {
			text, err := h.docs.GetPageText(ctx, researchID)
			if err != nil {
				h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to read research page")
			} else {
				context_ = text
			}
		}
	}

	memoCtx, cancelMemo := context.WithCancel(ctx)
	defer cancelMemo()
	stopPolling := h.pollCancellation(env.TenantID, payload.RunID, cancelMemo)
	defer stopPolling()

	result, err := h.llm.GenerateText(memoCtx, &interfaces.GenerateRequest{
		System: research.MemoSystemPrompt(),
		Prompt: research.MemoPrompt(payload.Company, payload.Founder, context_),
	})
	stopPolling()
	if err != nil {
		if memoCtx.Err() != nil {
			return h.closeRun(ctx, env.TenantID, payload.RunID, models.RunCanceled, nil)
		}
		closeErr := h.closeRun(ctx, env.TenantID, payload.RunID, models.RunFailed,
			map[string]string{"error": err.Error()})
		if closeErr != nil {
			h.logger.Warn().Err(closeErr).Str("run_id", payload.RunID).Msg("Failed to close memo run")
		}
		return fmt.Errorf("memo generation failed: %w", err)
	}

	blocks := []models.DocBlock{
		{Type: models.BlockCallout, Text: fmt.Sprintf("Generated on %s", time.Now().Format("2006-01-02"))},
	}
	blocks = append(blocks, h.markdown.ToBlocks(result.Text)...)
	blocks = append(blocks,
		models.DocBlock{Type: models.BlockDivider},
		models.DocBlock{Type: models.BlockCallout, Text: "Draft generated automatically. Review every claim before the IC discussion."},
	)

	if memoID := deal.DocURLs[models.DocPageMemo+DocPageIDSuffix]; memoID != "" {
		if err := h.docs.AppendBlocks(ctx, memoID, blocks); err != nil {
			h.logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("Failed to write memo page")
		}
	} else {
		h.logger.Warn().Str("deal_id", deal.ID).Msg("Deal has no memo page, discarding memo output")
	}

	return h.closeRun(ctx, env.TenantID, payload.RunID, models.RunSucceeded, map[string]string{
		"model": result.Model,
	})
}
