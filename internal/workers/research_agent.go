package workers

import (
	"context"
	"fmt"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/research"
)

// HandleResearchAgent re-runs a single research agent and appends its
// section to the research page. Used for targeted refreshes outside a full
// batch; the run (when given) is only consulted for cancellation, never
// closed here.
func (h *Handlers) HandleResearchAgent(ctx context.Context, env *models.Envelope) error {
	var payload models.ResearchAgentPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	agent, ok := research.AgentByKey(payload.AgentKey)
	if !ok {
		h.logger.Warn().Str("agent", payload.AgentKey).Msg("Unknown research agent, dropping")
		return nil
	}

	if payload.RunID != "" {
		canceled, err := h.storage.WorkflowRuns().IsCancelRequested(ctx, env.TenantID, payload.RunID)
		if err != nil && err != interfaces.ErrNotFound {
			return err
		}
		if canceled {
			h.logger.Debug().Str("run_id", payload.RunID).Msg("Run canceled, skipping agent")
			return nil
		}
	}

	result, err := h.llm.GenerateText(ctx, &interfaces.GenerateRequest{
		System: research.SystemPrompt(),
		Prompt: agent.Prompt(payload.Company, payload.Founder, payload.Context),
	})
	if err != nil {
		return fmt.Errorf("agent %s failed: %w", agent.Key, err)
	}

	pageID := h.researchPageID(ctx, env.TenantID, payload.DealID)
	if pageID == "" {
		h.logger.Warn().Str("deal_id", payload.DealID).Msg("Deal has no research page, discarding output")
		return nil
	}

	blocks := []models.DocBlock{{Type: models.BlockHeading2, Text: agent.Title}}
	blocks = append(blocks, h.markdown.ToBlocks(result.Text)...)
	blocks = append(blocks, models.DocBlock{Type: models.BlockDivider})
	return h.docs.AppendBlocks(ctx, pageID, blocks)
}
