package workers

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/research"
)

type agentResult struct {
	ok   bool
	text string
	err  error
}

// HandleResearchBatch fans the six research agents out against the LLM
// provider under one shared cancellation handle and writes results to the
// research page in the fixed agent order.
//
// Cancellation contract: once the poller observes cancel_requested, no new
// LLM round-trip begins and in-flight ones are aborted through the shared
// context. A call that already returned may still reach the page; that is
// acceptable, double-close of the run is not.
func (h *Handlers) HandleResearchBatch(ctx context.Context, env *models.Envelope) error {
	var payload models.ResearchBatchPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	canceled, err := h.storage.WorkflowRuns().IsCancelRequested(ctx, env.TenantID, payload.RunID)
	if err == interfaces.ErrNotFound {
		h.logger.Debug().Str("run_id", payload.RunID).Msg("Research batch for unknown run, dropping")
		return nil
	}
	if err != nil {
		return err
	}
	if canceled {
		return h.closeRun(ctx, env.TenantID, payload.RunID, models.RunCanceled, nil)
	}

	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()
	stopPolling := h.pollCancellation(env.TenantID, payload.RunID, cancelBatch)
	defer stopPolling()

	results := make([]agentResult, len(research.Agents))
	var wg sync.WaitGroup
	for i, agent := range research.Agents {
		wg.Add(1)
		go func(i int, agent research.Agent) {
			defer wg.Done()
			result, err := h.llm.GenerateText(batchCtx, &interfaces.GenerateRequest{
				System: research.SystemPrompt(),
				Prompt: agent.Prompt(payload.Company, payload.Founder, payload.Context),
			})
			if err != nil {
				results[i] = agentResult{err: err}
				return
			}
			results[i] = agentResult{ok: true, text: result.Text}
		}(i, agent)
	}
	wg.Wait()
	stopPolling()

	// Emission order is the agent order, never the completion order.
	var blocks []models.DocBlock
	succeeded := 0
	for i, agent := range research.Agents {
		if !results[i].ok {
			h.logger.Warn().
				Err(results[i].err).
				Str("agent", agent.Key).
				Str("run_id", payload.RunID).
				Msg("Research agent failed")
			continue
		}
		succeeded++
		blocks = append(blocks, models.DocBlock{Type: models.BlockHeading2, Text: agent.Title})
		blocks = append(blocks, h.markdown.ToBlocks(results[i].text)...)
		blocks = append(blocks, models.DocBlock{Type: models.BlockDivider})
	}

	if len(blocks) > 0 {
		if pageID := h.researchPageID(ctx, env.TenantID, payload.DealID); pageID != "" {
			if err := h.docs.AppendBlocks(ctx, pageID, blocks); err != nil {
				h.logger.Warn().Err(err).Str("run_id", payload.RunID).Msg("Failed to write research page")
			}
		}
	}

	status := models.RunSucceeded
	if batchCtx.Err() != nil {
		status = models.RunCanceled
	}
	return h.closeRun(ctx, env.TenantID, payload.RunID, status, map[string]string{
		"agents_succeeded": strconv.Itoa(succeeded),
		"agents_total":     strconv.Itoa(len(research.Agents)),
	})
}

// pollCancellation watches the run's cancel flag and fires cancel once it
// flips. The returned stop function is idempotent.
func (h *Handlers) pollCancellation(tenantID, runID string, cancel context.CancelFunc) func() {
	interval := 5 * time.Second
	if h.config.Research.CancelPollInterval != "" {
		if parsed, err := time.ParseDuration(h.config.Research.CancelPollInterval); err == nil && parsed > 0 {
			interval = parsed
		}
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				pollCtx, pollCancel := context.WithTimeout(context.Background(), interval)
				canceled, err := h.storage.WorkflowRuns().IsCancelRequested(pollCtx, tenantID, runID)
				pollCancel()
				if err != nil {
					h.logger.Warn().Err(err).Str("run_id", runID).Msg("Cancellation poll failed")
					continue
				}
				if canceled {
					h.logger.Info().Str("run_id", runID).Msg("Cancellation observed, aborting in-flight calls")
					cancel()
					return
				}
			}
		}
	}()
	return func() { stopOnce.Do(func() { close(stopCh) }) }
}

// closeRun closes the run, treating an already-terminal run as success: the
// write-once transition in storage decides the winner.
func (h *Handlers) closeRun(ctx context.Context, tenantID, runID string, status models.RunStatus, meta map[string]string) error {
	err := h.storage.WorkflowRuns().Close(ctx, tenantID, runID, status, meta)
	if err == interfaces.ErrAlreadyClosed || err == interfaces.ErrNotFound {
		return nil
	}
	return err
}

// researchPageID resolves the deal's research page, "" when the workspace is
// missing.
func (h *Handlers) researchPageID(ctx context.Context, tenantID, dealID string) string {
	deal, err := h.storage.Deals().GetByID(ctx, tenantID, dealID)
	if err != nil {
		h.logger.Warn().Err(err).Str("deal_id", dealID).Msg("Failed to load deal for research output")
		return ""
	}
	return deal.DocURLs[models.DocPageResearch+DocPageIDSuffix]
}
