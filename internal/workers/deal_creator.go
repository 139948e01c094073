package workers

import (
	"context"
	"fmt"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// DocPageIDSuffix distinguishes stored page IDs from page URLs inside a
// deal's doc_urls map: "research" holds the URL, "research_id" the page ID.
const DocPageIDSuffix = "_id"

// materializeDeal creates the external objects for a freshly detected deal:
// the document workspace first, then the pipeline task. A workspace failure
// does not block task creation; the task is what the team sees. Both halves
// are best-effort and logged, and each is guarded against re-entry by the
// persisted IDs.
func (h *Handlers) materializeDeal(ctx context.Context, deal *models.Deal) {
	if deal.DocRootID == "" {
		if err := h.createDocWorkspace(ctx, deal); err != nil {
			h.logger.Warn().
				Err(err).
				Str("deal_id", deal.ID).
				Msg("Failed to create document workspace")
		}
	}

	if err := h.createPipelineTask(ctx, deal); err != nil {
		h.logger.Warn().
			Err(err).
			Str("deal_id", deal.ID).
			Msg("Failed to create pipeline task")
	}
}

// createDocWorkspace builds the root page and its five children and persists
// their IDs and URLs on the deal.
func (h *Handlers) createDocWorkspace(ctx context.Context, deal *models.Deal) error {
	title := deal.Company
	if deal.Founder != "" {
		title = fmt.Sprintf("%s — %s", deal.Company, deal.Founder)
	}

	root, err := h.docs.CreatePage(ctx, h.config.Docs.ParentPageID, title)
	if err != nil {
		return err
	}

	docURLs := map[string]string{
		models.DocPageRoot:                    root.URL,
		models.DocPageRoot + DocPageIDSuffix: root.ID,
	}
	for _, child := range models.ChildDocPages {
		page, err := h.docs.CreatePage(ctx, root.ID, child.Title)
		if err != nil {
			h.logger.Warn().
				Err(err).
				Str("page", child.Key).
				Msg("Failed to create child page")
			continue
		}
		docURLs[child.Key] = page.URL
		docURLs[child.Key+DocPageIDSuffix] = page.ID

		if child.Key == models.DocPageResearch {
			// Placeholder removed by the stage handler before research runs.
			_ = h.docs.AppendBlocks(ctx, page.ID, []models.DocBlock{
				{Type: models.BlockParagraph, Text: "Research will appear here once diligence starts."},
			})
		}
	}

	if err := h.storage.Deals().SetDocWorkspace(ctx, deal.TenantID, deal.ID, root.ID, docURLs); err != nil {
		return err
	}
	deal.DocRootID = root.ID
	deal.DocURLs = docURLs
	return nil
}

// createPipelineTask creates the deal's task in the FIRST_MEETING section
// with notes linking to the workspace.
func (h *Handlers) createPipelineTask(ctx context.Context, deal *models.Deal) error {
	sectionGID, err := h.sectionForStage(ctx, deal.TenantID, models.StageFirstMeeting)
	if err != nil {
		return err
	}

	notes := fmt.Sprintf("Company: %s\nFounder: %s", deal.Company, deal.Founder)
	if rootURL := deal.DocURLs[models.DocPageRoot]; rootURL != "" {
		notes += fmt.Sprintf("\n\nWorkspace: %s", rootURL)
	}

	task, err := h.tasks.CreateTask(ctx, &interfaces.NewTaskRequest{
		ProjectGID: h.config.Tasks.PipelineProjectGID,
		SectionGID: sectionGID,
		Name:       deal.Company,
		Notes:      notes,
	})
	if err != nil {
		return err
	}

	if err := h.storage.Deals().SetTaskRecordGID(ctx, deal.TenantID, deal.ID, task.GID); err != nil {
		return err
	}
	deal.TaskRecordGID = task.GID

	h.logger.Info().
		Str("deal_id", deal.ID).
		Str("task_gid", task.GID).
		Str("company", deal.Company).
		Msg("Deal materialized")
	return nil
}

// sectionForStage reverse-resolves the enabled section mapped to a stage.
func (h *Handlers) sectionForStage(ctx context.Context, tenantID string, stage models.StageKey) (string, error) {
	sections, err := h.storage.Sections().List(ctx, tenantID)
	if err != nil {
		return "", err
	}
	for _, section := range sections {
		if section.Enabled && section.StageKey == stage {
			return section.SectionGID, nil
		}
	}
	return "", fmt.Errorf("no enabled section mapped to stage %s", stage)
}
