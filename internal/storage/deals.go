package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// DealStorage persists canonical deal rows, keyed by the originating calendar
// event.
type DealStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewDealStorage creates a deal storage instance.
func NewDealStorage(db *sql.DB, logger arbor.ILogger) *DealStorage {
	return &DealStorage{db: db, logger: logger}
}

const dealColumns = `id, tenant_id, calendar_id, event_id, company, founder,
	task_record_gid, doc_root_id, doc_urls, current_stage, created_at, updated_at`

func scanDeal(row interface{ Scan(...any) error }) (*models.Deal, error) {
	var (
		d                    models.Deal
		docURLsJSON          string
		stage                string
		createdMS, updatedMS int64
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.CalendarID, &d.EventID, &d.Company, &d.Founder,
		&d.TaskRecordGID, &d.DocRootID, &docURLsJSON, &stage, &createdMS, &updatedMS)
	if err != nil {
		return nil, err
	}
	d.CurrentStage = models.StageKey(stage)
	d.CreatedAt = time.UnixMilli(createdMS)
	d.UpdatedAt = time.UnixMilli(updatedMS)
	d.DocURLs = map[string]string{}
	if err := json.Unmarshal([]byte(docURLsJSON), &d.DocURLs); err != nil {
		return nil, fmt.Errorf("failed to decode doc urls: %w", err)
	}
	return &d, nil
}

// Upsert inserts or merges a deal keyed by (tenant, calendar_id, event_id).
// Repeated syncs of the same event converge on one row: non-empty incoming
// company/founder overwrite, empty values leave the stored ones intact.
// Returns the row as stored after the merge.
func (s *DealStorage) Upsert(ctx context.Context, deal *models.Deal) (*models.Deal, error) {
	if deal.ID == "" {
		deal.ID = common.NewDealID()
	}
	now := time.Now().UnixMilli()

	merged, err := scanDeal(s.db.QueryRowContext(ctx,
		`INSERT INTO deals (id, tenant_id, calendar_id, event_id, company, founder,
			task_record_gid, doc_root_id, doc_urls, current_stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', '', '{}', '', $7, $8)
		 ON CONFLICT (tenant_id, calendar_id, event_id) DO UPDATE SET
			company = CASE WHEN excluded.company <> '' THEN excluded.company ELSE deals.company END,
			founder = CASE WHEN excluded.founder <> '' THEN excluded.founder ELSE deals.founder END,
			updated_at = excluded.updated_at
		 RETURNING `+dealColumns,
		deal.ID, deal.TenantID, deal.CalendarID, deal.EventID, deal.Company, deal.Founder,
		now, now))
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// GetByEvent returns the deal for a calendar event or interfaces.ErrNotFound.
func (s *DealStorage) GetByEvent(ctx context.Context, tenantID, calendarID, eventID string) (*models.Deal, error) {
	deal, err := scanDeal(s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals
		 WHERE tenant_id = $1 AND calendar_id = $2 AND event_id = $3`,
		tenantID, calendarID, eventID))
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	return deal, err
}

// GetByTaskGID returns the deal linked to a pipeline task or
// interfaces.ErrNotFound.
func (s *DealStorage) GetByTaskGID(ctx context.Context, tenantID, taskGID string) (*models.Deal, error) {
	deal, err := scanDeal(s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals
		 WHERE tenant_id = $1 AND task_record_gid = $2`,
		tenantID, taskGID))
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	return deal, err
}

// GetByID returns the deal or interfaces.ErrNotFound.
func (s *DealStorage) GetByID(ctx context.Context, tenantID, dealID string) (*models.Deal, error) {
	deal, err := scanDeal(s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE tenant_id = $1 AND id = $2`,
		tenantID, dealID))
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	return deal, err
}

// SetTaskRecordGID links the deal to its pipeline task.
func (s *DealStorage) SetTaskRecordGID(ctx context.Context, tenantID, dealID, taskGID string) error {
	return s.update(ctx,
		`UPDATE deals SET task_record_gid = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		taskGID, time.Now().UnixMilli(), tenantID, dealID)
}

// SetDocWorkspace records the created document workspace.
func (s *DealStorage) SetDocWorkspace(ctx context.Context, tenantID, dealID, docRootID string, docURLs map[string]string) error {
	if docURLs == nil {
		docURLs = map[string]string{}
	}
	urlsJSON, err := json.Marshal(docURLs)
	if err != nil {
		return fmt.Errorf("failed to encode doc urls: %w", err)
	}
	return s.update(ctx,
		`UPDATE deals SET doc_root_id = $1, doc_urls = $2, updated_at = $3 WHERE tenant_id = $4 AND id = $5`,
		docRootID, string(urlsJSON), time.Now().UnixMilli(), tenantID, dealID)
}

// SetStage records the deal's current pipeline stage.
func (s *DealStorage) SetStage(ctx context.Context, tenantID, dealID string, stage models.StageKey) error {
	return s.update(ctx,
		`UPDATE deals SET current_stage = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		string(stage), time.Now().UnixMilli(), tenantID, dealID)
}

func (s *DealStorage) update(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
