package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// WorkflowRunStorage manages workflow-run bookkeeping rows.
type WorkflowRunStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewWorkflowRunStorage creates a workflow-run storage instance.
func NewWorkflowRunStorage(db *sql.DB, logger arbor.ILogger) *WorkflowRunStorage {
	return &WorkflowRunStorage{db: db, logger: logger}
}

// Create inserts a new run in status "running".
func (s *WorkflowRunStorage) Create(ctx context.Context, run *models.WorkflowRun) error {
	meta := run.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode run meta: %w", err)
	}

	if run.Status == "" {
		run.Status = models.RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, tenant_id, deal_id, stage, status, cancel_requested, meta, started_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		run.ID, run.TenantID, run.DealID, string(run.Stage), string(run.Status),
		string(metaJSON), run.StartedAt.UnixMilli())
	return err
}

// Get returns the run or interfaces.ErrNotFound.
func (s *WorkflowRunStorage) Get(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, error) {
	var (
		run             models.WorkflowRun
		stage, status   string
		cancelRequested int
		metaJSON        string
		startedMS       int64
		finishedMS      sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, deal_id, stage, status, cancel_requested, meta, started_at, finished_at
		 FROM workflow_runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID).
		Scan(&run.ID, &run.TenantID, &run.DealID, &stage, &status, &cancelRequested,
			&metaJSON, &startedMS, &finishedMS)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Stage = models.StageKey(stage)
	run.Status = models.RunStatus(status)
	run.CancelRequested = cancelRequested != 0
	run.StartedAt = time.UnixMilli(startedMS)
	if finishedMS.Valid {
		t := time.UnixMilli(finishedMS.Int64)
		run.FinishedAt = &t
	}
	run.Meta = map[string]string{}
	if err := json.Unmarshal([]byte(metaJSON), &run.Meta); err != nil {
		return nil, fmt.Errorf("failed to decode run meta: %w", err)
	}
	return &run, nil
}

// Close transitions the run out of "running". The status guard in the WHERE
// clause makes the transition write-once; a run that already reached a
// terminal status stays there and the caller gets ErrAlreadyClosed.
func (s *WorkflowRunStorage) Close(ctx context.Context, tenantID, runID string, status models.RunStatus, meta map[string]string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot close run with non-terminal status %q", status)
	}
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode run meta: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = $1, meta = $2, finished_at = $3
		 WHERE tenant_id = $4 AND id = $5 AND status = 'running'`,
		string(status), string(metaJSON), time.Now().UnixMilli(), tenantID, runID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, tenantID, runID); getErr != nil {
			return getErr
		}
		return interfaces.ErrAlreadyClosed
	}

	s.logger.Debug().
		Str("run_id", runID).
		Str("status", string(status)).
		Msg("Workflow run closed")
	return nil
}

// RequestCancelAll flips cancel_requested on every running run of the deal.
// Returns the number of runs flagged.
func (s *WorkflowRunStorage) RequestCancelAll(ctx context.Context, tenantID, dealID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET cancel_requested = 1
		 WHERE tenant_id = $1 AND deal_id = $2 AND status = 'running'`,
		tenantID, dealID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// IsCancelRequested reports the cancellation flag for one run.
func (s *WorkflowRunStorage) IsCancelRequested(ctx context.Context, tenantID, runID string) (bool, error) {
	var cancelRequested int
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM workflow_runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID).Scan(&cancelRequested)
	if err == sql.ErrNoRows {
		return false, interfaces.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return cancelRequested != 0, nil
}
