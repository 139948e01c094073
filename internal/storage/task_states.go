package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// TaskStateStorage tracks the last-observed placement of tasks inside the
// pipeline project.
type TaskStateStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewTaskStateStorage creates a task-state storage instance.
func NewTaskStateStorage(db *sql.DB, logger arbor.ILogger) *TaskStateStorage {
	return &TaskStateStorage{db: db, logger: logger}
}

// ObserveSection records the observed section and returns the previously
// stored one ("" when this task was never seen). Read and write share a
// transaction so two workers observing the same task serialize; the stage
// claim key downstream absorbs the rare case where both read the same
// previous value.
func (s *TaskStateStorage) ObserveSection(ctx context.Context, tenantID, taskGID, projectGID, sectionGID, modifiedAt string) (string, error) {
	var previous string
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT last_seen_section_gid FROM task_states
			 WHERE tenant_id = $1 AND task_gid = $2 AND project_gid = $3`,
			tenantID, taskGID, projectGID).Scan(&previous)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO task_states (tenant_id, task_gid, project_gid,
				last_seen_section_gid, last_processed_modified_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (tenant_id, task_gid, project_gid) DO UPDATE SET
				last_seen_section_gid = excluded.last_seen_section_gid,
				last_processed_modified_at = excluded.last_processed_modified_at,
				updated_at = excluded.updated_at`,
			tenantID, taskGID, projectGID, sectionGID, modifiedAt, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

// SetLastTriggeredStage records the stage most recently dispatched for the
// task.
func (s *TaskStateStorage) SetLastTriggeredStage(ctx context.Context, tenantID, taskGID, projectGID string, stage models.StageKey) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE task_states SET last_triggered_stage = $1, updated_at = $2
		 WHERE tenant_id = $3 AND task_gid = $4 AND project_gid = $5`,
		string(stage), time.Now().UnixMilli(), tenantID, taskGID, projectGID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// Get returns the stored state or interfaces.ErrNotFound.
func (s *TaskStateStorage) Get(ctx context.Context, tenantID, taskGID, projectGID string) (*models.TaskState, error) {
	var (
		state     models.TaskState
		stage     string
		updatedMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, task_gid, project_gid, last_seen_section_gid,
			last_processed_modified_at, last_triggered_stage, updated_at
		 FROM task_states WHERE tenant_id = $1 AND task_gid = $2 AND project_gid = $3`,
		tenantID, taskGID, projectGID).
		Scan(&state.TenantID, &state.TaskGID, &state.ProjectGID, &state.LastSeenSectionGID,
			&state.LastProcessedModifiedAt, &stage, &updatedMS)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	state.LastTriggeredStage = models.StageKey(stage)
	state.UpdatedAt = time.UnixMilli(updatedMS)
	return &state, nil
}
