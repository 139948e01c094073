package storage

import (
	"context"
	"database/sql"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// SectionStorage maps task-provider section GIDs to stage keys.
type SectionStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewSectionStorage creates a section storage instance.
func NewSectionStorage(db *sql.DB, logger arbor.ILogger) *SectionStorage {
	return &SectionStorage{db: db, logger: logger}
}

// Upsert inserts or replaces the mapping for (tenant, section).
func (s *SectionStorage) Upsert(ctx context.Context, section *models.PipelineSection) error {
	enabled := 0
	if section.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_sections (tenant_id, section_gid, stage_key, enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, section_gid) DO UPDATE SET
			stage_key = excluded.stage_key,
			enabled = excluded.enabled`,
		section.TenantID, section.SectionGID, string(section.StageKey), enabled)
	return err
}

// ResolveStage returns the stage for an enabled mapping. Unmapped or disabled
// sections resolve to ok=false, never to an error.
func (s *SectionStorage) ResolveStage(ctx context.Context, tenantID, sectionGID string) (models.StageKey, bool, error) {
	var stage string
	err := s.db.QueryRowContext(ctx,
		`SELECT stage_key FROM pipeline_sections
		 WHERE tenant_id = $1 AND section_gid = $2 AND enabled = 1`,
		tenantID, sectionGID).Scan(&stage)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return models.StageKey(stage), true, nil
}

// List returns every mapping of the tenant, enabled or not.
func (s *SectionStorage) List(ctx context.Context, tenantID string) ([]*models.PipelineSection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT section_gid, stage_key, enabled FROM pipeline_sections
		 WHERE tenant_id = $1 ORDER BY section_gid`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []*models.PipelineSection
	for rows.Next() {
		var (
			section models.PipelineSection
			stage   string
			enabled int
		)
		if err := rows.Scan(&section.SectionGID, &stage, &enabled); err != nil {
			return nil, err
		}
		section.TenantID = tenantID
		section.StageKey = models.StageKey(stage)
		section.Enabled = enabled != 0
		sections = append(sections, &section)
	}
	return sections, rows.Err()
}
