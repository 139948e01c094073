package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// sectionSeed is one entry in the sections seed file.
type sectionSeed struct {
	GID     string `yaml:"gid"`
	Stage   string `yaml:"stage"`
	Enabled *bool  `yaml:"enabled"` // Defaults to true when omitted
}

type sectionSeedFile struct {
	Sections []sectionSeed `yaml:"sections"`
}

// SeedSections loads the section-to-stage mapping from the configured YAML
// file into storage. A missing file is not an error; the mapping can also be
// maintained directly in the database.
func SeedSections(ctx context.Context, storage interfaces.StorageManager, config *common.Config, logger arbor.ILogger) error {
	path := config.Sections.SeedFile
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug().Str("path", path).Msg("No sections seed file")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sections seed file: %w", err)
	}

	var seed sectionSeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse sections seed file %s: %w", path, err)
	}

	for _, entry := range seed.Sections {
		stage := models.StageKey(entry.Stage)
		if entry.GID == "" || !stage.Valid() {
			return fmt.Errorf("invalid section seed entry (gid=%q, stage=%q)", entry.GID, entry.Stage)
		}
		enabled := entry.Enabled == nil || *entry.Enabled
		if err := storage.Sections().Upsert(ctx, &models.PipelineSection{
			TenantID:   config.Tenant.ID,
			SectionGID: entry.GID,
			StageKey:   stage,
			Enabled:    enabled,
		}); err != nil {
			return fmt.Errorf("failed to seed section %s: %w", entry.GID, err)
		}
	}

	if len(seed.Sections) > 0 {
		logger.Info().Int("sections", len(seed.Sections)).Msg("Pipeline sections seeded")
	}
	return nil
}
