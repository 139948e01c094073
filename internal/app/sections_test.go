package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/storage"
)

func TestSeedSections(t *testing.T) {
	manager, err := storage.NewManager(&common.DatabaseConfig{SQLitePath: ":memory:"}, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	ctx := context.Background()
	require.NoError(t, manager.Tenants().Ensure(ctx, common.DefaultTenantID, "test"))

	seedFile := filepath.Join(t.TempDir(), "sections.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte(`
sections:
  - gid: "100"
    stage: FIRST_MEETING
  - gid: "200"
    stage: IN_DILIGENCE
  - gid: "300"
    stage: ARCHIVE
    enabled: false
`), 0644))

	config := common.NewDefaultConfig()
	config.Sections.SeedFile = seedFile
	require.NoError(t, SeedSections(ctx, manager, config, common.GetLogger()))

	stage, ok, err := manager.Sections().ResolveStage(ctx, common.DefaultTenantID, "100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StageFirstMeeting, stage)

	// Disabled mappings resolve to nothing.
	_, ok, err = manager.Sections().ResolveStage(ctx, common.DefaultTenantID, "300")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedSectionsMissingFileIsNoop(t *testing.T) {
	manager, err := storage.NewManager(&common.DatabaseConfig{SQLitePath: ":memory:"}, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, manager.Tenants().Ensure(context.Background(), common.DefaultTenantID, "test"))

	config := common.NewDefaultConfig()
	config.Sections.SeedFile = filepath.Join(t.TempDir(), "absent.yaml")
	assert.NoError(t, SeedSections(context.Background(), manager, config, common.GetLogger()))
}

func TestSeedSectionsRejectsInvalidStage(t *testing.T) {
	manager, err := storage.NewManager(&common.DatabaseConfig{SQLitePath: ":memory:"}, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, manager.Tenants().Ensure(context.Background(), common.DefaultTenantID, "test"))

	seedFile := filepath.Join(t.TempDir(), "sections.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte(`
sections:
  - gid: "100"
    stage: NOT_A_STAGE
`), 0644))

	config := common.NewDefaultConfig()
	config.Sections.SeedFile = seedFile
	assert.Error(t, SeedSections(context.Background(), manager, config, common.GetLogger()))
}
