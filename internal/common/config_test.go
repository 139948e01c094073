package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, DefaultTenantID, config.Tenant.ID)
	assert.Equal(t, 8080, config.Ingress.Port)
	assert.Equal(t, 8081, config.Admin.Port)
	assert.Equal(t, 8082, config.Worker.Port)
	assert.Empty(t, config.Database.Host, "sqlite is the default backend")
	assert.Equal(t, 30, config.Calendar.FullSyncDays)
	assert.Equal(t, 250, config.Calendar.PageSize)
	assert.Equal(t, "5s", config.Research.CancelPollInterval)
}

func TestLoadFromFilesMergesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
environment = "production"

[ingress]
port = 9090

[llm]
model = "gemini-2.5-flash"
`), 0644))
	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[ingress]
port = 9191
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 9191, config.Ingress.Port, "later files win")
	assert.Equal(t, "gemini-2.5-flash", config.LLM.Model)
	assert.Equal(t, 8081, config.Admin.Port, "untouched values keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_NAME", "dealflow")
	t.Setenv("LLM_MODEL", "claude-opus-4")
	t.Setenv("LOCAL_DEV", "1")
	t.Setenv("WORKER_URL", "https://worker.internal")
	t.Setenv("PORT", "7000")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", config.Database.Host)
	assert.Equal(t, "dealflow", config.Database.Name)
	assert.Equal(t, "claude-opus-4", config.LLM.Model)
	assert.True(t, config.LocalDev)
	assert.Equal(t, "https://worker.internal", config.Worker.URL)

	// Hosted runtimes inject one PORT per process.
	assert.Equal(t, 7000, config.Ingress.Port)
	assert.Equal(t, 7000, config.Admin.Port)
	assert.Equal(t, 7000, config.Worker.Port)
}

func TestApplyFlagOverridesScopedToService(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, "worker", 9999, "127.0.0.1")

	assert.Equal(t, 9999, config.Worker.Port)
	assert.Equal(t, "127.0.0.1", config.Worker.Host)
	assert.Equal(t, 8080, config.Ingress.Port, "other services untouched")
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on"} {
		assert.True(t, truthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "off", "nope"} {
		assert.False(t, truthy(v), v)
	}
}
