package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "./workflowcore.db", cfg.Database.URL)
	assert.Equal(t, "@every 2s", cfg.Wait.Outbox.Every)
	assert.Equal(t, "@every 1s", cfg.Retry.Outbox.Every)
	assert.True(t, cfg.Messaging.Enabled)
}

func TestLoadEnvVarOverridesDefault(t *testing.T) {
	t.Setenv("WORKFLOWCORE_ENVIRONMENT", "production")
	t.Setenv("WORKFLOWCORE_DATABASE_URL", "postgres://example/db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgres://example/db", cfg.Database.URL)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("WORKFLOWCORE_ENVIRONMENT", "not-a-real-env")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
environment: staging
database:
  url: "sqlite://staging.db"
messaging:
  enabled: true
  stream: "STAGING"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "STAGING", cfg.Messaging.Stream)
	// Fields not set in the file should still carry their defaults.
	assert.Equal(t, 100, cfg.Wait.Outbox.BatchSize)
}

func TestLoadMissingConfigFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
