package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Workflow.MaxResearchIterations)
	assert.Equal(t, 3, cfg.Workflow.MaxRevisionIterations)
	assert.False(t, cfg.Workflow.AutoApprove)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  http_port: 9000
workflow:
  max_revision_iterations: 5
  auto_approve: true
llm:
  model: claude-opus-4
  timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Workflow.MaxRevisionIterations)
	assert.True(t, cfg.Workflow.AutoApprove)
	assert.Equal(t, "claude-opus-4", cfg.LLM.Model)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Workflow.MaxResearchIterations)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("does-not-exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644))

	t.Setenv("RESEARCHFLOW_SERVER_HTTP_PORT", "9100")
	t.Setenv("RESEARCHFLOW_LLM_API_KEY", "sk-test")
	t.Setenv("RESEARCHFLOW_SERVER_API_KEYS", "key-a, key-b")
	t.Setenv("RESEARCHFLOW_TOOLS_TIMEOUT", "45s")
	t.Setenv("RESEARCHFLOW_WORKFLOW_AUTO_APPROVE", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Server.APIKeys)
	assert.Equal(t, 45*time.Second, cfg.Tools.Timeout)
	assert.True(t, cfg.Workflow.AutoApprove)
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "mysql"
	cfg.Workflow.MaxRevisionIterations = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	assert.Contains(t, err.Error(), "max_revision_iterations")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "sqlite", Name: "flow.db"}
	assert.Equal(t, "flow.db", d.DSN())

	d = DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "rf", Password: "pw", Name: "researchflow", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=rf password=pw dbname=researchflow sslmode=disable", d.DSN())
}
