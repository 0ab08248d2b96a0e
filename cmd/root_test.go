package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autoapply/internal/store"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, store.NewMemory(), "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, store.NewMemory(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
engine:
  worker_concurrency: 0
`)
	_, err := executeCommand(t, store.NewMemory(), "--config", path, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_concurrency")
}

func TestRootCmd_UnreadableConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "engine: [unterminated")
	_, err := executeCommand(t, store.NewMemory(), "--config", path, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestRootCmd_EnvOverride(t *testing.T) {
	t.Setenv("AUTOAPPLY_ENGINE_WORKER_CONCURRENCY", "-1")
	_, err := executeCommand(t, store.NewMemory(), "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_concurrency")
}

func TestMigrateCmd_MemoryStore(t *testing.T) {
	_, err := executeCommand(t, store.NewMemory(), "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema to migrate")
}

func TestDefaultStoreProvider_RequiresURL(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.DatabaseCfg.URL = ""
	_, _, err := NewStoreProvider().Create(t.Context(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOAPPLY_DATABASE_URL")
}
