package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/store"
)

// executeCommand runs a fresh command tree backed by mem and returns its output.
func executeCommand(t *testing.T, mem *store.Memory, args ...string) (string, error) {
	t.Helper()
	resetForTest(t)
	root := newRootCommand(&memoryStoreProvider{mem: mem})
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// seedHandOff stores an application in NEEDS_HUMAN with a queued worker session.
func seedHandOff(t *testing.T, mem *store.Memory, appID, sessionID string) {
	t.Helper()
	ctx := context.Background()
	app := &schemas.Application{
		ID:       appID,
		UserID:   "user-1",
		JobID:    "job-" + appID,
		ApplyURL: "https://boards.greenhouse.io/acme/jobs/1",
		Status:   schemas.StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateApplication(ctx, app))
	app.Error = "captcha unresolved"
	app.ErrorKind = schemas.ErrorCaptchaUnresolved
	require.NoError(t, mem.HandOffApplication(ctx, app))
	_, err := mem.EnqueueWorkerSession(ctx, &schemas.WorkerSession{
		ID:            sessionID,
		ApplicationID: appID,
		Reason:        "captcha unresolved",
		CreatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
}

// newTestConfig returns defaults tuned for fast in-process runs.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.EngineCfg = config.EngineConfig{QueueSize: 8, WorkerConcurrency: 2}
	cfg.OrchestratorCfg = config.OrchestratorConfig{
		AttemptTimeout: 5 * time.Second,
		StepTimeout:    2 * time.Second,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		PersistTimeout: time.Second,
	}
	cfg.FillerCfg = config.FillerConfig{}
	cfg.CaptchaCfg.Enabled = false
	return cfg
}
