package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/store"
)

func TestQueueCmd_Lifecycle(t *testing.T) {
	mem := store.NewMemory()
	seedHandOff(t, mem, "app-1", "ws-1")

	out, err := executeCommand(t, mem, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ws-1")
	assert.Contains(t, out, "app-1")
	assert.Contains(t, out, "captcha unresolved")

	out, err = executeCommand(t, mem, "queue", "claim", "ws-1", "--operator", "op-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Claimed session ws-1 for application app-1")

	_, err = executeCommand(t, mem, "queue", "claim", "ws-1", "--operator", "op-8")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyClaimed)

	out, err = executeCommand(t, mem, "queue", "list", "--status", "claimed")
	require.NoError(t, err)
	assert.Contains(t, out, "op-7")

	out, err = executeCommand(t, mem, "queue", "resolve", "ws-1", "--result", "submitted", "--notes", "solved by hand")
	require.NoError(t, err)
	assert.Contains(t, out, "Resolved session ws-1 as SUBMITTED")

	app, err := mem.GetApplication(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusSubmitted, app.Status)
	assert.Equal(t, schemas.MethodWorkerSubmit, app.Method)

	out, err = executeCommand(t, mem, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No queued worker sessions.")
}

func TestQueueCmd_Validation(t *testing.T) {
	mem := store.NewMemory()
	seedHandOff(t, mem, "app-1", "ws-1")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad status", []string{"queue", "list", "--status", "pending"}, "invalid status"},
		{"claim needs operator", []string{"queue", "claim", "ws-1"}, "operator"},
		{"claim needs id", []string{"queue", "claim", "--operator", "op"}, "accepts 1 arg"},
		{"resolve needs result", []string{"queue", "resolve", "ws-1"}, "result"},
		{"resolve rejects other statuses", []string{"queue", "resolve", "ws-1", "--result", "NEEDS_HUMAN"}, "result must be"},
		{"resolve requires claim", []string{"queue", "resolve", "ws-1", "--result", "FAILED"}, "not claimed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, mem, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestQueueCmd_ResetStale(t *testing.T) {
	mem := store.NewMemory()
	seedHandOff(t, mem, "app-1", "ws-1")
	seedHandOff(t, mem, "app-2", "ws-2")
	ctx := context.Background()
	require.NoError(t, mem.ClaimWorkerSession(ctx, "ws-1", "op-1", time.Now().Add(-3*time.Hour)))
	require.NoError(t, mem.ClaimWorkerSession(ctx, "ws-2", "op-2", time.Now()))

	out, err := executeCommand(t, mem, "queue", "reset-stale", "--older-than", "2h")
	require.NoError(t, err)
	assert.Contains(t, out, "Released 1 stale claim(s).")

	ws, err := mem.GetWorkerSession(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.WorkerQueued, ws.Status)
	assert.Empty(t, ws.ClaimedBy)

	ws, err = mem.GetWorkerSession(ctx, "ws-2")
	require.NoError(t, err)
	assert.Equal(t, schemas.WorkerClaimed, ws.Status)
}

func TestStatusCmd(t *testing.T) {
	mem := store.NewMemory()
	seedHandOff(t, mem, "app-1", "ws-1")

	out, err := executeCommand(t, mem, "status", "app-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Application app-1 (job job-app-1): needs your input")
	assert.NotContains(t, out, "captcha unresolved")

	_, err = executeCommand(t, mem, "status", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
