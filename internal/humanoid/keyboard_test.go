package humanoid

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/internal/config"
)

// mockExecutor records keys and sleeps without touching a browser.
type mockExecutor struct {
	mu             sync.Mutex
	sentKeys       []string
	sleepDurations []time.Duration
	failOnKey      string
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOnKey != "" && keys == m.failOnKey {
		return errors.New("element detached")
	}
	m.sentKeys = append(m.sentKeys, keys)
	return ctx.Err()
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	m.sleepDurations = append(m.sleepDurations, d)
	m.mu.Unlock()
	return ctx.Err()
}

func testHumanoidConfig() config.HumanoidConfig {
	return config.HumanoidConfig{
		Enabled:              true,
		KeyPauseMean:         70,
		KeyPauseStdDev:       28,
		KeyPauseMin:          35,
		KeyPauseNgramFactor2: 0.7,
		KeyPauseNgramFactor3: 0.55,
		KeyHoldMeanMs:        55,
		KeyHoldStdDevMs:      15,
		FatigueIncreaseRate:  0.01,
		FatigueMax:           0.4,
		BurstLength:          4,
	}
}

func TestType_SendsEachRuneInOrder(t *testing.T) {
	h := New(testHumanoidConfig(), zaptest.NewLogger(t), 42)
	mock := &mockExecutor{}

	require.NoError(t, h.Type(context.Background(), mock, "Ada Lé"))

	assert.Equal(t, []string{"A", "d", "a", " ", "L", "é"}, mock.sentKeys)
	for _, d := range mock.sleepDurations {
		assert.GreaterOrEqual(t, d, 19*time.Millisecond, "no pause should be shorter than the clamped minimums")
	}
}

func TestType_DisabledSendsWholeValue(t *testing.T) {
	cfg := testHumanoidConfig()
	cfg.Enabled = false
	h := New(cfg, nil, 1)
	mock := &mockExecutor{}

	require.NoError(t, h.Type(context.Background(), mock, "hello world"))

	assert.Equal(t, []string{"hello world"}, mock.sentKeys)
	assert.Empty(t, mock.sleepDurations)
}

func TestType_BurstAddsHesitation(t *testing.T) {
	cfg := testHumanoidConfig()
	h := New(cfg, nil, 7)
	mock := &mockExecutor{}

	require.NoError(t, h.Type(context.Background(), mock, "abcdefgh"))

	// Two sleeps per key (flight + hold) plus one hesitation per burst of four.
	assert.Len(t, mock.sleepDurations, 8*2+2)
}

func TestType_PropagatesSendError(t *testing.T) {
	h := New(testHumanoidConfig(), nil, 3)
	mock := &mockExecutor{failOnKey: "c"}

	err := h.Type(context.Background(), mock, "abcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element detached")
	assert.Equal(t, "ab", strings.Join(mock.sentKeys, ""))
}

func TestType_StopsOnCancelledContext(t *testing.T) {
	h := New(testHumanoidConfig(), nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Type(ctx, &mockExecutor{}, "abc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyPauseFor_NgramsAreFaster(t *testing.T) {
	h := New(testHumanoidConfig(), nil, 1)

	plain := h.KeyPauseFor([]rune("xq"), 1)
	digram := h.KeyPauseFor([]rune("th"), 1)
	trigram := h.KeyPauseFor([]rune("the"), 2)

	assert.Equal(t, 70*time.Millisecond, plain)
	assert.InDelta(t, 49, digram.Milliseconds(), 1)
	assert.Less(t, trigram, digram)
}

func TestFatigueIsCapped(t *testing.T) {
	h := New(testHumanoidConfig(), nil, 1)
	h.updateFatigue(1000)
	assert.InDelta(t, 0.4, h.Fatigue(), 1e-9)

	h.recoverFatigue(100 * time.Second)
	assert.Zero(t, h.Fatigue())
}

func TestFieldPause_StaysWithinBounds(t *testing.T) {
	h := New(testHumanoidConfig(), nil, 99)
	mock := &mockExecutor{}
	for i := 0; i < 50; i++ {
		require.NoError(t, h.FieldPause(context.Background(), mock, 40*time.Millisecond, 220*time.Millisecond))
	}
	for _, d := range mock.sleepDurations {
		assert.GreaterOrEqual(t, d, 40*time.Millisecond)
		assert.Less(t, d, 220*time.Millisecond)
	}
}
