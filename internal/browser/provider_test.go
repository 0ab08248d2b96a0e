package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/browser/stealth"
	"github.com/xkilldash9x/autoapply/internal/config"
)

func newTestProvider(t *testing.T, maxSessions int) *Provider {
	return &Provider{
		cfg: config.BrowserConfig{
			MaxSessions:    maxSessions,
			AcquireTimeout: 50 * time.Millisecond,
		},
		logger:   zaptest.NewLogger(t),
		persona:  stealth.DefaultPersona,
		sem:      semaphore.NewWeighted(int64(maxSessions)),
		sessions: make(map[string]*Session),
	}
}

func TestAcquire_TimesOutWhenPoolExhausted(t *testing.T) {
	p := newTestProvider(t, 1)
	require.True(t, p.sem.TryAcquire(1))

	start := time.Now()
	_, err := p.Acquire(context.Background())
	require.Error(t, err)

	assert.Equal(t, schemas.ErrorFatal, schemas.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "acquire must respect its own budget")
}

func TestDiscard_FreesSlotOnce(t *testing.T) {
	p := newTestProvider(t, 1)
	require.True(t, p.sem.TryAcquire(1))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{id: "s-1", ctx: ctx, cancel: cancel, logger: p.logger}
	p.sessions[s.id] = s
	assert.Equal(t, 1, p.Active())

	p.Discard(s)
	p.Discard(s)

	assert.Equal(t, 0, p.Active())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, p.sem.TryAcquire(1), "slot must be released")
	assert.False(t, p.sem.TryAcquire(1), "slot must be released exactly once")
}

func TestRelease_IgnoresForeignSessions(t *testing.T) {
	p := newTestProvider(t, 1)
	p.Release(nil)
	p.Release(&Session{id: "unknown"})
	assert.True(t, p.sem.TryAcquire(1))
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in        string
		wantName  string
		wantValue interface{}
	}{
		{"--window-size=1366,768", "window-size", "1366,768"},
		{"--mute-audio", "mute-audio", true},
		{"  lang=en-US ", "lang", "en-US"},
		{"--", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, value := parseArg(tt.in)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestRemoteOptions(t *testing.T) {
	assert.Empty(t, remoteOptions("ws://127.0.0.1:9222"))
	assert.Empty(t, remoteOptions("ws://127.0.0.1:9222/"))
	assert.Len(t, remoteOptions("ws://browser:3000/a1b2c3"), 1)
}

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(config.BrowserConfig{}))
	withExtras := allocatorOptions(config.BrowserConfig{
		Proxy: config.ProxyConfig{Server: "http://proxy:8080"},
		Args:  []string{"--mute-audio", "--"},
	})
	assert.Equal(t, base+2, len(withExtras))
}
