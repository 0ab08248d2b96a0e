package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestApply(t *testing.T) {
	t.Run("full persona", func(t *testing.T) {
		core, observedLogs := observer.New(zap.DebugLevel)
		tasks := Apply(DefaultPersona, false, zap.New(core))

		// user agent, evasions, timezone, locale, headers
		assert.Len(t, tasks, 5)
		logs := observedLogs.All()
		require.Len(t, logs, 1)
		assert.Equal(t, "Applying browser stealth persona", logs[0].Message)
		assert.Equal(t, false, logs[0].ContextMap()["geoip"])
	})

	t.Run("geoip leaves timezone and locale to the browser", func(t *testing.T) {
		tasks := Apply(DefaultPersona, true, zap.NewNop())
		assert.Len(t, tasks, 3)
	})
}

func TestEvasionsScriptEmbedded(t *testing.T) {
	assert.Contains(t, evasionsScript, "webdriver")
}

func TestAcceptLanguage(t *testing.T) {
	p := Persona{Languages: []string{"en-US", "en", "fr"}}
	assert.Equal(t, "en-US,en;q=0.9,fr;q=0.8", p.AcceptLanguage())
	assert.Equal(t, "", Persona{}.AcceptLanguage())
}
