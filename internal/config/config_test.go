// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "autoapply", cfg.Logger().ServiceName)
	assert.Equal(t, 4, cfg.Engine().WorkerConcurrency)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 2, cfg.Browser().LaunchRetries)
	assert.Equal(t, 1500*time.Millisecond, cfg.Browser().PostLoadWait)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator().AttemptTimeout)
	assert.Equal(t, 20*time.Second, cfg.Orchestrator().StepTimeout)
	assert.Equal(t, 20*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, 5, cfg.Captcha().MaxPolls)
	assert.Equal(t, 3*time.Second, cfg.Captcha().PollInterval)
	assert.LessOrEqual(t, cfg.Captcha().PollInterval*time.Duration(cfg.Captcha().MaxPolls), cfg.Orchestrator().StepTimeout,
		"the captcha wait fits in one step")
	assert.Equal(t, 6, cfg.Recipe().Window)
	assert.InDelta(t, 1.0/3.0, cfg.Recipe().StaleThreshold, 1e-9)
	assert.Equal(t, 40*time.Millisecond, cfg.Filler().MinPause)
	assert.Equal(t, 70.0, cfg.Browser().Humanoid.KeyPauseMean)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM().DefaultPowerfulModel)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate(), "defaults should validate")

		invalidEngine := *cfg
		invalidEngine.EngineCfg.WorkerConcurrency = 0
		err := invalidEngine.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")

		invalidBrowser := *cfg
		invalidBrowser.BrowserCfg.MaxSessions = -1
		err = invalidBrowser.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.max_sessions must be a positive integer")

		invalidBudget := *cfg
		invalidBudget.OrchestratorCfg.StepTimeout = 2 * time.Minute
		err = invalidBudget.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not exceed orchestrator.attempt_timeout")

		longCaptcha := *cfg
		longCaptcha.CaptchaCfg.MaxPolls = 12
		longCaptcha.CaptchaCfg.PollInterval = 5 * time.Second
		err = longCaptcha.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must fit within orchestrator.step_timeout")

		longCaptcha.CaptchaCfg.Enabled = false
		assert.NoError(t, longCaptcha.Validate(), "the captcha budget only matters when solving is on")

		invalidPause := *cfg
		invalidPause.FillerCfg.MinPause = time.Second
		assert.Error(t, invalidPause.Validate())
	})

	t.Run("Proxy Validation", func(t *testing.T) {
		geoipOnly := ProxyConfig{GeoIP: true}
		err := geoipOnly.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "geoip requires a proxy server")

		noScheme := ProxyConfig{Server: "10.0.0.1:8080"}
		assert.Error(t, noScheme.Validate())

		passwordOnly := ProxyConfig{Server: "http://10.0.0.1:8080", Password: "secret"}
		assert.Error(t, passwordOnly.Validate())

		valid := ProxyConfig{Server: "http://10.0.0.1:8080", Username: "u", Password: "p", GeoIP: true}
		assert.NoError(t, valid.Validate())
	})

	t.Run("Recipe Validation", func(t *testing.T) {
		valid := RecipeConfig{Window: 6, StaleThreshold: 0.34, MinSamples: 3}
		assert.NoError(t, valid.Validate())

		zeroWindow := valid
		zeroWindow.Window = 0
		assert.Error(t, zeroWindow.Validate())

		threshold := valid
		threshold.StaleThreshold = 1.0
		assert.Error(t, threshold.Validate())

		samples := valid
		samples.MinSamples = 7
		assert.Error(t, samples.Validate())
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlCfg := []byte(`
engine:
  worker_concurrency: 8
browser:
  ws_endpoint: "ws://camoufox:1234/browser"
  proxy:
    server: "http://proxy.local:3128"
    username: "user"
    geoip: true
recipe:
  stale_threshold: 0.5
llm:
  models:
    fast:
      provider: gemini
      model: gemini-2.5-flash
      api_key: inline-key
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlCfg)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Engine().WorkerConcurrency)
		assert.Equal(t, "ws://camoufox:1234/browser", cfg.Browser().WSEndpoint)
		assert.True(t, cfg.Browser().Proxy.GeoIP)
		assert.Equal(t, 0.5, cfg.Recipe().StaleThreshold)
		assert.Equal(t, "inline-key", cfg.LLM().Models["fast"].APIKey)
	})

	t.Run("secrets from environment", func(t *testing.T) {
		t.Setenv("AUTOAPPLY_CAPTCHA_API_KEY", "solver-key")
		t.Setenv("AUTOAPPLY_ANTHROPIC_API_KEY", "anthropic-key")

		v := viper.New()
		SetDefaults(v)
		v.Set("llm.models", map[string]interface{}{
			"powerful": map[string]interface{}{"provider": "anthropic", "model": "claude-sonnet-4-5"},
		})

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "solver-key", cfg.Captcha().APIKey)
		assert.Equal(t, "anthropic-key", cfg.LLM().Models["powerful"].APIKey)
	})

	t.Run("invalid proxy is rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.proxy.geoip", true)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.proxy configuration invalid")
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetEngineWorkerConcurrency(12)
	cfg.SetBrowserHeadless(false)
	cfg.SetBrowserWSEndpoint("ws://localhost:9222")

	assert.Equal(t, 12, cfg.Engine().WorkerConcurrency)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "ws://localhost:9222", cfg.Browser().WSEndpoint)
}
