// File: internal/config/config.go

// Package config loads and validates the engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Orchestrator() OrchestratorConfig
	Browser() BrowserConfig
	LLM() LLMRouterConfig
	Captcha() CaptchaConfig
	Recipe() RecipeConfig
	Filler() FillerConfig
	Extractor() ExtractorConfig
	Profile() ProfileConfig
	Jobs() JobsConfig

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserWSEndpoint(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	EngineCfg       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	OrchestratorCfg OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	BrowserCfg      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	LLMCfg          LLMRouterConfig    `mapstructure:"llm" yaml:"llm"`
	CaptchaCfg      CaptchaConfig      `mapstructure:"captcha" yaml:"captcha"`
	RecipeCfg       RecipeConfig       `mapstructure:"recipe" yaml:"recipe"`
	FillerCfg       FillerConfig       `mapstructure:"filler" yaml:"filler"`
	ExtractorCfg    ExtractorConfig    `mapstructure:"extractor" yaml:"extractor"`
	ProfileCfg      ProfileConfig      `mapstructure:"profile" yaml:"profile"`
	JobsCfg         JobsConfig         `mapstructure:"jobs" yaml:"jobs"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig         { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig             { return c.EngineCfg }
func (c *Config) Orchestrator() OrchestratorConfig { return c.OrchestratorCfg }
func (c *Config) Browser() BrowserConfig           { return c.BrowserCfg }
func (c *Config) LLM() LLMRouterConfig             { return c.LLMCfg }
func (c *Config) Captcha() CaptchaConfig           { return c.CaptchaCfg }
func (c *Config) Recipe() RecipeConfig             { return c.RecipeCfg }
func (c *Config) Filler() FillerConfig             { return c.FillerCfg }
func (c *Config) Extractor() ExtractorConfig       { return c.ExtractorCfg }
func (c *Config) Profile() ProfileConfig           { return c.ProfileCfg }
func (c *Config) Jobs() JobsConfig                 { return c.JobsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserWSEndpoint(ep string)   { c.BrowserCfg.WSEndpoint = ep }

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the attempt worker pool.
type EngineConfig struct {
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
}

// OrchestratorConfig holds the per-attempt budgets and retry policy.
type OrchestratorConfig struct {
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	StepTimeout    time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	SubmitSettle   time.Duration `mapstructure:"submit_settle" yaml:"submit_settle"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
}

// ProxyConfig defines the upstream proxy the browser routes through.
type ProxyConfig struct {
	Server   string `mapstructure:"server" yaml:"server"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// GeoIP aligns browser locale and timezone with the proxy exit. Only valid with a proxy.
	GeoIP bool `mapstructure:"geoip" yaml:"geoip"`
}

// BrowserConfig holds settings for the browser session provider.
type BrowserConfig struct {
	WSEndpoint        string         `mapstructure:"ws_endpoint" yaml:"ws_endpoint"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	MaxSessions       int            `mapstructure:"max_sessions" yaml:"max_sessions"`
	AcquireTimeout    time.Duration  `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	LaunchRetries     int            `mapstructure:"launch_retries" yaml:"launch_retries"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Proxy             ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// CaptchaConfig configures the external solving service and acceptance policy.
type CaptchaConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPolls      int           `mapstructure:"max_polls" yaml:"max_polls"`
	MinConfidence float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	CostPerSolve  float64       `mapstructure:"cost_per_solve" yaml:"cost_per_solve"`
	RateLimit     float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// RecipeConfig tunes staleness detection for the recipe cache.
type RecipeConfig struct {
	Window             int     `mapstructure:"window" yaml:"window"`
	StaleThreshold     float64 `mapstructure:"stale_threshold" yaml:"stale_threshold"`
	MinSamples         int     `mapstructure:"min_samples" yaml:"min_samples"`
	CostSavedPerReplay float64 `mapstructure:"cost_saved_per_replay" yaml:"cost_saved_per_replay"`
}

// FillerConfig bounds the randomized pause between fields.
type FillerConfig struct {
	MinPause time.Duration `mapstructure:"min_pause" yaml:"min_pause"`
	MaxPause time.Duration `mapstructure:"max_pause" yaml:"max_pause"`
}

// ExtractorConfig holds the complexity score thresholds.
type ExtractorConfig struct {
	SimpleMax   int `mapstructure:"simple_max" yaml:"simple_max"`
	ModerateMax int `mapstructure:"moderate_max" yaml:"moderate_max"`
}

// ProfileConfig locates the candidate profile.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// JobsConfig locates the job feed.
type JobsConfig struct {
	FeedPath string `mapstructure:"feed_path" yaml:"feed_path"`
	UserID   string `mapstructure:"user_id" yaml:"user_id"`
}

// LLMProvider identifies a model vendor.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderAnthropic LLMProvider = "anthropic"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerMinute    int                       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Prices in USD per million tokens, used to turn reported usage into cost.
	InputPricePerMTok  float64 `mapstructure:"input_price_per_mtok" yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64 `mapstructure:"output_price_per_mtok" yaml:"output_price_per_mtok"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autoapply")
	v.SetDefault("logger.log_file", "autoapply.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.worker_concurrency", 4)

	// -- Orchestrator --
	v.SetDefault("orchestrator.attempt_timeout", "45s")
	v.SetDefault("orchestrator.step_timeout", "20s")
	v.SetDefault("orchestrator.max_retries", 2)
	v.SetDefault("orchestrator.retry_base_delay", "2s")
	v.SetDefault("orchestrator.submit_settle", "3s")
	v.SetDefault("orchestrator.persist_timeout", "30s")

	// -- Browser --
	v.SetDefault("browser.ws_endpoint", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.acquire_timeout", "10s")
	v.SetDefault("browser.launch_retries", 2)
	v.SetDefault("browser.navigation_timeout", "20s")
	v.SetDefault("browser.post_load_wait", "1500ms")
	v.SetDefault("browser.proxy.geoip", false)
	setHumanoidDefaults(v)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_minute", 60)

	// -- Captcha --
	v.SetDefault("captcha.enabled", true)
	v.SetDefault("captcha.poll_interval", "3s")
	v.SetDefault("captcha.max_polls", 5)
	v.SetDefault("captcha.min_confidence", 0.5)
	v.SetDefault("captcha.cost_per_solve", 0.003)
	v.SetDefault("captcha.rate_limit", 1.0)
	v.SetDefault("captcha.http_timeout", "10s")

	// -- Recipe --
	v.SetDefault("recipe.window", 6)
	v.SetDefault("recipe.stale_threshold", 1.0/3.0)
	v.SetDefault("recipe.min_samples", 3)
	v.SetDefault("recipe.cost_saved_per_replay", 0.02)

	// -- Filler --
	v.SetDefault("filler.min_pause", "40ms")
	v.SetDefault("filler.max_pause", "220ms")

	// -- Extractor --
	v.SetDefault("extractor.simple_max", 10)
	v.SetDefault("extractor.moderate_max", 25)

	// -- Profile / Jobs --
	v.SetDefault("profile.path", "~/.autoapply/profile.yaml")
	v.SetDefault("jobs.feed_path", "jobs.yaml")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "AUTOAPPLY_DATABASE_URL")
	_ = v.BindEnv("captcha.api_key", "AUTOAPPLY_CAPTCHA_API_KEY")
	_ = v.BindEnv("browser.proxy.password", "AUTOAPPLY_PROXY_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model API keys live in a map, which viper's env binding cannot reach.
	for name, m := range cfg.LLMCfg.Models {
		if m.APIKey == "" {
			m.APIKey = APIKeyFromEnv(m.Provider)
			cfg.LLMCfg.Models[name] = m
		}
	}

	if p, err := homedir.Expand(cfg.ProfileCfg.Path); err == nil {
		cfg.ProfileCfg.Path = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// APIKeyFromEnv returns the provider API key from the environment.
func APIKeyFromEnv(p LLMProvider) string {
	switch p {
	case ProviderGemini:
		if k := os.Getenv("AUTOAPPLY_GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GEMINI_API_KEY")
	case ProviderAnthropic:
		if k := os.Getenv("AUTOAPPLY_ANTHROPIC_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.BrowserCfg.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be a positive integer")
	}
	if c.OrchestratorCfg.AttemptTimeout <= 0 || c.OrchestratorCfg.StepTimeout <= 0 {
		return fmt.Errorf("orchestrator.attempt_timeout and orchestrator.step_timeout must be positive durations")
	}
	if c.OrchestratorCfg.StepTimeout > c.OrchestratorCfg.AttemptTimeout {
		return fmt.Errorf("orchestrator.step_timeout must not exceed orchestrator.attempt_timeout")
	}
	if err := c.BrowserCfg.Proxy.Validate(); err != nil {
		return fmt.Errorf("browser.proxy configuration invalid: %w", err)
	}
	if err := c.RecipeCfg.Validate(); err != nil {
		return fmt.Errorf("recipe configuration invalid: %w", err)
	}
	if c.FillerCfg.MinPause > c.FillerCfg.MaxPause {
		return fmt.Errorf("filler.min_pause must not exceed filler.max_pause")
	}
	if c.CaptchaCfg.Enabled && c.CaptchaCfg.PollInterval*time.Duration(c.CaptchaCfg.MaxPolls) > c.OrchestratorCfg.StepTimeout {
		return fmt.Errorf("captcha.poll_interval x captcha.max_polls (%s) must fit within orchestrator.step_timeout (%s)",
			c.CaptchaCfg.PollInterval*time.Duration(c.CaptchaCfg.MaxPolls), c.OrchestratorCfg.StepTimeout)
	}
	if c.CaptchaCfg.MinConfidence < 0 || c.CaptchaCfg.MinConfidence > 1 {
		return fmt.Errorf("captcha.min_confidence must be between 0.0 and 1.0")
	}
	if c.ExtractorCfg.SimpleMax >= c.ExtractorCfg.ModerateMax {
		return fmt.Errorf("extractor.simple_max must be lower than extractor.moderate_max")
	}
	return nil
}

// Validate checks the proxy settings.
func (p *ProxyConfig) Validate() error {
	if p.GeoIP && p.Server == "" {
		return errors.New("geoip requires a proxy server")
	}
	if p.Server != "" && !strings.Contains(p.Server, "://") {
		return fmt.Errorf("proxy server %q must include a scheme", p.Server)
	}
	if p.Password != "" && p.Username == "" {
		return errors.New("proxy password set without a username")
	}
	return nil
}

// Validate checks the recipe staleness policy.
func (r *RecipeConfig) Validate() error {
	if r.Window <= 0 {
		return fmt.Errorf("window must be greater than 0")
	}
	if r.StaleThreshold <= 0 || r.StaleThreshold >= 1 {
		return fmt.Errorf("stale_threshold must be between 0.0 and 1.0 (exclusive)")
	}
	if r.MinSamples <= 0 || r.MinSamples > r.Window {
		return fmt.Errorf("min_samples must be within 1..window")
	}
	return nil
}
