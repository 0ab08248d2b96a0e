// File: internal/config/humanoid_config.go
// HumanoidConfig contains the tunable parameters for humanized keyboard input.
// These settings control inter-key timing, n-gram speedups and fatigue so that
// typed values do not arrive with uniform machine timing.
package config

import "github.com/spf13/viper"

// HumanoidConfig controls typing cadence.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Inter-key pause distribution (milliseconds).
	KeyPauseMean   float64 `mapstructure:"key_pause_mean" yaml:"key_pause_mean"`
	KeyPauseStdDev float64 `mapstructure:"key_pause_std_dev" yaml:"key_pause_std_dev"`
	KeyPauseMin    float64 `mapstructure:"key_pause_min" yaml:"key_pause_min"`

	// Multipliers applied when the preceding characters form a common n-gram.
	KeyPauseNgramFactor2 float64 `mapstructure:"key_pause_ngram_factor_2" yaml:"key_pause_ngram_factor_2"`
	KeyPauseNgramFactor3 float64 `mapstructure:"key_pause_ngram_factor_3" yaml:"key_pause_ngram_factor_3"`

	// Key hold (dwell) duration.
	KeyHoldMeanMs   float64 `mapstructure:"key_hold_mean_ms" yaml:"key_hold_mean_ms"`
	KeyHoldStdDevMs float64 `mapstructure:"key_hold_std_dev_ms" yaml:"key_hold_std_dev_ms"`

	// Fatigue grows with typed characters and slows the cadence.
	FatigueIncreaseRate float64 `mapstructure:"fatigue_increase_rate" yaml:"fatigue_increase_rate"`
	FatigueMax          float64 `mapstructure:"fatigue_max" yaml:"fatigue_max"`

	// Words longer than this are split into bursts with a short hesitation.
	BurstLength int `mapstructure:"burst_length" yaml:"burst_length"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.key_pause_mean", 70.0)
	v.SetDefault("browser.humanoid.key_pause_std_dev", 28.0)
	v.SetDefault("browser.humanoid.key_pause_min", 35.0)
	v.SetDefault("browser.humanoid.key_pause_ngram_factor_2", 0.7)
	v.SetDefault("browser.humanoid.key_pause_ngram_factor_3", 0.55)
	v.SetDefault("browser.humanoid.key_hold_mean_ms", 55.0)
	v.SetDefault("browser.humanoid.key_hold_std_dev_ms", 15.0)
	v.SetDefault("browser.humanoid.fatigue_increase_rate", 0.002)
	v.SetDefault("browser.humanoid.fatigue_max", 0.4)
	v.SetDefault("browser.humanoid.burst_length", 8)
}
