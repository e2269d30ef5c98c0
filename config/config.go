package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the experiment engine CLI.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Simulate SimulateConfig `yaml:"simulate"`
}

// EngineConfig controls evaluation defaults.
type EngineConfig struct {
	MinTestDurationDays int     `yaml:"min_test_duration_days"` // readiness gate
	DefaultAlpha        float64 `yaml:"default_alpha"`
	DefaultPower        float64 `yaml:"default_power"`
	DefaultMinEffect    float64 `yaml:"default_min_effect"`
}

// StorageConfig controls where experiments are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// SimulateConfig controls the demo traffic generator.
type SimulateConfig struct {
	EventsPerSecond float64 `yaml:"events_per_second"`
	Impressions     int     `yaml:"impressions"` // total impressions to generate
	Workers         int     `yaml:"workers"`
	ControlCTR      float64 `yaml:"control_ctr"`   // true click-through rate of control
	TreatmentCTR    float64 `yaml:"treatment_ctr"` // true click-through rate of treatment
	ConversionRate  float64 `yaml:"conversion_rate"`
}

// Load reads the YAML config plus a .env file if present. Env vars override
// YAML for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Default returns a config without reading any file, env overrides applied.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

// MinTestDuration returns the readiness-gate duration.
func (c *Config) MinTestDuration() time.Duration {
	return time.Duration(c.Engine.MinTestDurationDays) * 24 * time.Hour
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ABLAB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Engine.MinTestDurationDays <= 0 {
		cfg.Engine.MinTestDurationDays = 7
	}
	if cfg.Engine.DefaultAlpha <= 0 {
		cfg.Engine.DefaultAlpha = 0.05
	}
	if cfg.Engine.DefaultPower <= 0 {
		cfg.Engine.DefaultPower = 0.80
	}
	if cfg.Engine.DefaultMinEffect <= 0 {
		cfg.Engine.DefaultMinEffect = 0.10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "ablab.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Simulate.EventsPerSecond <= 0 {
		cfg.Simulate.EventsPerSecond = 2000
	}
	if cfg.Simulate.Impressions <= 0 {
		cfg.Simulate.Impressions = 20000
	}
	if cfg.Simulate.Workers <= 0 {
		cfg.Simulate.Workers = 8
	}
	if cfg.Simulate.ControlCTR <= 0 {
		cfg.Simulate.ControlCTR = 0.05
	}
	if cfg.Simulate.TreatmentCTR <= 0 {
		cfg.Simulate.TreatmentCTR = 0.075
	}
	if cfg.Simulate.ConversionRate <= 0 {
		cfg.Simulate.ConversionRate = 0.10
	}
}
