package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"volume-recon-go/infrastructure/logger"
	"volume-recon-go/record"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string          `yaml:"env"`
	Logger     logger.Config   `yaml:"logger"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Rule       RuleConfig      `yaml:"rule"`
	Reference  ReferenceConfig `yaml:"reference"`
	Database   DatabaseConfig  `yaml:"database"`
	Alert      AlertConfig     `yaml:"alert"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	Schedule   ScheduleConfig  `yaml:"schedule"`
	Ingestion  IngestionConfig `yaml:"ingestion"`
}

// ThresholdConfig groups the tunable quality/reconciliation thresholds.
// All rates are fractions, not percentages. Boundary semantics are strictly
// greater-than: a value exactly at a threshold does not trip it.
type ThresholdConfig struct {
	DuplicationRate float64 `yaml:"duplicationRate"` // quarantine above this duplicate fraction
	RateDeviation   float64 `yaml:"rateDeviation"`   // flag rates deviating more than this from prior close
	VarianceWarn    float64 `yaml:"varianceWarn"`    // reconciliation warn above this
	VarianceBreach  float64 `yaml:"varianceBreach"`  // reconciliation breach above this
}

// RuleConfig selects the aggregation rule variant for new runs. The chosen
// version is stamped onto every produced aggregate.
type RuleConfig struct {
	Version record.RuleVersion `yaml:"version"`
}

// ReferenceConfig configures the external source-of-truth client.
type ReferenceConfig struct {
	BaseURL        string  `yaml:"baseURL"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	RequestRate    float64 `yaml:"requestRate"` // requests per second
	RequestBurst   int     `yaml:"requestBurst"`
	ChunkHours     int     `yaml:"chunkHours"` // max window span per request
}

// Timeout returns the reference fetch deadline.
func (c ReferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChunkSpan returns the per-request window span.
func (c ReferenceConfig) ChunkSpan() time.Duration {
	return time.Duration(c.ChunkHours) * time.Hour
}

// DatabaseConfig configures the canonical aggregate store. Empty DSN selects
// the in-memory store (dev / tests).
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MinConns int    `yaml:"minConns"`
	MaxConns int    `yaml:"maxConns"`
}

// AlertConfig configures outbound alerting.
type AlertConfig struct {
	WebhookURL      string `yaml:"webhookURL"`
	ThrottleSeconds int    `yaml:"throttleSeconds"`
}

// ThrottleInterval returns the minimum gap between repeated alerts.
func (c AlertConfig) ThrottleInterval() time.Duration {
	return time.Duration(c.ThrottleSeconds) * time.Second
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ScheduleConfig configures the daily reconciliation run. RunAtUTC is an
// "HH:MM" wall time; the run covers the previous UTC day.
type ScheduleConfig struct {
	RunAtUTC string `yaml:"runAtUTC"`
}

// IngestionConfig configures the streaming micro-batch source. Empty URL
// means batch-only operation.
type IngestionConfig struct {
	StreamURL string `yaml:"streamURL"`
}

// Defaults returns the documented default configuration.
func Defaults() AppConfig {
	return AppConfig{
		Env:    "dev",
		Logger: logger.DefaultConfig(),
		Thresholds: ThresholdConfig{
			DuplicationRate: 0.005,
			RateDeviation:   0.10,
			VarianceWarn:    0.01,
			VarianceBreach:  0.05,
		},
		Rule: RuleConfig{Version: record.RuleExecutionPriceV1},
		Reference: ReferenceConfig{
			TimeoutSeconds: 30,
			RequestRate:    2,
			RequestBurst:   4,
			ChunkHours:     6,
		},
		Database: DatabaseConfig{MinConns: 1, MaxConns: 4},
		Alert:    AlertConfig{ThrottleSeconds: 300},
		Metrics:  MetricsConfig{Addr: ":9210"},
		Schedule: ScheduleConfig{RunAtUTC: "00:15"},
	}
}

// Load reads YAML config from path over the defaults and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("VR_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("VR_REFERENCE_BASE_URL"); v != "" {
		cfg.Reference.BaseURL = v
	}
	if v := os.Getenv("VR_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alert.WebhookURL = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and thresholds are sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if err := ValidateThresholds(cfg.Thresholds); err != nil {
		return err
	}
	if !cfg.Rule.Version.Valid() {
		return fmt.Errorf("rule.version %q is not a known rule variant", cfg.Rule.Version)
	}
	if cfg.Reference.TimeoutSeconds <= 0 {
		return errors.New("reference.timeoutSeconds must be > 0")
	}
	if cfg.Reference.ChunkHours <= 0 {
		return errors.New("reference.chunkHours must be > 0")
	}
	if cfg.Database.MinConns < 0 || cfg.Database.MaxConns < cfg.Database.MinConns {
		return errors.New("database conns bounds are inconsistent")
	}
	if _, err := ParseRunAt(cfg.Schedule.RunAtUTC); err != nil {
		return err
	}
	return nil
}

// ParseRunAt parses an "HH:MM" UTC wall time into the offset from midnight.
func ParseRunAt(s string) (time.Duration, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("schedule.runAtUTC %q must be HH:MM", s)
	}
	hh, err := strconv.Atoi(s[:2])
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("schedule.runAtUTC %q has invalid hour", s)
	}
	mm, err := strconv.Atoi(s[3:])
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("schedule.runAtUTC %q has invalid minute", s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
