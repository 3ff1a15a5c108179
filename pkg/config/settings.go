// Package config loads and validates compliance settings from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls how much detail audit events carry.
type LogLevel string

const (
	LogBasic         LogLevel = "basic"
	LogDetailed      LogLevel = "detailed"
	LogComprehensive LogLevel = "comprehensive"
)

// Settings is the full configuration surface: per-standard settings plus
// audit-wide and scheduling options.
type Settings struct {
	Standards map[string]StandardSettings `yaml:"standards" json:"standards"`
	Audit     AuditSettings               `yaml:"audit" json:"audit"`
	Schedule  ScheduleSettings            `yaml:"schedule" json:"schedule"`
	Telemetry TelemetrySettings           `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	Gate      GateSettings                `yaml:"gate,omitempty" json:"gate,omitempty"`
}

// StandardSettings configures one regulatory standard's evaluator.
type StandardSettings struct {
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Flags   map[string]bool `yaml:"flags,omitempty" json:"flags,omitempty"`
	Rules   []CustomRule    `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Flag returns the named boolean sub-setting and whether it was configured.
func (s StandardSettings) Flag(name string) (bool, bool) {
	v, ok := s.Flags[name]
	return v, ok
}

// CustomRule is an operator-supplied CEL predicate over the configuration
// snapshot. A rule that evaluates to false yields a violation.
type CustomRule struct {
	Name        string   `yaml:"name" json:"name"`
	Expr        string   `yaml:"expr" json:"expr"`
	Category    string   `yaml:"category" json:"category"`
	Severity    string   `yaml:"severity" json:"severity"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Remediation []string `yaml:"remediation,omitempty" json:"remediation,omitempty"`
}

// AuditSettings configures the audit trail.
type AuditSettings struct {
	RetentionDays int      `yaml:"retention_days" json:"retention_days"`
	LogLevel      LogLevel `yaml:"log_level" json:"log_level"`
	ArchivePath   string   `yaml:"archive_path,omitempty" json:"archive_path,omitempty"`
}

// RetentionPeriod returns the retention window as a duration.
func (a AuditSettings) RetentionPeriod() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// ScheduleSettings configures the periodic audit cycle.
type ScheduleSettings struct {
	IntervalMinutes     int `yaml:"interval_minutes" json:"interval_minutes"`
	EvaluatorTimeoutSec int `yaml:"evaluator_timeout_seconds" json:"evaluator_timeout_seconds"`
	MinCycleSeconds     int `yaml:"min_cycle_seconds" json:"min_cycle_seconds"`
}

// Interval returns the audit interval as a duration.
func (s ScheduleSettings) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// EvaluatorTimeout returns the per-evaluator call bound.
func (s ScheduleSettings) EvaluatorTimeout() time.Duration {
	return time.Duration(s.EvaluatorTimeoutSec) * time.Second
}

// MinCycleInterval returns the minimum spacing between audit cycle starts.
func (s ScheduleSettings) MinCycleInterval() time.Duration {
	return time.Duration(s.MinCycleSeconds) * time.Second
}

// TelemetrySettings configures the OpenTelemetry provider.
type TelemetrySettings struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	Insecure     bool    `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
}

// GateSettings configures the optional distributed audit-cycle gate.
type GateSettings struct {
	RedisAddr     string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty" json:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty" json:"redis_db,omitempty"`
	LeaseSeconds  int    `yaml:"lease_seconds,omitempty" json:"lease_seconds,omitempty"`
}

// Default returns production-ready defaults: hourly audits, 90-day
// retention, detailed logging.
func Default() *Settings {
	return &Settings{
		Standards: make(map[string]StandardSettings),
		Audit: AuditSettings{
			RetentionDays: 90,
			LogLevel:      LogDetailed,
		},
		Schedule: ScheduleSettings{
			IntervalMinutes:     60,
			EvaluatorTimeoutSec: 30,
			MinCycleSeconds:     1,
		},
	}
}

// Load reads the settings file, applies environment overrides and
// validates the result.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML settings, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Settings, error) {
	settings := Default()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("config: parse settings: %w", err)
	}
	applyEnvOverrides(settings)
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		s.Audit.LogLevel = LogLevel(v)
	}
	if v := os.Getenv("VIGIL_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			s.Audit.RetentionDays = days
		}
	}
	if v := os.Getenv("VIGIL_AUDIT_INTERVAL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			s.Schedule.IntervalMinutes = minutes
		}
	}
	if v := os.Getenv("VIGIL_REDIS_ADDR"); v != "" {
		s.Gate.RedisAddr = v
	}
}
