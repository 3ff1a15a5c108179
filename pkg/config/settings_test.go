package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSettings = `
standards:
  gdpr:
    enabled: true
    flags:
      encryption: true
      consentTracking: true
      auditLogging: true
      dataRetention: true
  hipaa:
    enabled: false
audit:
  retention_days: 180
  log_level: comprehensive
  archive_path: /var/lib/vigil/archive.db
schedule:
  interval_minutes: 30
  evaluator_timeout_seconds: 15
  min_cycle_seconds: 5
`

func TestLoad_ParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSettings), 0o600))

	settings, err := Load(path)
	require.NoError(t, err)

	gdpr, ok := settings.Standards["gdpr"]
	require.True(t, ok)
	assert.True(t, gdpr.Enabled)
	enc, ok := gdpr.Flag("encryption")
	require.True(t, ok)
	assert.True(t, enc)

	hipaa := settings.Standards["hipaa"]
	assert.False(t, hipaa.Enabled)

	assert.Equal(t, 180*24*time.Hour, settings.Audit.RetentionPeriod())
	assert.Equal(t, LogComprehensive, settings.Audit.LogLevel)
	assert.Equal(t, "/var/lib/vigil/archive.db", settings.Audit.ArchivePath)

	assert.Equal(t, 30*time.Minute, settings.Schedule.Interval())
	assert.Equal(t, 15*time.Second, settings.Schedule.EvaluatorTimeout())
	assert.Equal(t, 5*time.Second, settings.Schedule.MinCycleInterval())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParse_RejectsBadLogLevel(t *testing.T) {
	_, err := Parse([]byte(`
standards: {}
audit:
  retention_days: 30
  log_level: verbose
schedule:
  interval_minutes: 60
  evaluator_timeout_seconds: 30
`))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestParse_RejectsZeroRetention(t *testing.T) {
	_, err := Parse([]byte(`
standards: {}
audit:
  retention_days: 0
  log_level: basic
schedule:
  interval_minutes: 60
  evaluator_timeout_seconds: 30
`))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestParse_RejectsRuleMissingExpr(t *testing.T) {
	_, err := Parse([]byte(`
standards:
  custom:
    enabled: true
    rules:
      - name: must-encrypt
        category: DATA_PROTECTION
        severity: high
        title: Encryption required
audit:
  retention_days: 30
  log_level: basic
schedule:
  interval_minutes: 60
  evaluator_timeout_seconds: 30
`))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_LOG_LEVEL", "basic")
	t.Setenv("VIGIL_RETENTION_DAYS", "7")

	settings, err := Parse([]byte(sampleSettings))
	require.NoError(t, err)
	assert.Equal(t, LogBasic, settings.Audit.LogLevel)
	assert.Equal(t, 7, settings.Audit.RetentionDays)
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
