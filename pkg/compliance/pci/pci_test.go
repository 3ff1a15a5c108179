package pci

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/compliance"
	"github.com/vigil-systems/vigil/pkg/config"
)

func enabledSettings(overrides map[string]bool) config.StandardSettings {
	base := map[string]bool{
		"encryption":            true,
		"networkSegmentation":   true,
		"accessControl":         true,
		"vulnerabilityScanning": true,
	}
	for k, v := range overrides {
		base[k] = v
	}
	return config.StandardSettings{Enabled: true, Flags: base}
}

func TestEvaluator_Compliant(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.Configure(enabledSettings(nil)))

	violations, err := e.CheckViolations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)

	status := e.Status()
	assert.True(t, status.Compliant)
	assert.Equal(t, compliance.StandardPCI, status.Standard)
}

func TestEvaluator_EncryptionOffIsCritical(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.Configure(enabledSettings(map[string]bool{"encryption": false})))

	violations, err := e.CheckViolations(context.Background())
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, compliance.SeverityCritical, violations[0].Severity)
	assert.Equal(t, CategoryCardholderData, violations[0].Category)
	assert.Equal(t, compliance.RiskCritical, e.Status().RiskLevel)
}

func TestEvaluator_MultipleFindings(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.Configure(enabledSettings(map[string]bool{
		"networkSegmentation":   false,
		"vulnerabilityScanning": false,
	})))

	violations, err := e.CheckViolations(context.Background())
	require.NoError(t, err)
	assert.Len(t, violations, 2)
	assert.Equal(t, compliance.RiskHigh, e.Status().RiskLevel)
}

func TestEvaluator_ConfigureMissingFlag(t *testing.T) {
	err := NewEvaluator().Configure(config.StandardSettings{Enabled: true})
	var confErr *compliance.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, compliance.StandardPCI, confErr.Standard)
}

func TestEvaluator_UnconfiguredCheckFails(t *testing.T) {
	_, err := NewEvaluator().CheckViolations(context.Background())
	assert.ErrorIs(t, err, compliance.ErrNotConfigured)
}
