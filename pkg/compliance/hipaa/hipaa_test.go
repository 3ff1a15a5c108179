package hipaa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/compliance"
	"github.com/vigil-systems/vigil/pkg/config"
)

func allControls(on bool) map[string]bool {
	return map[string]bool{
		"encryption":          on,
		"accessControls":      on,
		"auditLogging":        on,
		"integrityMonitoring": on,
	}
}

func TestEvaluator_Compliant(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.Configure(config.StandardSettings{Enabled: true, Flags: allControls(true)}))

	violations, err := e.CheckViolations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.True(t, e.Status().Compliant)
}

func TestEvaluator_AllControlsOff(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.Configure(config.StandardSettings{Enabled: true, Flags: allControls(false)}))

	violations, err := e.CheckViolations(context.Background())
	require.NoError(t, err)
	require.Len(t, violations, 4)

	criticals := 0
	for _, v := range violations {
		assert.Equal(t, compliance.StandardHIPAA, v.Standard)
		if v.Severity == compliance.SeverityCritical {
			criticals++
		}
	}
	assert.Equal(t, 2, criticals) // encryption and access controls

	status := e.Status()
	assert.False(t, status.Compliant)
	assert.Equal(t, compliance.RiskCritical, status.RiskLevel)
}

func TestEvaluator_ConfigureMissingFlag(t *testing.T) {
	err := NewEvaluator().Configure(config.StandardSettings{
		Enabled: true,
		Flags:   map[string]bool{"encryption": true},
	})
	var confErr *compliance.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, compliance.StandardHIPAA, confErr.Standard)
}

func TestEvaluator_Disabled(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.Configure(config.StandardSettings{Enabled: false}))

	violations, err := e.CheckViolations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.True(t, e.Status().Compliant)
}
