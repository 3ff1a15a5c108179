package recommend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/compliance"
)

func violation(sev compliance.Severity, detected time.Time) compliance.Violation {
	return compliance.Violation{
		ID:         "v-" + string(sev),
		Standard:   compliance.StandardGDPR,
		Category:   "DATA_PROTECTION",
		Severity:   sev,
		Title:      "Encryption disabled",
		DetectedAt: detected,
	}
}

func TestEngine_SeverityMapping(t *testing.T) {
	detected := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	engine := NewEngine()

	cases := []struct {
		severity compliance.Severity
		priority compliance.Priority
		effort   compliance.Effort
		deadline time.Time
	}{
		{compliance.SeverityCritical, compliance.PriorityUrgent, compliance.EffortHigh, detected.Add(7 * 24 * time.Hour)},
		{compliance.SeverityHigh, compliance.PriorityHigh, compliance.EffortMedium, detected.Add(30 * 24 * time.Hour)},
		{compliance.SeverityMedium, compliance.PriorityMedium, compliance.EffortLow, detected.Add(90 * 24 * time.Hour)},
		{compliance.SeverityLow, compliance.PriorityLow, compliance.EffortLow, detected.Add(180 * 24 * time.Hour)},
	}

	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			recs := engine.Recommend([]compliance.Violation{violation(tc.severity, detected)})
			require.Len(t, recs, 1)
			assert.Equal(t, tc.priority, recs[0].Priority)
			assert.Equal(t, tc.effort, recs[0].Effort)
			assert.Equal(t, tc.deadline, recs[0].Deadline)
			assert.Equal(t, "v-"+string(tc.severity), recs[0].ViolationID)
			assert.NotEmpty(t, recs[0].ID)
		})
	}
}

func TestEngine_PreservesOrderAndCount(t *testing.T) {
	detected := time.Now().UTC()
	violations := []compliance.Violation{
		violation(compliance.SeverityLow, detected),
		violation(compliance.SeverityCritical, detected),
		violation(compliance.SeverityMedium, detected),
	}

	recs := NewEngine().Recommend(violations)
	require.Len(t, recs, 3)
	for i, v := range violations {
		assert.Equal(t, v.ID, recs[i].ViolationID)
	}
}

func TestEngine_UnknownSeverityFallsBack(t *testing.T) {
	recs := NewEngine().Recommend([]compliance.Violation{violation("UNKNOWN", time.Now())})
	require.Len(t, recs, 1)
	assert.Equal(t, compliance.PriorityLow, recs[0].Priority)
}

func TestEngine_EmptyInput(t *testing.T) {
	assert.Nil(t, NewEngine().Recommend(nil))
}
