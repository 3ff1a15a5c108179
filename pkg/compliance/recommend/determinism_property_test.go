//go:build property
// +build property

package recommend

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vigil-systems/vigil/pkg/compliance"
)

// TestRecommendationDeterminism verifies that identical violations always
// map to identical priority, effort and deadline, regardless of how many
// times or in what batch they are processed.
func TestRecommendationDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	severities := []compliance.Severity{
		compliance.SeverityCritical,
		compliance.SeverityHigh,
		compliance.SeverityMedium,
		compliance.SeverityLow,
	}

	engine := NewEngine()
	detected := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("same severity yields same plan", prop.ForAll(
		func(idx int, unixOffset int64) bool {
			v := compliance.Violation{
				ID:         "v",
				Severity:   severities[idx],
				DetectedAt: detected.Add(time.Duration(unixOffset) * time.Second),
			}
			a := engine.Recommend([]compliance.Violation{v})[0]
			b := engine.Recommend([]compliance.Violation{v})[0]
			return a.Priority == b.Priority &&
				a.Effort == b.Effort &&
				a.Deadline.Equal(b.Deadline) &&
				a.Deadline.After(v.DetectedAt)
		},
		gen.IntRange(0, len(severities)-1),
		gen.Int64Range(0, 86400*365),
	))

	properties.TestingRun(t)
}
