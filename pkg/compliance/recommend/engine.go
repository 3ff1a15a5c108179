// Package recommend turns detected violations into prioritized
// remediation plans.
package recommend

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-systems/vigil/pkg/compliance"
)

// plan fixes the priority, effort and deadline offset for one severity.
type plan struct {
	priority compliance.Priority
	effort   compliance.Effort
	deadline time.Duration
}

// severityPlans maps each violation severity to its remediation plan.
// The mapping is fixed: identical severities always produce identical
// priority, effort and deadline offsets.
var severityPlans = map[compliance.Severity]plan{
	compliance.SeverityCritical: {compliance.PriorityUrgent, compliance.EffortHigh, 7 * 24 * time.Hour},
	compliance.SeverityHigh:     {compliance.PriorityHigh, compliance.EffortMedium, 30 * 24 * time.Hour},
	compliance.SeverityMedium:   {compliance.PriorityMedium, compliance.EffortLow, 90 * 24 * time.Hour},
	compliance.SeverityLow:      {compliance.PriorityLow, compliance.EffortLow, 180 * 24 * time.Hour},
}

// Engine derives recommendations from violations.
type Engine struct{}

// NewEngine returns a recommendation engine.
func NewEngine() *Engine { return &Engine{} }

// Recommend produces one recommendation per violation, preserving input
// order. Unknown severities fall back to the low-severity plan.
func (e *Engine) Recommend(violations []compliance.Violation) []compliance.Recommendation {
	if len(violations) == 0 {
		return nil
	}
	recs := make([]compliance.Recommendation, 0, len(violations))
	for _, v := range violations {
		p, ok := severityPlans[v.Severity]
		if !ok {
			p = severityPlans[compliance.SeverityLow]
		}
		recs = append(recs, compliance.Recommendation{
			ID:          uuid.NewString(),
			ViolationID: v.ID,
			Priority:    p.priority,
			Effort:      p.effort,
			Deadline:    v.DetectedAt.Add(p.deadline),
			Title:       fmt.Sprintf("Remediate: %s", v.Title),
			Description: v.Description,
			Steps:       stepsFor(v),
		})
	}
	return recs
}

func stepsFor(v compliance.Violation) []string {
	steps := []string{
		fmt.Sprintf("Review the %s finding in category %s", v.Standard, v.Category),
	}
	steps = append(steps, v.RemediationSteps...)
	steps = append(steps, "Verify the fix with a fresh audit cycle")
	return steps
}
