// Package hipaa evaluates HIPAA Security Rule compliance from
// configuration flags.
package hipaa

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-systems/vigil/pkg/compliance"
	"github.com/vigil-systems/vigil/pkg/config"
)

const (
	CategoryTechnicalSafeguards = "TECHNICAL_SAFEGUARDS"
	CategoryAccessControl       = "ACCESS_CONTROL"
	CategoryAuditControls       = "AUDIT_CONTROLS"
	CategoryIntegrity           = "INTEGRITY"
)

type check struct {
	flag        string
	category    string
	severity    compliance.Severity
	title       string
	description string
	remediation []string
	systems     []string
}

var checks = []check{
	{"encryption", CategoryTechnicalSafeguards, compliance.SeverityCritical,
		"ePHI encryption disabled",
		"164.312(a)(2)(iv) requires encryption of electronic protected health information.",
		[]string{"Enable encryption for all ePHI stores", "Rotate and escrow encryption keys"},
		[]string{"ehr-datastore"}},
	{"accessControls", CategoryAccessControl, compliance.SeverityCritical,
		"Access controls disabled",
		"164.312(a)(1) requires unique user identification and access authorization.",
		[]string{"Enable role-based access controls", "Remove shared service accounts"},
		[]string{"identity-provider", "ehr-datastore"}},
	{"auditLogging", CategoryAuditControls, compliance.SeverityHigh,
		"Audit controls disabled",
		"164.312(b) requires mechanisms that record activity in systems containing ePHI.",
		[]string{"Enable ePHI access logging", "Route logs into the audit trail"},
		[]string{"audit-pipeline"}},
	{"integrityMonitoring", CategoryIntegrity, compliance.SeverityMedium,
		"Integrity monitoring disabled",
		"164.312(c)(1) requires protection of ePHI from improper alteration or destruction.",
		[]string{"Enable integrity monitoring on ePHI records"},
		[]string{"ehr-datastore"}},
}

// Evaluator implements compliance.StandardEvaluator for HIPAA.
type Evaluator struct {
	mu         sync.RWMutex
	configured bool
	enabled    bool
	flags      map[string]bool
	clock      func() time.Time
}

func NewEvaluator() *Evaluator {
	return &Evaluator{clock: time.Now}
}

func (e *Evaluator) Standard() compliance.StandardID { return compliance.StandardHIPAA }

func (e *Evaluator) Configure(settings config.StandardSettings) error {
	if settings.Enabled {
		var missing []string
		for _, c := range checks {
			if _, ok := settings.Flags[c.flag]; !ok {
				missing = append(missing, c.flag)
			}
		}
		if len(missing) > 0 {
			return &compliance.ConfigurationError{
				Standard: compliance.StandardHIPAA,
				Reason:   fmt.Sprintf("missing required flags: %s", strings.Join(missing, ", ")),
			}
		}
	}

	flags := make(map[string]bool, len(settings.Flags))
	for k, v := range settings.Flags {
		flags[k] = v
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.configured = true
	e.enabled = settings.Enabled
	e.flags = flags
	return nil
}

func (e *Evaluator) Status() compliance.ComplianceStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := compliance.ComplianceStatus{Standard: compliance.StandardHIPAA}
	if !e.configured {
		status.RiskLevel = compliance.RiskMedium
		return status
	}
	if !e.enabled {
		status.Compliant = true
		status.RiskLevel = compliance.RiskLow
		return status
	}

	status.Enabled = true
	status.Compliant = true
	status.RiskLevel = compliance.RiskLow
	for _, c := range checks {
		if !e.flags[c.flag] {
			status.Compliant = false
			if risk := compliance.RiskForSeverity(c.severity); compliance.RiskRank(risk) > compliance.RiskRank(status.RiskLevel) {
				status.RiskLevel = risk
			}
		}
	}
	return status
}

func (e *Evaluator) CheckViolations(ctx context.Context) ([]compliance.Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	configured, enabled := e.configured, e.enabled
	flags := e.flags
	now := e.clock().UTC()
	e.mu.RUnlock()

	if !configured {
		return nil, compliance.ErrNotConfigured
	}
	if !enabled {
		return nil, nil
	}

	var violations []compliance.Violation
	for _, c := range checks {
		if flags[c.flag] {
			continue
		}
		violations = append(violations, compliance.Violation{
			ID:               uuid.NewString(),
			Standard:         compliance.StandardHIPAA,
			Category:         c.category,
			Severity:         c.severity,
			Title:            c.title,
			Description:      c.description,
			RemediationSteps: c.remediation,
			AffectedSystems:  c.systems,
			DetectedAt:       now,
		})
	}
	return violations, nil
}
