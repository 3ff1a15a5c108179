// Package soc2 evaluates SOC 2 Trust Services Criteria compliance from
// configuration flags.
package soc2

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
	CategoryMonitoring       = "MONITORING"
	CategoryIncidentResponse = "INCIDENT_RESPONSE"
	CategoryAvailability     = "AVAILABILITY"
	CategoryChangeManagement = "CHANGE_MANAGEMENT"
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
	{"monitoring", CategoryMonitoring, compliance.SeverityHigh,
		"Continuous monitoring disabled",
		"CC7.2 requires monitoring of system components for anomalies.",
		[]string{"Enable infrastructure monitoring", "Configure anomaly alerting"},
		[]string{"monitoring-stack"}},
	{"incidentResponse", CategoryIncidentResponse, compliance.SeverityMedium,
		"Incident response procedures disabled",
		"CC7.4 requires a defined incident response program.",
		[]string{"Enable the incident response runbook", "Assign an on-call rotation"},
		[]string{"incident-tooling"}},
	{"backup", CategoryAvailability, compliance.SeverityMedium,
		"Backup procedures disabled",
		"A1.2 requires recovery infrastructure supporting availability commitments.",
		[]string{"Enable scheduled backups", "Run a restore drill"},
		[]string{"backup-service"}},
	{"changeManagement", CategoryChangeManagement, compliance.SeverityLow,
		"Change management disabled",
		"CC8.1 requires authorized, tested and approved system changes.",
		[]string{"Enable change approval workflow"},
		[]string{"ci-pipeline"}},
}

// Evaluator implements compliance.StandardEvaluator for SOC 2.
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

func (e *Evaluator) Standard() compliance.StandardID { return compliance.StandardSOC2 }

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
				Standard: compliance.StandardSOC2,
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

	status := compliance.ComplianceStatus{Standard: compliance.StandardSOC2}
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
			Standard:         compliance.StandardSOC2,
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
