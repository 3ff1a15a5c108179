// Package pci evaluates PCI DSS compliance from configuration flags.
package pci

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
	CategoryCardholderData = "CARDHOLDER_DATA"
	CategoryNetwork        = "NETWORK_SECURITY"
	CategoryAccessControl  = "ACCESS_CONTROL"
	CategoryVulnerability  = "VULNERABILITY_MANAGEMENT"
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
	{"encryption", CategoryCardholderData, compliance.SeverityCritical,
		"Cardholder data encryption disabled",
		"Requirement 3 mandates protection of stored account data.",
		[]string{"Enable encryption of stored account data", "Verify key management procedures"},
		[]string{"payment-datastore"}},
	{"networkSegmentation", CategoryNetwork, compliance.SeverityHigh,
		"Network segmentation disabled",
		"Requirement 1 mandates network security controls isolating the cardholder data environment.",
		[]string{"Enable segmentation of the cardholder data environment", "Review firewall rule sets"},
		[]string{"network-fabric"}},
	{"accessControl", CategoryAccessControl, compliance.SeverityHigh,
		"Access control disabled",
		"Requirement 7 restricts access to system components by business need to know.",
		[]string{"Enable need-to-know access controls"},
		[]string{"identity-provider", "payment-datastore"}},
	{"vulnerabilityScanning", CategoryVulnerability, compliance.SeverityMedium,
		"Vulnerability scanning disabled",
		"Requirement 11 mandates regular testing of security systems and networks.",
		[]string{"Enable scheduled vulnerability scans", "Triage and track open findings"},
		[]string{"scanner"}},
}

// Evaluator implements compliance.StandardEvaluator for PCI DSS.
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

func (e *Evaluator) Standard() compliance.StandardID { return compliance.StandardPCI }

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
				Standard: compliance.StandardPCI,
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

	status := compliance.ComplianceStatus{Standard: compliance.StandardPCI}
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
			Standard:         compliance.StandardPCI,
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
