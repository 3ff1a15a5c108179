// Package gdpr evaluates GDPR compliance from configuration flags and
// handles data subject requests.
package gdpr

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
	CategoryDataProtection = "DATA_PROTECTION"
	CategoryConsent        = "CONSENT"
	CategoryAccountability = "ACCOUNTABILITY"
	CategoryStorageLimits  = "STORAGE_LIMITATION"

	subjectRequestDeadline = 30 * 24 * time.Hour
)

// check is one required control. A configured-but-false flag is a
// violation; a missing flag is a configuration error.
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
	{"encryption", CategoryDataProtection, compliance.SeverityCritical,
		"Personal data encryption disabled",
		"Article 32 requires encryption of personal data at rest and in transit.",
		[]string{"Enable encryption at rest for personal data stores", "Enforce TLS on all data-bearing endpoints"},
		[]string{"datastore", "api-gateway"}},
	{"consentTracking", CategoryConsent, compliance.SeverityHigh,
		"Consent tracking disabled",
		"Article 7 requires demonstrable records of data subject consent.",
		[]string{"Enable the consent ledger", "Backfill consent records for active subjects"},
		[]string{"consent-service"}},
	{"auditLogging", CategoryAccountability, compliance.SeverityHigh,
		"Processing activity logging disabled",
		"Article 30 requires records of processing activities.",
		[]string{"Enable processing-activity logging", "Verify log shipping to the audit trail"},
		[]string{"audit-pipeline"}},
	{"dataRetention", CategoryStorageLimits, compliance.SeverityMedium,
		"Retention policy enforcement disabled",
		"Article 5(1)(e) limits storage of personal data to what is necessary.",
		[]string{"Enable retention policy enforcement", "Schedule deletion jobs for expired records"},
		[]string{"datastore"}},
}

// Evaluator implements compliance.StandardEvaluator for GDPR.
type Evaluator struct {
	mu         sync.RWMutex
	configured bool
	enabled    bool
	flags      map[string]bool
	clock      func() time.Time
}

// NewEvaluator returns an unconfigured GDPR evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{clock: time.Now}
}

// WithClock overrides the evaluator clock. Test hook.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

func (e *Evaluator) Standard() compliance.StandardID { return compliance.StandardGDPR }

// Configure applies new settings atomically. When the standard is enabled
// every required flag must be present; otherwise the previous
// configuration is kept and a ConfigurationError is returned.
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
				Standard: compliance.StandardGDPR,
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

// Status reports the current snapshot without running an evaluation.
func (e *Evaluator) Status() compliance.ComplianceStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := compliance.ComplianceStatus{Standard: compliance.StandardGDPR}
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

// CheckViolations evaluates every control. A disabled standard is
// vacuously compliant and returns no violations.
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
			Standard:         compliance.StandardGDPR,
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

// HandleSubjectRequest processes access, erasure, portability and
// rectification requests with the statutory 30-day response deadline.
func (e *Evaluator) HandleSubjectRequest(ctx context.Context, req compliance.DataSubjectRequest) (compliance.DataSubjectResponse, error) {
	if err := ctx.Err(); err != nil {
		return compliance.DataSubjectResponse{}, err
	}

	e.mu.RLock()
	configured, enabled := e.configured, e.enabled
	e.mu.RUnlock()

	if !configured {
		return compliance.DataSubjectResponse{}, compliance.ErrNotConfigured
	}
	if !enabled {
		return compliance.DataSubjectResponse{
			RequestID:   req.ID,
			Accepted:    false,
			Disposition: "STANDARD_DISABLED",
		}, nil
	}

	switch req.RequestType {
	case "access", "erasure", "portability", "rectification":
		received := req.ReceivedAt
		if received.IsZero() {
			received = e.clock().UTC()
		}
		return compliance.DataSubjectResponse{
			RequestID:   req.ID,
			Accepted:    true,
			Disposition: "QUEUED",
			Deadline:    received.Add(subjectRequestDeadline),
		}, nil
	default:
		return compliance.DataSubjectResponse{
			RequestID:   req.ID,
			Accepted:    false,
			Disposition: "UNSUPPORTED_REQUEST_TYPE",
		}, nil
	}
}
