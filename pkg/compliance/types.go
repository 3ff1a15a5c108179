// Package compliance defines the evaluator contract, the shared
// violation and status types, and the coordinator that drives audit
// cycles across registered standards.
package compliance

import "time"

// StandardID identifies a regulatory standard.
type StandardID string

const (
	StandardGDPR  StandardID = "GDPR"
	StandardHIPAA StandardID = "HIPAA"
	StandardSOC2  StandardID = "SOC2"
	StandardPCI   StandardID = "PCI_DSS"
)

// Severity classifies how serious a violation is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// RiskLevel summarizes a standard's current exposure.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Priority orders remediation work.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Effort estimates the work a remediation needs.
type Effort string

const (
	EffortHigh   Effort = "HIGH"
	EffortMedium Effort = "MEDIUM"
	EffortLow    Effort = "LOW"
)

// OverallStatus is the aggregate outcome of an audit cycle.
type OverallStatus string

const (
	StatusCompliant    OverallStatus = "COMPLIANT"
	StatusNonCompliant OverallStatus = "NON_COMPLIANT"
)

// RiskForSeverity maps a violation severity to the risk level it implies
// for the standard as a whole.
func RiskForSeverity(s Severity) RiskLevel {
	switch s {
	case SeverityCritical:
		return RiskCritical
	case SeverityHigh:
		return RiskHigh
	case SeverityMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskRank orders risk levels so callers can keep the highest one seen.
func RiskRank(r RiskLevel) int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Violation is one detected deviation from a standard's requirements.
type Violation struct {
	ID               string     `json:"id"`
	Standard         StandardID `json:"standard"`
	Category         string     `json:"category"`
	Severity         Severity   `json:"severity"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	RemediationSteps []string   `json:"remediation_steps,omitempty"`
	AffectedSystems  []string   `json:"affected_systems,omitempty"`
	DetectedAt       time.Time  `json:"detected_at"`
}

// Recommendation is a remediation plan derived from a violation.
type Recommendation struct {
	ID          string    `json:"id"`
	ViolationID string    `json:"violation_id"`
	Priority    Priority  `json:"priority"`
	Effort      Effort    `json:"effort"`
	Deadline    time.Time `json:"deadline"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Steps       []string  `json:"steps,omitempty"`
}

// ComplianceStatus is one standard's snapshot at a point in time.
type ComplianceStatus struct {
	Standard    StandardID `json:"standard"`
	Enabled     bool       `json:"enabled"`
	Compliant   bool       `json:"compliant"`
	RiskLevel   RiskLevel  `json:"risk_level"`
	LastAuditAt time.Time  `json:"last_audit_at,omitempty"`
	NextAuditAt time.Time  `json:"next_audit_at,omitempty"`
}

// StatusReport aggregates per-standard statuses for a point-in-time read.
type StatusReport struct {
	GeneratedAt time.Time                       `json:"generated_at"`
	Overall     OverallStatus                   `json:"overall"`
	Standards   map[StandardID]ComplianceStatus `json:"standards"`
}

// AuditReport is the outcome of one full audit cycle.
type AuditReport struct {
	AuditID         string           `json:"audit_id"`
	Timestamp       time.Time        `json:"timestamp"`
	OverallStatus   OverallStatus    `json:"overall_status"`
	Violations      []Violation      `json:"violations"`
	Recommendations []Recommendation `json:"recommendations"`
	FailedStandards []StandardID     `json:"failed_standards,omitempty"`
}

// DataSubjectRequest is an inbound privacy-rights request.
type DataSubjectRequest struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	RequestType string    `json:"request_type"`
	ReceivedAt  time.Time `json:"received_at"`
}

// DataSubjectResponse records the disposition of a privacy-rights request.
type DataSubjectResponse struct {
	RequestID   string    `json:"request_id"`
	Accepted    bool      `json:"accepted"`
	Disposition string    `json:"disposition"`
	Deadline    time.Time `json:"deadline,omitempty"`
}
