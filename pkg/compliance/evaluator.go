package compliance

import (
	"context"

	"github.com/vigil-systems/vigil/pkg/config"
)

// StandardEvaluator is the contract every regulatory standard implements.
// Implementations must be safe for concurrent use: the coordinator calls
// CheckViolations from one goroutine per evaluator while status reads
// arrive from callers.
type StandardEvaluator interface {
	// Standard returns the identifier of the standard this evaluator covers.
	Standard() StandardID

	// Configure applies new settings. On error the evaluator keeps its
	// previous configuration.
	Configure(settings config.StandardSettings) error

	// Status returns the standard's current snapshot without triggering
	// an evaluation.
	Status() ComplianceStatus

	// CheckViolations evaluates the configured requirements and returns
	// every detected violation. A disabled standard returns no violations.
	CheckViolations(ctx context.Context) ([]Violation, error)
}

// SubjectRightsHandler is implemented by evaluators that process data
// subject requests (access, erasure, portability).
type SubjectRightsHandler interface {
	HandleSubjectRequest(ctx context.Context, req DataSubjectRequest) (DataSubjectResponse, error)
}
