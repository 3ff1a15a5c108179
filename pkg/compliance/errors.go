package compliance

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEvaluators is returned when an audit cycle is requested with
	// no registered standards.
	ErrNoEvaluators = errors.New("compliance: no evaluators registered")

	// ErrNotConfigured is returned by an evaluator used before Configure.
	ErrNotConfigured = errors.New("compliance: evaluator not configured")

	// ErrSubjectRightsUnsupported is returned when no registered evaluator
	// can process data subject requests.
	ErrSubjectRightsUnsupported = errors.New("compliance: no subject rights handler registered")
)

// ConfigurationError reports settings an evaluator cannot accept. The
// evaluator keeps its previous configuration when returning one.
type ConfigurationError struct {
	Standard StandardID
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("compliance: invalid %s configuration: %s", e.Standard, e.Reason)
}

// EvaluationError reports one evaluator's failure during an audit cycle.
// Other evaluators in the same cycle are unaffected.
type EvaluationError struct {
	Standard StandardID
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("compliance: %s evaluation failed: %v", e.Standard, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
