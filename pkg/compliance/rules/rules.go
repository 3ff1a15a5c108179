// Package rules implements a StandardEvaluator driven by operator-supplied
// CEL expressions instead of built-in control checks. Each rule is a
// predicate over the standard's flag map; a rule that evaluates to false
// produces a violation.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/vigil-systems/vigil/pkg/compliance"
	"github.com/vigil-systems/vigil/pkg/config"
)

// Evaluator implements compliance.StandardEvaluator for a custom standard.
type Evaluator struct {
	standard compliance.StandardID
	env      *cel.Env
	prgCache map[string]cel.Program
	cacheMu  sync.Mutex

	mu         sync.RWMutex
	configured bool
	enabled    bool
	flags      map[string]bool
	rules      []config.CustomRule
	clock      func() time.Time
}

// NewEvaluator creates a custom-rule evaluator for the given standard
// identifier.
func NewEvaluator(standard compliance.StandardID) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("flags", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("enabled", cel.BoolType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("rules: create CEL environment: %w", err)
	}
	return &Evaluator{
		standard: standard,
		env:      env,
		prgCache: make(map[string]cel.Program),
		clock:    time.Now,
	}, nil
}

func (e *Evaluator) Standard() compliance.StandardID { return e.standard }

// Configure compiles every rule before applying anything, so a bad
// expression never partially replaces a working rule set.
func (e *Evaluator) Configure(settings config.StandardSettings) error {
	for _, r := range settings.Rules {
		if _, err := e.program(r.Expr); err != nil {
			return &compliance.ConfigurationError{
				Standard: e.standard,
				Reason:   fmt.Sprintf("rule %q: %v", r.Name, err),
			}
		}
		if severityFrom(r.Severity) == "" {
			return &compliance.ConfigurationError{
				Standard: e.standard,
				Reason:   fmt.Sprintf("rule %q: unknown severity %q", r.Name, r.Severity),
			}
		}
	}

	flags := make(map[string]bool, len(settings.Flags))
	for k, v := range settings.Flags {
		flags[k] = v
	}
	ruleCopy := make([]config.CustomRule, len(settings.Rules))
	copy(ruleCopy, settings.Rules)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.configured = true
	e.enabled = settings.Enabled
	e.flags = flags
	e.rules = ruleCopy
	return nil
}

func (e *Evaluator) Status() compliance.ComplianceStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := compliance.ComplianceStatus{Standard: e.standard}
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
	input := e.inputLocked()
	for _, r := range e.rules {
		ok, err := e.evaluate(r.Expr, input)
		if err != nil || ok {
			continue
		}
		status.Compliant = false
		if risk := compliance.RiskForSeverity(severityFrom(r.Severity)); compliance.RiskRank(risk) > compliance.RiskRank(status.RiskLevel) {
			status.RiskLevel = risk
		}
	}
	return status
}

// CheckViolations evaluates every rule. A rule whose expression fails at
// runtime yields an EvaluationError for the whole cycle: a rule set that
// cannot be evaluated must not silently pass.
func (e *Evaluator) CheckViolations(ctx context.Context) ([]compliance.Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	configured, enabled := e.configured, e.enabled
	rules := e.rules
	input := e.inputLocked()
	now := e.clock().UTC()
	e.mu.RUnlock()

	if !configured {
		return nil, compliance.ErrNotConfigured
	}
	if !enabled {
		return nil, nil
	}

	var violations []compliance.Violation
	for _, r := range rules {
		ok, err := e.evaluate(r.Expr, input)
		if err != nil {
			return nil, &compliance.EvaluationError{Standard: e.standard, Err: err}
		}
		if ok {
			continue
		}
		violations = append(violations, compliance.Violation{
			ID:               uuid.NewString(),
			Standard:         e.standard,
			Category:         r.Category,
			Severity:         severityFrom(r.Severity),
			Title:            r.Title,
			Description:      r.Description,
			RemediationSteps: r.Remediation,
			DetectedAt:       now,
		})
	}
	return violations, nil
}

// inputLocked builds the CEL activation. Caller holds at least e.mu read
// lock.
func (e *Evaluator) inputLocked() map[string]any {
	flags := make(map[string]bool, len(e.flags))
	for k, v := range e.flags {
		flags[k] = v
	}
	return map[string]any{
		"flags":     flags,
		"enabled":   e.enabled,
		"timestamp": e.clock().Unix(),
	}
}

func (e *Evaluator) evaluate(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not produce a bool", expr)
	}
	return val, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if prg, hit := e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}

func severityFrom(s string) compliance.Severity {
	switch s {
	case "critical":
		return compliance.SeverityCritical
	case "high":
		return compliance.SeverityHigh
	case "medium":
		return compliance.SeverityMedium
	case "low":
		return compliance.SeverityLow
	default:
		return ""
	}
}
