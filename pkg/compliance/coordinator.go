package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vigil-systems/vigil/pkg/audit"
	"github.com/vigil-systems/vigil/pkg/config"
)

// ErrCycleThrottled is returned when a caller gives up (context done)
// while waiting out the minimum spacing between audit cycles.
var ErrCycleThrottled = errors.New("compliance: audit cycle throttled")

// Recommender derives remediation plans from violations.
type Recommender interface {
	Recommend(violations []Violation) []Recommendation
}

// CycleGate coordinates audit cycles across replicas. Acquire returns
// false when another replica holds the lease.
type CycleGate interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ErrGateHeld is returned when another replica holds the cycle lease.
var ErrGateHeld = errors.New("compliance: audit cycle lease held elsewhere")

// CycleObserver receives audit cycle telemetry. Implementations must be
// safe for concurrent use.
type CycleObserver interface {
	CycleCompleted(ctx context.Context, d time.Duration, violations int, failures int)
}

// Coordinator drives audit cycles across registered evaluators and owns
// the audit trail. At most one cycle runs at a time; evaluators within a
// cycle run concurrently and fail independently.
type Coordinator struct {
	evaluators []StandardEvaluator
	trail      *audit.Trail
	engine     Recommender

	cycleMu sync.Mutex // held for the duration of one audit cycle

	mu          sync.RWMutex // guards audit bookkeeping below
	lastCycleAt time.Time
	nextCycleAt time.Time
	lastConfig  map[StandardID]config.StandardSettings

	limiter  *rate.Limiter
	gate     CycleGate
	observer CycleObserver
	timeout  time.Duration
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithSchedule sets the audit interval, the per-evaluator timeout and the
// minimum spacing between cycle starts.
func WithSchedule(s config.ScheduleSettings) CoordinatorOption {
	return func(c *Coordinator) {
		c.interval = s.Interval()
		c.timeout = s.EvaluatorTimeout()
		if min := s.MinCycleInterval(); min > 0 {
			c.limiter = rate.NewLimiter(rate.Every(min), 1)
		}
	}
}

// WithCycleGate installs a distributed gate so only one replica audits
// at a time.
func WithCycleGate(g CycleGate) CoordinatorOption {
	return func(c *Coordinator) { c.gate = g }
}

// WithCycleObserver installs a telemetry sink for completed cycles.
func WithCycleObserver(o CycleObserver) CoordinatorOption {
	return func(c *Coordinator) { c.observer = o }
}

// WithCoordinatorClock overrides the clock. Test hook.
func WithCoordinatorClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// WithCoordinatorLogger sets the structured logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator wires evaluators, the audit trail and the recommendation
// engine together. Evaluator order is preserved in reports.
func NewCoordinator(trail *audit.Trail, engine Recommender, evaluators []StandardEvaluator, opts ...CoordinatorOption) (*Coordinator, error) {
	if trail == nil {
		return nil, errors.New("compliance: coordinator requires an audit trail")
	}
	if engine == nil {
		return nil, errors.New("compliance: coordinator requires a recommendation engine")
	}
	seen := make(map[StandardID]bool, len(evaluators))
	for _, e := range evaluators {
		if seen[e.Standard()] {
			return nil, fmt.Errorf("compliance: duplicate evaluator for %s", e.Standard())
		}
		seen[e.Standard()] = true
	}

	c := &Coordinator{
		evaluators: evaluators,
		trail:      trail,
		engine:     engine,
		lastConfig: make(map[StandardID]config.StandardSettings),
		timeout:    30 * time.Second,
		interval:   time.Hour,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// evalResult carries one evaluator's outcome across the fan-out boundary.
type evalResult struct {
	index      int
	standard   StandardID
	violations []Violation
	err        error
}

// RunAuditCycle evaluates every registered standard concurrently and
// produces a report with violations, recommendations and failed
// standards. Concurrent calls serialize: exactly one cycle is in flight
// at a time, and consecutive cycle starts respect the minimum spacing.
// One evaluator failing never aborts the others. The only trail writes
// are one diagnostic event per failed evaluator and a single violation
// summary event when the cycle finds violations; a clean cycle appends
// nothing.
func (c *Coordinator) RunAuditCycle(ctx context.Context) (*AuditReport, error) {
	if len(c.evaluators) == 0 {
		return nil, ErrNoEvaluators
	}
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCycleThrottled, err)
		}
	}

	if c.gate != nil {
		ok, err := c.gate.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("compliance: acquire cycle gate: %w", err)
		}
		if !ok {
			return nil, ErrGateHeld
		}
		defer func() {
			if err := c.gate.Release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("cycle gate release failed", "error", err)
			}
		}()
	}

	started := c.clock().UTC()
	auditID := uuid.NewString()
	c.logger.Info("audit cycle started", "audit_id", auditID, "standards", len(c.evaluators))

	results := make(chan evalResult, len(c.evaluators))
	for i, e := range c.evaluators {
		go func(idx int, ev StandardEvaluator) {
			results <- c.runEvaluator(ctx, idx, ev)
		}(i, e)
	}

	byIndex := make([]evalResult, len(c.evaluators))
	for range c.evaluators {
		r := <-results
		byIndex[r.index] = r
	}

	report := &AuditReport{
		AuditID:       auditID,
		Timestamp:     started,
		OverallStatus: StatusCompliant,
	}
	// A failed evaluator contributes no violations this cycle; it degrades
	// loudly through FailedStandards and a diagnostic trail event instead
	// of flipping the overall status.
	for _, r := range byIndex {
		if r.err != nil {
			report.FailedStandards = append(report.FailedStandards, r.standard)
			c.logFailure(r.standard, r.err)
			continue
		}
		report.Violations = append(report.Violations, r.violations...)
	}
	if len(report.Violations) > 0 {
		report.OverallStatus = StatusNonCompliant
		report.Recommendations = c.engine.Recommend(report.Violations)
		c.logViolationSummary(auditID, report.Violations)
	}

	finished := c.clock().UTC()
	c.mu.Lock()
	c.lastCycleAt = finished
	c.nextCycleAt = finished.Add(c.interval)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.CycleCompleted(ctx, finished.Sub(started), len(report.Violations), len(report.FailedStandards))
	}
	c.logger.Info("audit cycle completed",
		"audit_id", auditID,
		"status", report.OverallStatus,
		"violations", len(report.Violations),
		"failed_standards", len(report.FailedStandards),
		"duration", finished.Sub(started))
	return report, nil
}

// runEvaluator isolates one evaluator: its own timeout, panic recovery,
// and error wrapping.
func (c *Coordinator) runEvaluator(ctx context.Context, idx int, ev StandardEvaluator) (res evalResult) {
	res = evalResult{index: idx, standard: ev.Standard()}
	defer func() {
		if r := recover(); r != nil {
			res.err = &EvaluationError{Standard: res.standard, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	evalCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	violations, err := ev.CheckViolations(evalCtx)
	if err != nil {
		var evalErr *EvaluationError
		if errors.As(err, &evalErr) {
			res.err = err
		} else {
			res.err = &EvaluationError{Standard: res.standard, Err: err}
		}
		return res
	}
	res.violations = violations
	return res
}

func (c *Coordinator) logFailure(standard StandardID, err error) {
	c.logger.Error("evaluator failed", "standard", standard, "error", err)
	if logErr := c.trail.Log(audit.Event{
		Type:     audit.EventDiagnostic,
		ActorID:  "coordinator",
		Resource: string(standard),
		Action:   "evaluation-failed",
		Metadata: map[string]audit.Value{
			"error": audit.String(err.Error()),
		},
	}); logErr != nil {
		c.logger.Error("failed to record diagnostic event", "error", logErr)
	}
}

func (c *Coordinator) logViolationSummary(auditID string, violations []Violation) {
	perStandard := make(map[string]audit.Value)
	counts := make(map[StandardID]int)
	for _, v := range violations {
		counts[v.Standard]++
	}
	for std, n := range counts {
		perStandard[string(std)] = audit.Number(float64(n))
	}
	if err := c.trail.Log(audit.Event{
		Type:     audit.EventComplianceViolation,
		ActorID:  "coordinator",
		Resource: "audit-cycle",
		Action:   "violations-detected",
		Metadata: map[string]audit.Value{
			"audit_id":    audit.String(auditID),
			"total":       audit.Number(float64(len(violations))),
			"by_standard": audit.Map(perStandard),
		},
	}); err != nil {
		c.logger.Error("failed to record violation event", "error", err)
	}
}

// GetComplianceStatus reads every evaluator's current snapshot without
// triggering an evaluation. Repeated calls with no intervening cycle or
// reconfiguration return the same result.
func (c *Coordinator) GetComplianceStatus() StatusReport {
	c.mu.RLock()
	last, next := c.lastCycleAt, c.nextCycleAt
	c.mu.RUnlock()

	report := StatusReport{
		GeneratedAt: c.clock().UTC(),
		Overall:     StatusCompliant,
		Standards:   make(map[StandardID]ComplianceStatus, len(c.evaluators)),
	}
	for _, e := range c.evaluators {
		status := e.Status()
		status.LastAuditAt = last
		status.NextAuditAt = next
		report.Standards[status.Standard] = status
		if !status.Compliant {
			report.Overall = StatusNonCompliant
		}
	}
	return report
}

// Configure applies per-standard settings. Every evaluator with settings
// is configured in turn; on failure the already-applied evaluators are
// rolled back to their previous settings (or to disabled when they had
// none) so the system never runs with a partially applied configuration.
func (c *Coordinator) Configure(settings *config.Settings) error {
	if settings == nil {
		return errors.New("compliance: nil settings")
	}

	type applied struct {
		evaluator StandardEvaluator
		previous  config.StandardSettings
		hadPrev   bool
	}
	var done []applied
	pending := make(map[StandardID]config.StandardSettings)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.evaluators {
		std := e.Standard()
		next, ok := settingsFor(settings, std)
		if !ok {
			continue
		}
		prev, hadPrev := c.lastConfig[std]
		if err := e.Configure(next); err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				// A first-time apply has no previous settings to restore;
				// roll it back to disabled so it cannot keep running on the
				// rejected configuration.
				target := done[i].previous
				if !done[i].hadPrev {
					target = config.StandardSettings{}
				}
				if rbErr := done[i].evaluator.Configure(target); rbErr != nil {
					c.logger.Error("configuration rollback failed",
						"standard", done[i].evaluator.Standard(), "error", rbErr)
				}
			}
			return err
		}
		done = append(done, applied{evaluator: e, previous: prev, hadPrev: hadPrev})
		pending[std] = next
	}
	for std, next := range pending {
		c.lastConfig[std] = next
	}

	// Evaluators all accepted; now fan out the audit-wide settings.
	if settings.Audit.RetentionDays > 0 {
		if err := c.trail.SetRetention(settings.Audit.RetentionPeriod()); err != nil {
			return err
		}
	}

	if err := c.trail.Log(audit.Event{
		Type:     audit.EventConfigChange,
		ActorID:  "coordinator",
		Resource: "settings",
		Action:   "applied",
		Metadata: map[string]audit.Value{
			"standards": audit.Number(float64(len(done))),
		},
	}); err != nil {
		c.logger.Error("failed to record config change", "error", err)
	}
	return nil
}

// settingsFor resolves a standard's settings by its well-known lowercase
// key, falling back to the exact identifier for custom standards.
func settingsFor(s *config.Settings, std StandardID) (config.StandardSettings, bool) {
	keys := map[StandardID]string{
		StandardGDPR:  "gdpr",
		StandardHIPAA: "hipaa",
		StandardSOC2:  "soc2",
		StandardPCI:   "pci",
	}
	if key, ok := keys[std]; ok {
		if v, found := s.Standards[key]; found {
			return v, true
		}
	}
	v, found := s.Standards[string(std)]
	return v, found
}

// HandleDataSubjectRequest routes a privacy-rights request to the first
// evaluator that handles subject rights. The access is always recorded in
// the audit trail, including when handling fails.
func (c *Coordinator) HandleDataSubjectRequest(ctx context.Context, req DataSubjectRequest) (DataSubjectResponse, error) {
	var handler SubjectRightsHandler
	var standard StandardID
	for _, e := range c.evaluators {
		if h, ok := e.(SubjectRightsHandler); ok {
			handler = h
			standard = e.Standard()
			break
		}
	}

	var resp DataSubjectResponse
	var err error
	if handler == nil {
		err = ErrSubjectRightsUnsupported
	} else {
		resp, err = handler.HandleSubjectRequest(ctx, req)
	}

	meta := map[string]audit.Value{
		"request_id":   audit.String(req.ID),
		"request_type": audit.String(req.RequestType),
		"accepted":     audit.Bool(err == nil && resp.Accepted),
	}
	if err != nil {
		meta["error"] = audit.String(err.Error())
	}
	if standard != "" {
		meta["standard"] = audit.String(string(standard))
	}
	if logErr := c.trail.Log(audit.Event{
		Type:     audit.EventDataAccess,
		ActorID:  req.SubjectID,
		Resource: "data-subject-request",
		Action:   req.RequestType,
		Metadata: meta,
	}); logErr != nil {
		c.logger.Error("failed to record data access event", "error", logErr)
	}
	return resp, err
}

// GetAuditTrail returns trail events in the window, optionally filtered
// by actor, in insertion order.
func (c *Coordinator) GetAuditTrail(actorID string, from, to time.Time) ([]audit.Event, error) {
	return c.trail.Query(actorID, from, to)
}

// Trail exposes the underlying trail for export wiring.
func (c *Coordinator) Trail() *audit.Trail { return c.trail }

// GenerateAuditReport aggregates trail activity over a window.
func (c *Coordinator) GenerateAuditReport(from, to time.Time) (*audit.Report, error) {
	return c.trail.Report(from, to)
}

// LogAuditEvent records an application-level event in the trail.
func (c *Coordinator) LogAuditEvent(event audit.Event) error {
	return c.trail.Log(event)
}

// Interval returns the configured audit interval.
func (c *Coordinator) Interval() time.Duration { return c.interval }
