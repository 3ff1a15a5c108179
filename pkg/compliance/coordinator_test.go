package compliance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/audit"
	"github.com/vigil-systems/vigil/pkg/compliance"
	"github.com/vigil-systems/vigil/pkg/compliance/recommend"
	"github.com/vigil-systems/vigil/pkg/config"
)

// stubEvaluator is a scriptable StandardEvaluator for coordinator tests.
type stubEvaluator struct {
	id compliance.StandardID

	mu           sync.Mutex
	violations   []compliance.Violation
	checkErr     error
	panicMsg     string
	blockCh      chan struct{}
	configureErr error
	applied      []config.StandardSettings
	compliant    bool
}

func (s *stubEvaluator) Standard() compliance.StandardID { return s.id }

func (s *stubEvaluator) Configure(settings config.StandardSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configureErr != nil {
		return s.configureErr
	}
	s.applied = append(s.applied, settings)
	return nil
}

func (s *stubEvaluator) Status() compliance.ComplianceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return compliance.ComplianceStatus{
		Standard:  s.id,
		Enabled:   true,
		Compliant: s.compliant,
		RiskLevel: compliance.RiskLow,
	}
}

func (s *stubEvaluator) CheckViolations(ctx context.Context) ([]compliance.Violation, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.blockCh != nil {
		select {
		case <-s.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		return nil, s.checkErr
	}
	return s.violations, nil
}

func newTrail(t *testing.T) *audit.Trail {
	t.Helper()
	trail, err := audit.NewTrail(24 * time.Hour)
	require.NoError(t, err)
	return trail
}

func newCoordinator(t *testing.T, trail *audit.Trail, evals []compliance.StandardEvaluator, opts ...compliance.CoordinatorOption) *compliance.Coordinator {
	t.Helper()
	c, err := compliance.NewCoordinator(trail, recommend.NewEngine(), evals, opts...)
	require.NoError(t, err)
	return c
}

func TestRunAuditCycle_AggregatesAcrossStandards(t *testing.T) {
	detected := time.Now().UTC()
	gdprStub := &stubEvaluator{id: compliance.StandardGDPR, violations: []compliance.Violation{
		{ID: "v1", Standard: compliance.StandardGDPR, Severity: compliance.SeverityCritical, Title: "enc off", DetectedAt: detected},
	}}
	pciStub := &stubEvaluator{id: compliance.StandardPCI, violations: []compliance.Violation{
		{ID: "v2", Standard: compliance.StandardPCI, Severity: compliance.SeverityMedium, Title: "scan off", DetectedAt: detected},
	}}
	soc2Stub := &stubEvaluator{id: compliance.StandardSOC2, compliant: true}

	trail := newTrail(t)
	c := newCoordinator(t, trail, []compliance.StandardEvaluator{gdprStub, pciStub, soc2Stub})

	report, err := c.RunAuditCycle(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.AuditID)
	assert.Equal(t, compliance.StatusNonCompliant, report.OverallStatus)
	require.Len(t, report.Violations, 2)
	// Evaluator registration order is preserved.
	assert.Equal(t, "v1", report.Violations[0].ID)
	assert.Equal(t, "v2", report.Violations[1].ID)
	require.Len(t, report.Recommendations, 2)
	assert.Equal(t, compliance.PriorityUrgent, report.Recommendations[0].Priority)
	assert.Empty(t, report.FailedStandards)

	// The cycle's only trail write is the single violation summary.
	events, err := trail.Query("", time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventComplianceViolation, events[0].Type)
}

func TestRunAuditCycle_CompliantWhenNoViolations(t *testing.T) {
	trail := newTrail(t)
	c := newCoordinator(t, trail, []compliance.StandardEvaluator{
		&stubEvaluator{id: compliance.StandardGDPR, compliant: true},
	})

	report, err := c.RunAuditCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, compliance.StatusCompliant, report.OverallStatus)
	assert.Empty(t, report.Violations)
	assert.Empty(t, report.Recommendations)

	// A clean cycle appends nothing to the trail.
	events, err := trail.Query("", time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRunAuditCycle_IsolatesFailures(t *testing.T) {
	failing := &stubEvaluator{id: compliance.StandardHIPAA, checkErr: assert.AnError}
	panicking := &stubEvaluator{id: compliance.StandardSOC2, panicMsg: "boom"}
	healthy := &stubEvaluator{id: compliance.StandardGDPR, violations: []compliance.Violation{
		{ID: "v1", Standard: compliance.StandardGDPR, Severity: compliance.SeverityLow, Title: "t"},
	}}

	trail := newTrail(t)
	c := newCoordinator(t, trail, []compliance.StandardEvaluator{failing, panicking, healthy})

	report, err := c.RunAuditCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, compliance.StatusNonCompliant, report.OverallStatus)
	assert.ElementsMatch(t, []compliance.StandardID{compliance.StandardHIPAA, compliance.StandardSOC2}, report.FailedStandards)
	require.Len(t, report.Violations, 1)

	// Each failure produces a diagnostic event.
	events, err := trail.Query("", time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	diagnostics := 0
	for _, e := range events {
		if e.Type == audit.EventDiagnostic {
			diagnostics++
		}
	}
	assert.Equal(t, 2, diagnostics)
}

func TestRunAuditCycle_ConcurrentCallsSerialize(t *testing.T) {
	trail := newTrail(t)
	c := newCoordinator(t, trail, []compliance.StandardEvaluator{
		&stubEvaluator{id: compliance.StandardGDPR, violations: []compliance.Violation{
			{ID: "v1", Standard: compliance.StandardGDPR, Severity: compliance.SeverityLow, Title: "t"},
		}},
	})

	const calls = 4
	var wg sync.WaitGroup
	reports := make([]*compliance.AuditReport, calls)
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = c.RunAuditCycle(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.NoError(t, errs[i])
	}

	// Every cycle completed and each recorded its own violation summary.
	events, err := trail.Query("", time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	summaries := 0
	for _, e := range events {
		if e.Type == audit.EventComplianceViolation {
			summaries++
		}
	}
	assert.Equal(t, calls, summaries)
	for _, r := range reports {
		require.NotNil(t, r)
	}
	require.NoError(t, trail.VerifyChain())
}

func TestRunAuditCycle_EvaluatorTimeout(t *testing.T) {
	stuck := &stubEvaluator{id: compliance.StandardPCI, blockCh: make(chan struct{})}
	c := newCoordinator(t, newTrail(t), []compliance.StandardEvaluator{stuck},
		compliance.WithSchedule(config.ScheduleSettings{
			IntervalMinutes:     60,
			EvaluatorTimeoutSec: 1,
		}))

	report, err := c.RunAuditCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []compliance.StandardID{compliance.StandardPCI}, report.FailedStandards)
	// No violations were found, so the status stays compliant even though
	// the evaluator failed; the failure is visible in FailedStandards.
	assert.Equal(t, compliance.StatusCompliant, report.OverallStatus)
}

func TestRunAuditCycle_MinSpacingEnforced(t *testing.T) {
	c := newCoordinator(t, newTrail(t),
		[]compliance.StandardEvaluator{&stubEvaluator{id: compliance.StandardGDPR, compliant: true}},
		compliance.WithSchedule(config.ScheduleSettings{
			IntervalMinutes:     60,
			EvaluatorTimeoutSec: 30,
			MinCycleSeconds:     3600,
		}))

	_, err := c.RunAuditCycle(context.Background())
	require.NoError(t, err)

	// The next cycle start is an hour out; an impatient caller gets
	// a throttle error instead of silently waiting.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.RunAuditCycle(ctx)
	assert.ErrorIs(t, err, compliance.ErrCycleThrottled)
}

func TestRunAuditCycle_NoEvaluators(t *testing.T) {
	c := newCoordinator(t, newTrail(t), nil)
	_, err := c.RunAuditCycle(context.Background())
	assert.ErrorIs(t, err, compliance.ErrNoEvaluators)
}

type fakeGate struct {
	allow    bool
	acquired int
	released int
}

func (g *fakeGate) Acquire(context.Context) (bool, error) {
	g.acquired++
	return g.allow, nil
}

func (g *fakeGate) Release(context.Context) error {
	g.released++
	return nil
}

func TestRunAuditCycle_GateHeldElsewhere(t *testing.T) {
	gate := &fakeGate{allow: false}
	c := newCoordinator(t, newTrail(t),
		[]compliance.StandardEvaluator{&stubEvaluator{id: compliance.StandardGDPR}},
		compliance.WithCycleGate(gate))

	_, err := c.RunAuditCycle(context.Background())
	assert.ErrorIs(t, err, compliance.ErrGateHeld)
	assert.Equal(t, 1, gate.acquired)
	assert.Equal(t, 0, gate.released)
}

func TestRunAuditCycle_GateAcquiredAndReleased(t *testing.T) {
	gate := &fakeGate{allow: true}
	c := newCoordinator(t, newTrail(t),
		[]compliance.StandardEvaluator{&stubEvaluator{id: compliance.StandardGDPR, compliant: true}},
		compliance.WithCycleGate(gate))

	_, err := c.RunAuditCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gate.acquired)
	assert.Equal(t, 1, gate.released)
}

func TestGetComplianceStatus_IdempotentAndStamped(t *testing.T) {
	stub := &stubEvaluator{id: compliance.StandardGDPR, compliant: true}
	c := newCoordinator(t, newTrail(t), []compliance.StandardEvaluator{stub})

	before := c.GetComplianceStatus()
	assert.True(t, before.Standards[compliance.StandardGDPR].LastAuditAt.IsZero())

	_, err := c.RunAuditCycle(context.Background())
	require.NoError(t, err)

	first := c.GetComplianceStatus()
	second := c.GetComplianceStatus()

	gdprFirst := first.Standards[compliance.StandardGDPR]
	gdprSecond := second.Standards[compliance.StandardGDPR]
	assert.False(t, gdprFirst.LastAuditAt.IsZero())
	assert.Equal(t, gdprFirst.LastAuditAt, gdprSecond.LastAuditAt)
	assert.Equal(t, gdprFirst.NextAuditAt, gdprSecond.NextAuditAt)
	assert.Equal(t, gdprFirst.Compliant, gdprSecond.Compliant)
	assert.Equal(t, compliance.StatusCompliant, first.Overall)
}

func TestConfigure_RollsBackOnFailure(t *testing.T) {
	good := &stubEvaluator{id: compliance.StandardGDPR}
	bad := &stubEvaluator{id: compliance.StandardHIPAA, configureErr: &compliance.ConfigurationError{
		Standard: compliance.StandardHIPAA, Reason: "missing flags",
	}}
	c := newCoordinator(t, newTrail(t), []compliance.StandardEvaluator{good, bad})

	// Seed a known-good configuration first.
	require.NoError(t, c.Configure(&config.Settings{
		Standards: map[string]config.StandardSettings{
			"gdpr": {Enabled: true, Flags: map[string]bool{"v": true}},
		},
	}))
	require.Len(t, good.applied, 1)

	err := c.Configure(&config.Settings{
		Standards: map[string]config.StandardSettings{
			"gdpr":  {Enabled: false},
			"hipaa": {Enabled: true},
		},
	})
	var confErr *compliance.ConfigurationError
	require.ErrorAs(t, err, &confErr)

	// gdpr got the new settings then the rollback to the seeded ones.
	require.Len(t, good.applied, 3)
	assert.False(t, good.applied[1].Enabled)
	assert.True(t, good.applied[2].Enabled)
}

func TestConfigure_FirstApplyRollsBackToDisabled(t *testing.T) {
	good := &stubEvaluator{id: compliance.StandardGDPR}
	bad := &stubEvaluator{id: compliance.StandardHIPAA, configureErr: &compliance.ConfigurationError{
		Standard: compliance.StandardHIPAA, Reason: "missing flags",
	}}
	c := newCoordinator(t, newTrail(t), []compliance.StandardEvaluator{good, bad})

	// No prior configuration exists, so the rollback target is disabled.
	err := c.Configure(&config.Settings{
		Standards: map[string]config.StandardSettings{
			"gdpr":  {Enabled: true, Flags: map[string]bool{"v": true}},
			"hipaa": {Enabled: true},
		},
	})
	var confErr *compliance.ConfigurationError
	require.ErrorAs(t, err, &confErr)

	require.Len(t, good.applied, 2)
	assert.True(t, good.applied[0].Enabled)
	assert.Equal(t, config.StandardSettings{}, good.applied[1])
}

func TestHandleDataSubjectRequest_AlwaysAudited(t *testing.T) {
	trail := newTrail(t)
	c := newCoordinator(t, trail, []compliance.StandardEvaluator{
		&stubEvaluator{id: compliance.StandardPCI}, // no subject rights support
	})

	_, err := c.HandleDataSubjectRequest(context.Background(), compliance.DataSubjectRequest{
		ID:          "req-1",
		SubjectID:   "subject-7",
		RequestType: "erasure",
	})
	assert.ErrorIs(t, err, compliance.ErrSubjectRightsUnsupported)

	events, err := trail.Query("subject-7", time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventDataAccess, events[0].Type)
	accepted, ok := events[0].Metadata["accepted"].AsBool()
	require.True(t, ok)
	assert.False(t, accepted)
}

func TestGetAuditTrail_FiltersByActor(t *testing.T) {
	trail := newTrail(t)
	c := newCoordinator(t, trail, []compliance.StandardEvaluator{
		&stubEvaluator{id: compliance.StandardGDPR, compliant: true},
	})

	require.NoError(t, c.LogAuditEvent(audit.Event{
		Type: audit.EventDataAccess, ActorID: "alice", Resource: "records", Action: "read",
	}))
	require.NoError(t, c.LogAuditEvent(audit.Event{
		Type: audit.EventDataAccess, ActorID: "bob", Resource: "records", Action: "read",
	}))

	events, err := c.GetAuditTrail("alice", time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].ActorID)

	all, err := c.GetAuditTrail("", time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGenerateAuditReport_AggregatesWindow(t *testing.T) {
	trail := newTrail(t)
	c := newCoordinator(t, trail, []compliance.StandardEvaluator{
		&stubEvaluator{id: compliance.StandardGDPR, compliant: true},
	})

	require.NoError(t, c.LogAuditEvent(audit.Event{
		Type: audit.EventDataAccess, ActorID: "alice", Resource: "records", Action: "read",
	}))
	require.NoError(t, c.LogAuditEvent(audit.Event{
		Type: audit.EventConfigChange, ActorID: "ops", Resource: "settings", Action: "applied",
	}))

	report, err := c.GenerateAuditReport(time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalEvents)
	assert.Equal(t, 1, report.EventsByType[audit.EventDataAccess])
	assert.Equal(t, 1, report.EventsByActor["alice"])
}

func TestNewCoordinator_RejectsDuplicateStandards(t *testing.T) {
	_, err := compliance.NewCoordinator(newTrail(t), recommend.NewEngine(), []compliance.StandardEvaluator{
		&stubEvaluator{id: compliance.StandardGDPR},
		&stubEvaluator{id: compliance.StandardGDPR},
	})
	assert.Error(t, err)
}
