package compliance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs audit cycles on a fixed interval. Cycle failures are
// logged and the schedule continues; the scheduler never crashes the
// process.
type Scheduler struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewScheduler creates a scheduler driving the coordinator at its
// configured interval.
func NewScheduler(c *Coordinator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		coordinator: c,
		interval:    c.Interval(),
		logger:      logger,
	}
}

// Start launches the schedule loop. The first cycle runs immediately.
// Start is idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.doneCh)
	s.logger.Info("audit scheduler started", "interval", s.interval)
}

func (s *Scheduler) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.coordinator.RunAuditCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleThrottled), errors.Is(err, ErrGateHeld):
		s.logger.Debug("scheduled audit cycle skipped", "reason", err)
	case err != nil:
		s.logger.Error("scheduled audit cycle failed", "error", err)
	default:
		s.logger.Info("scheduled audit cycle finished",
			"audit_id", report.AuditID, "status", report.OverallStatus)
	}
}

// Stop halts the schedule loop and waits for any in-progress cycle to
// finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	s.logger.Info("audit scheduler stopped")
}
