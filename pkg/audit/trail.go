package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

var (
	// ErrRetentionViolation signals that append and eviction no longer
	// compose; the trail instance must be discarded and rebuilt.
	ErrRetentionViolation = errors.New("audit: retention invariant violated")
	// ErrTrailFailed is returned once a trail has entered the failed state.
	ErrTrailFailed = errors.New("audit: trail is in failed state")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start time must not be after end time")
	// ErrChainBroken is returned when hash chain verification fails.
	ErrChainBroken = errors.New("audit: hash chain is broken")
	// ErrInvalidRetention is returned for non-positive retention periods.
	ErrInvalidRetention = errors.New("audit: retention period must be positive")
)

const genesisHash = "genesis"

// EvictionSink receives events removed by retention eviction, e.g. for
// archival to cold storage. Sink failures never block the trail.
type EvictionSink interface {
	Archive(events []Event) error
}

// Trail is an append-only, hash-chained, retention-bounded event store.
// All appends and evictions serialize on a single write lane; reads run
// concurrently and observe a consistent snapshot.
type Trail struct {
	mu        sync.RWMutex
	retention time.Duration
	events    []Event
	sequence  uint64
	chainHead string
	anchor    string // expected previous_hash of the oldest retained event
	failed    bool

	sink   EvictionSink
	clock  func() time.Time
	logger *slog.Logger
}

// TrailOption customizes a Trail.
type TrailOption func(*Trail)

// WithClock overrides the trail clock for testing.
func WithClock(clock func() time.Time) TrailOption {
	return func(t *Trail) { t.clock = clock }
}

// WithEvictionSink registers a sink for evicted events.
func WithEvictionSink(sink EvictionSink) TrailOption {
	return func(t *Trail) { t.sink = sink }
}

// WithLogger overrides the trail logger.
func WithLogger(logger *slog.Logger) TrailOption {
	return func(t *Trail) { t.logger = logger }
}

// NewTrail creates a trail that retains events for the given period.
func NewTrail(retention time.Duration, opts ...TrailOption) (*Trail, error) {
	if retention <= 0 {
		return nil, ErrInvalidRetention
	}
	t := &Trail{
		retention: retention,
		chainHead: genesisHash,
		anchor:    genesisHash,
		clock:     time.Now,
		logger:    slog.Default().With("component", "audit-trail"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Log appends the event and evicts everything older than the retention
// window. Append and eviction happen under one write lock so no reader
// observes a partially evicted state. The trail assigns ID, Timestamp,
// Sequence and the chain hashes; caller-provided values for those fields
// are ignored.
func (t *Trail) Log(event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failed {
		return ErrTrailFailed
	}

	now := t.clock().UTC()

	t.sequence++
	event.ID = uuid.New().String()
	event.Timestamp = now
	event.Sequence = t.sequence
	event.PreviousHash = t.chainHead

	hash, err := entryHash(event)
	if err != nil {
		t.sequence--
		return fmt.Errorf("audit: failed to hash event: %w", err)
	}
	event.EntryHash = hash

	t.events = append(t.events, event)
	t.chainHead = event.EntryHash

	t.evictLocked(now)

	if err := t.checkRetentionLocked(now); err != nil {
		t.failed = true
		return err
	}
	return nil
}

// evictLocked removes the prefix of events older than the retention cutoff.
// Events exactly at the boundary are retained. Caller holds the write lock.
func (t *Trail) evictLocked(now time.Time) {
	cutoff := now.Add(-t.retention)

	idx := 0
	for idx < len(t.events) && t.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return
	}

	evicted := t.events[:idx:idx]
	t.anchor = evicted[idx-1].EntryHash
	t.events = append([]Event(nil), t.events[idx:]...)

	if t.sink != nil {
		if err := t.sink.Archive(evicted); err != nil {
			t.logger.Error("eviction archive failed", "error", err, "evicted", len(evicted))
		}
	}
}

// checkRetentionLocked validates that eviction and append composed
// correctly: no retained event is older than the cutoff and the oldest
// retained event chains to the anchor.
func (t *Trail) checkRetentionLocked(now time.Time) error {
	if len(t.events) == 0 {
		return fmt.Errorf("%w: append not visible after eviction", ErrRetentionViolation)
	}
	cutoff := now.Add(-t.retention)
	if t.events[0].Timestamp.Before(cutoff) {
		return fmt.Errorf("%w: event %s outlived retention", ErrRetentionViolation, t.events[0].ID)
	}
	if t.events[0].PreviousHash != t.anchor {
		return fmt.Errorf("%w: chain anchor mismatch after eviction", ErrRetentionViolation)
	}
	return nil
}

// Query returns all events within [from, to] in insertion order, filtered
// by actor when actorID is non-empty. Both bounds are inclusive.
func (t *Trail) Query(actorID string, from, to time.Time) ([]Event, error) {
	if from.After(to) {
		return nil, ErrInvalidTimeRange
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]Event, 0)
	for _, e := range t.events {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		if actorID != "" && e.ActorID != actorID {
			continue
		}
		results = append(results, e)
	}
	return results, nil
}

// Report aggregates events in the window into a read-only report. The write
// lane is held only for the duration of the snapshot read; aggregation runs
// lock-free on the snapshot.
func (t *Trail) Report(from, to time.Time) (*Report, error) {
	events, err := t.Query("", from, to)
	if err != nil {
		return nil, err
	}
	return buildReport(events, from, to, t.clock().UTC()), nil
}

// VerifyChain verifies the hash chain of all retained events, starting from
// the current anchor (genesis, or the last evicted entry's hash).
func (t *Trail) VerifyChain() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	expectedPrev := t.anchor
	for i, e := range t.events {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: event %d has previous_hash %s, expected %s",
				ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		computed, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: event %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: event %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, e.EntryHash)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

// SetRetention replaces the retention period. The new window applies from
// the next append.
func (t *Trail) SetRetention(retention time.Duration) error {
	if retention <= 0 {
		return ErrInvalidRetention
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retention = retention
	return nil
}

// Retention returns the configured retention period.
func (t *Trail) Retention() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retention
}

// Size returns the number of retained events.
func (t *Trail) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// ChainHead returns the hash of the newest entry.
func (t *Trail) ChainHead() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chainHead
}

// Failed reports whether the trail has entered the failed state.
func (t *Trail) Failed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failed
}

// entryHash computes the chained hash of an event over its canonical JSON
// form (RFC 8785), so hashes are stable across field ordering.
func entryHash(e Event) (string, error) {
	hashable := struct {
		ID           string           `json:"id"`
		Sequence     uint64           `json:"sequence"`
		Timestamp    time.Time        `json:"timestamp"`
		Type         EventType        `json:"type"`
		ActorID      string           `json:"actor_id"`
		Resource     string           `json:"resource"`
		Action       string           `json:"action"`
		Description  string           `json:"description"`
		Metadata     map[string]Value `json:"metadata,omitempty"`
		PreviousHash string           `json:"previous_hash"`
	}{
		ID:           e.ID,
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		Type:         e.Type,
		ActorID:      e.ActorID,
		Resource:     e.Resource,
		Action:       e.Action,
		Description:  e.Description,
		Metadata:     e.Metadata,
		PreviousHash: e.PreviousHash,
	}

	data, err := json.Marshal(hashable)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
