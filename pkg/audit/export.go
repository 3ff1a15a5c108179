package audit

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTrailNotConfigured is returned when export is invoked without a
// backing trail.
var ErrTrailNotConfigured = errors.New("audit: trail not configured")

// ExportRequest defines what to export.
type ExportRequest struct {
	ActorID   string    `json:"actor_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter creates evidence packs: a zip of the matching events plus a
// manifest carrying counts, window and chain head for offline verification.
type Exporter struct {
	trail *Trail
}

// NewExporter creates an exporter over the given trail.
func NewExporter(trail *Trail) *Exporter {
	return &Exporter{trail: trail}
}

// GeneratePack builds the zip and returns it with its sha256 checksum.
func (e *Exporter) GeneratePack(req ExportRequest) ([]byte, string, error) {
	if e.trail == nil {
		return nil, "", ErrTrailNotConfigured
	}
	if req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}

	events, err := e.trail.Query(req.ActorID, req.StartTime, req.EndTime)
	if err != nil {
		return nil, "", err
	}

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal events: %w", err)
	}

	manifest := map[string]any{
		"generated_at": time.Now().UTC(),
		"event_count":  len(events),
		"chain_head":   e.trail.ChainHead(),
		"actor_id":     req.ActorID,
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Audit evidence pack\nGenerated at %s\nEvents: %d\n",
		time.Now().UTC().Format(time.RFC3339), len(events))

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(sum[:]), nil
}
