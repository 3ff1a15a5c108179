package audit

import "time"

// Report is a derived, read-only aggregate over a time window. It is always
// recomputed from the trail, never persisted.
type Report struct {
	TotalEvents   int               `json:"total_events"`
	EventsByType  map[EventType]int `json:"events_by_type"`
	EventsByActor map[string]int    `json:"events_by_actor"`
	WindowStart   time.Time         `json:"window_start"`
	WindowEnd     time.Time         `json:"window_end"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

func buildReport(events []Event, from, to, now time.Time) *Report {
	r := &Report{
		TotalEvents:   len(events),
		EventsByType:  make(map[EventType]int),
		EventsByActor: make(map[string]int),
		WindowStart:   from,
		WindowEnd:     to,
		GeneratedAt:   now,
	}
	for _, e := range events {
		r.EventsByType[e.Type]++
		r.EventsByActor[e.ActorID]++
	}
	return r
}
