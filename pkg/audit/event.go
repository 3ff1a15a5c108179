// Package audit implements the append-only, retention-bounded audit trail
// with hash chaining for tamper evidence.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventAccess              EventType = "ACCESS"
	EventMutation            EventType = "MUTATION"
	EventSystem              EventType = "SYSTEM"
	EventDataAccess          EventType = "DATA_ACCESS"
	EventComplianceViolation EventType = "COMPLIANCE_VIOLATION"
	EventDiagnostic          EventType = "DIAGNOSTIC"
	EventConfigChange        EventType = "CONFIG_CHANGE"
)

// Event is a single immutable audit record. The trail assigns ID, Timestamp,
// Sequence and the chain hashes on append; callers fill the rest.
type Event struct {
	ID          string           `json:"id"`
	Type        EventType        `json:"type"`
	Description string           `json:"description,omitempty"`
	ActorID     string           `json:"actor_id"`
	Resource    string           `json:"resource"`
	Action      string           `json:"action"`
	Metadata    map[string]Value `json:"metadata,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`

	Sequence     uint64 `json:"sequence"`
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// ValueKind discriminates the variants of a metadata Value.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindMap
)

// Value is a JSON-like metadata value: string, number, bool, or nested map.
// It replaces an open interface{} map so that consumers can switch on Kind
// exhaustively.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	m    map[string]Value
}

// String wraps a string metadata value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a numeric metadata value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps a boolean metadata value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map wraps a nested metadata map.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number variant.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the bool variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsMap returns the nested map variant.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// MarshalJSON renders the variant as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("audit: unknown metadata value kind %d", v.kind)
}

// UnmarshalJSON parses plain JSON back into the variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func valueFromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case string:
		return String(x), nil
	case float64:
		return Number(x), nil
	case bool:
		return Bool(x), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, inner := range x {
			nested, err := valueFromAny(inner)
			if err != nil {
				return Value{}, err
			}
			m[k] = nested
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("audit: unsupported metadata value type %T", raw)
	}
}
