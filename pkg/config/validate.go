package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidSettings wraps every validation failure so callers can branch
// on configuration errors without matching message text.
var ErrInvalidSettings = errors.New("config: invalid settings")

const settingsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "standards": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "enabled": {"type": "boolean"},
          "flags": {
            "type": "object",
            "additionalProperties": {"type": "boolean"}
          },
          "rules": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "expr": {"type": "string", "minLength": 1},
                "category": {"type": "string", "minLength": 1},
                "severity": {"enum": ["critical", "high", "medium", "low"]},
                "title": {"type": "string", "minLength": 1}
              },
              "required": ["name", "expr", "category", "severity", "title"]
            }
          }
        },
        "required": ["enabled"]
      }
    },
    "audit": {
      "type": "object",
      "properties": {
        "retention_days": {"type": "integer", "minimum": 1},
        "log_level": {"enum": ["basic", "detailed", "comprehensive"]}
      },
      "required": ["retention_days", "log_level"]
    },
    "schedule": {
      "type": "object",
      "properties": {
        "interval_minutes": {"type": "integer", "minimum": 1},
        "evaluator_timeout_seconds": {"type": "integer", "minimum": 1},
        "min_cycle_seconds": {"type": "integer", "minimum": 0}
      },
      "required": ["interval_minutes", "evaluator_timeout_seconds"]
    }
  },
  "required": ["standards", "audit", "schedule"]
}`

var compiledSchema = jsonschema.MustCompileString("settings.schema.json", settingsSchema)

// Validate checks the settings against the embedded JSON Schema. Any
// failure is returned wrapped in ErrInvalidSettings.
func (s *Settings) Validate() error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrInvalidSettings, err)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidSettings, err)
	}

	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}
