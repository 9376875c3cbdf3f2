package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON is the document schema for experiment config files. Validation
// happens before decoding so that shape errors surface with schema paths
// instead of decoder noise.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "backends": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "address"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "address": {"type": "string", "minLength": 1}
        }
      }
    },
    "job_count": {"type": "integer", "minimum": 0},
    "concurrency": {"type": "integer", "minimum": 0},
    "max_phases": {"type": "integer", "minimum": 0},
    "default_backend": {"type": "string"},
    "jobs": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "default_backend": {"type": "string"},
          "seed": {"type": "integer"},
          "assignments": {
            "type": "object",
            "propertyNames": {
              "enum": ["austria", "england", "france", "germany", "italy", "russia", "turkey"]
            },
            "additionalProperties": {
              "type": "object",
              "additionalProperties": false,
              "properties": {
                "backend": {"type": "string"},
                "address": {"type": "string"},
                "overrides": {"type": "object"}
              }
            }
          }
        }
      }
    },
    "output_dir": {"type": "string"},
    "analyze": {"type": "boolean"},
    "log_level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
    "engine": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "phase_delay": {"type": ["string", "integer"]},
        "negotiation_rounds": {"type": "integer", "minimum": 0}
      }
    },
    "pricing": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["key"],
        "properties": {
          "key": {"type": "string", "minLength": 1},
          "input_per_1m": {"type": "number", "minimum": 0},
          "output_per_1m": {"type": "number", "minimum": 0}
        }
      }
    },
    "budget": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_power_cost": {"type": "number", "minimum": 0},
        "max_job_cost": {"type": "number", "minimum": 0},
        "warn_threshold": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1}
      }
    }
  }
}`

var documentSchema = jsonschema.MustCompileString("experiment.schema.json", schemaJSON)

// ValidateDocument checks a JSON-encoded experiment document against the
// config schema.
func ValidateDocument(jsonBytes []byte) error {
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return configErrf("parse config document: %v", err)
	}
	if err := documentSchema.Validate(doc); err != nil {
		msg := err.Error()
		// The validator's multi-line detail is noisy in CLI output.
		if i := strings.IndexByte(msg, '\n'); i > 0 {
			msg = msg[:i]
		}
		return fmt.Errorf("%w: schema validation failed: %s", ErrInvalidConfig, msg)
	}
	return nil
}
