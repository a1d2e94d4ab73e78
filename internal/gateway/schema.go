package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// submissionSchema is the contract the exam platform enforces on
// incoming submissions. Validating locally surfaces malformed records
// before they burn a delivery attempt.
const submissionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "proctord/submission-v1.schema.json",
  "type": "object",
  "required": ["sessionId", "examId", "studentId", "answers", "score", "maxScore", "flags", "startedAt", "submittedAt"],
  "properties": {
    "sessionId": {"type": "string", "minLength": 1},
    "examId": {"type": "string", "minLength": 1},
    "studentId": {"type": "string", "minLength": 1},
    "answers": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "score": {"type": "integer", "minimum": 0},
    "maxScore": {"type": "integer", "minimum": 0},
    "flags": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "message", "timestamp", "hash", "previousHash"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "message": {"type": "string"},
          "timestamp": {"type": "string"},
          "hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
          "previousHash": {"type": "string", "minLength": 1}
        }
      }
    },
    "captures": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["image", "reason", "timestamp"],
        "properties": {
          "image": {"type": "string"},
          "reason": {"type": "string", "minLength": 1},
          "timestamp": {"type": "string"}
        }
      }
    },
    "biometricProfile": {
      "type": "object",
      "required": ["avgDwellTime", "avgFlightTime", "sampleCount"],
      "properties": {
        "avgDwellTime": {"type": "number", "minimum": 0},
        "avgFlightTime": {"type": "number", "minimum": 0},
        "sampleCount": {"type": "integer", "minimum": 0}
      }
    },
    "terminationReason": {"type": "string"}
  }
}`

var (
	schemaOnce sync.Once
	schemaErr  error
	compiled   *jsonschema.Schema
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("submission-v1.schema.json",
			strings.NewReader(submissionSchema)); err != nil {
			schemaErr = fmt.Errorf("gateway: add schema resource: %w", err)
			return
		}
		compiled, schemaErr = compiler.Compile("submission-v1.schema.json")
	})
	return compiled, schemaErr
}

// ValidateRecord checks a marshaled submission against the platform
// contract.
func ValidateRecord(body []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		return fmt.Errorf("gateway: unmarshal record for validation: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("gateway: record fails submission schema: %w", err)
	}
	return nil
}
