package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "taskline://config.schema.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "auth": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "allow_anonymous_task_read": {"type": "boolean"},
        "allow_legacy_actor_header": {"type": "boolean"},
        "admins": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
        "issuer": {"type": "string"},
        "access_token_ttl": {"type": "string"},
        "refresh_token_ttl": {"type": "string"}
      }
    },
    "audit": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "write_retries": {"type": "integer", "minimum": 0, "maximum": 5}
      }
    },
    "tasks": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "assignee_fields": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
        "due_soon_days": {"type": "integer", "minimum": 0}
      }
    },
    "roles": {
      "type": ["object", "null"],
      "propertyNames": {"pattern": "^[a-z][a-z0-9_.-]*$"},
      "additionalProperties": {
        "type": ["object", "null"],
        "additionalProperties": false,
        "properties": {"description": {"type": "string"}}
      }
    },
    "log": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["", "debug", "info", "warn", "warning", "error", "fatal"]},
        "format": {"enum": ["", "text", "json", "logfmt"]}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load config schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// validateSchema checks v against the config JSON Schema. v is normalized
// through a JSON round trip first so YAML documents and Config values are
// validated the same way.
func validateSchema(v any) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal config for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal config for validation: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return schemaError(err)
	}
	return nil
}

func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("invalid config: %w", err)
	}
	var msgs []string
	collectCauses(ve, &msgs)
	sort.Strings(msgs)
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func collectCauses(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := strings.TrimPrefix(strings.ReplaceAll(ve.InstanceLocation, "/", "."), ".")
		if loc == "" {
			loc = "config"
		} else {
			loc = "config." + loc
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.Message))
		return
	}
	for _, c := range ve.Causes {
		collectCauses(c, out)
	}
}
