package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/practiq/automation/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://practiq.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "object_type", "trigger_type", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "object_type": { "type": "string", "minLength": 1 },
    "trigger_type": {
      "type": "string",
      "enum": ["record_created", "record_updated", "field_change", "stage_change", "schedule"]
    },
    "trigger_config": {
      "type": "object",
      "properties": {
        "field": { "type": "string" },
        "from": { "type": "string" },
        "to": { "type": "string" },
        "cron": { "type": "string" }
      },
      "additionalProperties": false
    },
    "entry_criteria": {
      "type": "array",
      "items": { "$ref": "#/$defs/condition" }
    },
    "entry_match_mode": { "type": "string", "enum": ["all", "any"] },
    "reentry_mode": {
      "type": "string",
      "enum": ["allow_all", "no_reentry", "after_exit", "after_wait_days"]
    },
    "reentry_wait_days": { "type": "integer", "minimum": 0 },
    "active": { "type": "boolean" },
    "evaluation_order": { "type": "integer" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["key", "kind"],
      "properties": {
        "key": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["trigger", "send_email", "send_sms", "create_task", "update_field", "wait", "decision", "webhook", "end"]
        },
        "config": {},
        "condition": { "$ref": "#/$defs/condition" },
        "branches": {
          "type": "array",
          "items": { "$ref": "#/$defs/branch" }
        },
        "next_step_key": { "type": "string" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "properties": {
        "field": { "type": "string" },
        "operator": {
          "type": "string",
          "enum": ["equals", "not_equals", "contains", "not_contains", "starts_with", "ends_with", "is_empty", "is_not_empty", "greater_than", "less_than", "greater_or_equal", "less_or_equal", "in_list", "not_in_list"]
        },
        "value": {},
        "expression": { "type": "string" },
        "engine": { "type": "string", "enum": ["", "cel", "expr", "jq"] }
      },
      "additionalProperties": false
    },
    "branch": {
      "type": "object",
      "required": ["key"],
      "properties": {
        "key": { "type": "string", "minLength": 1 },
        "groups": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["conditions"],
            "properties": {
              "conditions": {
                "type": "array",
                "items": { "$ref": "#/$defs/condition" }
              },
              "match_mode": { "type": "string", "enum": ["all", "any"] }
            },
            "additionalProperties": false
          }
        },
        "match_mode": { "type": "string", "enum": ["all", "any"] },
        "next_step_key": { "type": "string" },
        "default": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates workflow definitions against the embedded
// JSON Schema (Draft 2020-12). Safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the cache for dynamically compiled config schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://practiq.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://practiq.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a WorkflowDefinition against the workflow schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		return toAutomationError(err)
	}
	return nil
}

// ValidateAgainst validates a document against a caller-supplied JSON Schema.
// Compiled schemas are cached by their source text.
func (v *JSONSchemaValidator) ValidateAgainst(doc map[string]any, schemaBytes []byte) error {
	if len(schemaBytes) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(schemaBytes)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}

	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize document").WithCause(err)
	}

	if err := compiled.Validate(value); err != nil {
		return toAutomationError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("practiq://dynamic-schema/%d", len(v.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding so numeric values
// become json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAutomationError converts a jsonschema.ValidationError into an
// AutomationError with one message per leaf violation.
func toAutomationError(err error) *schema.AutomationError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
