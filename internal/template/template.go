package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/practiq/automation/pkg/schema"
)

// Scope holds the data available for placeholder resolution.
type Scope struct {
	Record map[string]any // record snapshot, bare field names resolve here
	Steps  map[string]map[string]any
}

// ScopeFrom builds a Scope from an execution context.
func ScopeFrom(ec *schema.ExecutionContext) *Scope {
	if ec == nil {
		return &Scope{}
	}
	return &Scope{Record: ec.Record, Steps: ec.StepResults}
}

// Render resolves {{field}} placeholders in a template string.
// Bare names ({{first_name}}) and record-prefixed names ({{record.first_name}})
// resolve against the record snapshot; {{steps.<key>.<field>}} resolves against
// completed step outputs. Dots traverse nested maps. A placeholder that resolves
// to nothing renders as an empty string.
func Render(tmpl string, scope *Scope) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	if scope == nil {
		scope = &Scope{}
	}

	var result strings.Builder
	result.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		idx := strings.Index(tmpl[i:], "{{")
		if idx == -1 {
			result.WriteString(tmpl[i:])
			break
		}

		// Write everything before the marker.
		result.WriteString(tmpl[i : i+idx])
		start := i + idx + 2 // skip "{{".

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed {{ placeholder")
		}
		end += start

		name := strings.TrimSpace(tmpl[start:end])
		if name == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty placeholder: {{ }}")
		}
		if strings.Contains(name, "{{") {
			return "", schema.NewError(schema.ErrCodeValidation,
				"nested placeholders are not allowed")
		}

		result.WriteString(stringify(resolve(name, scope)))
		i = end + 2 // skip "}}".
	}

	return result.String(), nil
}

// RenderJSON resolves placeholders inside a raw JSON config blob, returning
// the rendered bytes. Placeholder values are embedded as text, so the caller
// is expected to keep placeholders inside JSON strings.
func RenderJSON(raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	rendered, err := Render(string(raw), scope)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(rendered), nil
}

// resolve looks up a placeholder name in the scope. Missing paths yield nil.
func resolve(name string, scope *Scope) any {
	if rest, ok := strings.CutPrefix(name, "steps."); ok {
		parts := strings.SplitN(rest, ".", 2)
		out, ok := scope.Steps[parts[0]]
		if !ok {
			return nil
		}
		if len(parts) == 1 {
			return out
		}
		return traverse(out, parts[1])
	}

	path := strings.TrimPrefix(name, "record.")
	if scope.Record == nil {
		return nil
	}
	// Direct key lookup first (supports field names containing dots).
	if val, ok := scope.Record[path]; ok {
		return val
	}
	return traverse(scope.Record, path)
}

// traverse navigates into nested maps using a dot-delimited path.
func traverse(root any, path string) any {
	current := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

// stringify converts a resolved value to its textual form.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
