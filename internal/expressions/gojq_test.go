package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practiq/automation/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())
}

func TestJQ_FieldExtraction(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"response": map[string]any{
			"id":     "lead-42",
			"status": "qualified",
		},
	}

	out, err := e.Evaluate(context.Background(), ".response.status", data)
	require.NoError(t, err)
	assert.Equal(t, "qualified", out)
}

func TestJQ_Reshape(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"items": []any{
			map[string]any{"name": "a", "value": 1},
			map[string]any{"name": "b", "value": 2},
		},
	}

	out, err := e.Evaluate(context.Background(), "{names: [.items[].name]}", data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"names": []any{"a", "b"}}, out)
}

func TestJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{"items": []any{1, 2, 3}}

	out, err := e.Evaluate(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, out)
}

func TestJQ_IntegersNormalizedToFloat(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".count * 2", map[string]any{"count": 3})
	require.NoError(t, err)
	assert.Equal(t, float64(6), out)
}

func TestJQ_EnvAccessBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[unclosed", map[string]any{})
	require.Error(t, err)
	var autoErr *schema.AutomationError
	require.ErrorAs(t, err, &autoErr)
	assert.Equal(t, schema.ErrCodeValidation, autoErr.Code)
}
