package schema

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize_CleansToolSchema(t *testing.T) {
	raw := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "OBJECT",
		"additionalProperties": false,
		"properties": {
			"location": {
				"type": "STRING",
				"description": "The city and state, e.g. San Francisco, CA",
				"minLength": 1,
				"exclusiveMinimum": 0
			},
			"unit": {
				"type": ["string", "null"],
				"enum": ["celsius", "fahrenheit"],
				"default": "celsius"
			},
			"date": {
				"type": "string",
				"format": "date"
			}
		},
		"required": ["location"]
	}`
	var node map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &node))

	out := Sanitize(node).(map[string]any)

	_, hasSchema := out["$schema"]
	require.False(t, hasSchema)
	_, hasAdditional := out["additionalProperties"]
	require.False(t, hasAdditional)

	props := out["properties"].(map[string]any)
	location := props["location"].(map[string]any)
	_, hasMinLength := location["minLength"]
	require.False(t, hasMinLength)

	unit := props["unit"].(map[string]any)
	_, hasDefault := unit["default"]
	require.False(t, hasDefault)
	require.Equal(t, "string", unit["type"])

	date := props["date"].(map[string]any)
	_, hasFormat := date["format"]
	require.False(t, hasFormat)

	require.Equal(t, "object", out["type"])
	require.Equal(t, "string", location["type"])
	require.Equal(t, "string", date["type"])
}

func TestSanitize_Idempotent(t *testing.T) {
	raw := `{
		"type": ["integer", "null"],
		"anyOf": [{"type": "string", "description": "a string form"}, {"type": "number"}],
		"properties": {
			"nested": {"type": ["BOOLEAN", "null"], "enum": [true, false]}
		}
	}`
	var node map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &node))

	once := Sanitize(node)
	twice := Sanitize(once)

	a, err := json.Marshal(once)
	require.NoError(t, err)
	b, err := json.Marshal(twice)
	require.NoError(t, err)

	var av, bv any
	require.NoError(t, json.Unmarshal(a, &av))
	require.NoError(t, json.Unmarshal(b, &bv))
	if !reflect.DeepEqual(av, bv) {
		t.Fatalf("sanitize not idempotent: %s != %s", a, b)
	}
}
