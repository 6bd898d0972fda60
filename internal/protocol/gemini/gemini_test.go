package gemini

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

func TestNormalizeRoles_DefaultsAlternating(t *testing.T) {
	raw := []byte(`{"contents":[{"parts":[{"text":"hi"}]},{"role":"model","parts":[{"text":"hey"}]},{"parts":[{"text":"again"}]}]}`)
	out := normalizeRoles(raw)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	contents := decoded["contents"].([]any)
	require.Equal(t, "user", contents[0].(map[string]any)["role"])
	require.Equal(t, "model", contents[1].(map[string]any)["role"])
	require.Equal(t, "user", contents[2].(map[string]any)["role"])
}

func TestRepairToolAdjacency_SynthesizesMissingResponse(t *testing.T) {
	raw := []byte(`{"contents":[
		{"role":"user","parts":[{"text":"run it"}]},
		{"role":"model","parts":[{"functionCall":{"id":"call_1","name":"Read","args":{}}}]}
	]}`)

	out, err := repairToolAdjacency(raw)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	contents := decoded["contents"].([]any)
	require.Len(t, contents, 3)
	inserted := contents[2].(map[string]any)
	require.Equal(t, "user", inserted["role"])
	parts := inserted["parts"].([]any)
	fr := parts[0].(map[string]any)["functionResponse"].(map[string]any)
	require.Equal(t, "call_1", fr["id"])
}

func TestRepairToolAdjacency_MovesExistingResponseAdjacent(t *testing.T) {
	raw := []byte(`{"contents":[
		{"role":"model","parts":[{"functionCall":{"id":"call_1","name":"Read","args":{}}}]},
		{"role":"user","parts":[{"text":"unrelated"}]},
		{"role":"user","parts":[{"functionResponse":{"id":"call_1","name":"Read","response":{"result":"ok"}}}]}
	]}`)

	out, err := repairToolAdjacency(raw)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	contents := decoded["contents"].([]any)
	require.Len(t, contents, 3)
	afterCall := contents[1].(map[string]any)
	parts := afterCall["parts"].([]any)
	fr := parts[0].(map[string]any)["functionResponse"].(map[string]any)
	require.Equal(t, "ok", fr["response"].(map[string]any)["result"])
}

func TestSanitizeToolSchemas_RemovesUnsupportedKeys(t *testing.T) {
	raw := []byte(`{"tools":[{"functionDeclarations":[{"name":"Read","parameters":{"type":"object","additionalProperties":false,"properties":{"path":{"type":"string","minLength":1}}}}]}]}`)
	out := sanitizeToolSchemas(raw)
	require.NotContains(t, string(out), "additionalProperties")
	require.NotContains(t, string(out), "minLength")
}

func TestRewriteToolArgs_GrepPathsToPath(t *testing.T) {
	raw := []byte(`{"contents":[{"role":"model","parts":[{"functionCall":{"name":"Grep","args":{"paths":["/tmp/a.go"]}}}]}]}`)
	out := rewriteToolArgs(raw, toolargs.New())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	args := decoded["contents"].([]any)[0].(map[string]any)["parts"].([]any)[0].(map[string]any)["functionCall"].(map[string]any)["args"].(map[string]any)
	require.Equal(t, "/tmp/a.go", args["path"])
}
