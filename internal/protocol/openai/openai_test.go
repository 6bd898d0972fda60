package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

func TestToCanonical_SplitsSystemAndInjectsIdentity(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o",
		"max_tokens": 256,
		"messages": [
			{"role": "system", "content": "Be terse."},
			{"role": "user", "content": "hi"}
		]
	}`)

	req, err := ToCanonical(raw, toolargs.New())
	require.NoError(t, err)
	require.Contains(t, req.System, "Be terse.")
	require.Contains(t, req.System, "agentic coding assistant")
	require.Len(t, req.Messages, 1)
	require.Equal(t, protocol.RoleUser, req.Messages[0].Role)
}

func TestToCanonical_ToolCallArgumentsRewritten(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o",
		"messages": [{
			"role": "assistant",
			"tool_calls": [{
				"id": "call_1",
				"type": "function",
				"function": {"name": "Read", "arguments": "{\"path\":\"/tmp/a.go\"}"}
			}]
		}]
	}`)

	req, err := ToCanonical(raw, toolargs.New())
	require.NoError(t, err)
	fc, ok := req.Messages[0].Parts[0].(protocol.FunctionCall)
	require.True(t, ok)
	require.Equal(t, "/tmp/a.go", fc.Arguments["file_path"])
}

func TestResolveThinkingBudget(t *testing.T) {
	require.Equal(t, 24576, resolveThinkingBudget([]byte(`{"reasoning_effort":"high"}`)))
	require.Equal(t, noThinkingBudget, resolveThinkingBudget([]byte(`{}`)))
}

func TestFromCanonical_ToolCallsSetFinishReason(t *testing.T) {
	resp := &protocol.Response{
		Model: "gpt-4o",
		Message: protocol.Message{
			Role: protocol.RoleAssistant,
			Parts: []protocol.Part{
				protocol.FunctionCall{ID: "call_1", Name: "Read", Arguments: map[string]any{"file_path": "/tmp/a.go"}},
			},
		},
	}
	out, err := FromCanonical(resp, toolargs.New())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	choices := decoded["choices"].([]any)
	choice := choices[0].(map[string]any)
	require.Equal(t, "tool_calls", choice["finish_reason"])
}
