package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

func TestToCanonical_InjectsIdentityAndStripsCacheControl(t *testing.T) {
	raw := []byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 1024,
		"system": [{"type": "text", "text": "Be concise.", "cache_control": {"type": "ephemeral"}}],
		"messages": [{"role": "user", "content": "hello"}]
	}`)

	req, err := ToCanonical(raw, toolargs.New())
	require.NoError(t, err)
	require.Contains(t, req.System, "Be concise.")
	require.Contains(t, req.System, "agentic coding assistant")
	require.Len(t, req.Messages, 1)
	require.Equal(t, protocol.RoleUser, req.Messages[0].Role)
}

func TestToCanonical_ToolUseRewritesGrepPaths(t *testing.T) {
	raw := []byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 512,
		"messages": [{
			"role": "assistant",
			"content": [{
				"type": "tool_use",
				"id": "call_1",
				"name": "Grep",
				"input": {"paths": ["/tmp/a.go"], "pattern": "foo"}
			}]
		}]
	}`)

	req, err := ToCanonical(raw, toolargs.New())
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 1)
	fc, ok := req.Messages[0].Parts[0].(protocol.FunctionCall)
	require.True(t, ok)
	require.Equal(t, "/tmp/a.go", fc.Arguments["path"])
	_, hasPaths := fc.Arguments["paths"]
	require.False(t, hasPaths)
}

func TestResolveThinking_DisabledWhenToolUseHistoryHasNoThinking(t *testing.T) {
	root := gjson.Parse(`{"model": "claude-opus-4-5", "messages": []}`)
	messages := []protocol.Message{
		{Role: protocol.RoleAssistant, Parts: []protocol.Part{
			protocol.FunctionCall{ID: "1", Name: "Read"},
		}},
	}
	budget, enabled := resolveThinking(root, messages)
	require.False(t, enabled)
	require.Equal(t, 0, budget)
}

func TestFromCanonical_RendersToolUseBlock(t *testing.T) {
	resp := &protocol.Response{
		Model: "claude-sonnet-4-5",
		Message: protocol.Message{
			Role: protocol.RoleAssistant,
			Parts: []protocol.Part{
				protocol.FunctionCall{ID: "call_1", Name: "Grep", Arguments: map[string]any{"path": "/tmp/a.go"}},
			},
		},
	}
	out, err := FromCanonical(resp, toolargs.New())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	content := decoded["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	require.Equal(t, "tool_use", block["type"])
	input := block["input"].(map[string]any)
	require.Equal(t, []any{"/tmp/a.go"}, input["paths"])
}

