package gemini

import (
	"testing"

	"github.com/tidwall/gjson"
	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

func TestFromCanonical_BuildsSystemInstructionAndContents(t *testing.T) {
	budget := 2048
	req := &protocol.Request{
		System: "be helpful",
		Messages: []protocol.Message{
			{Role: protocol.RoleUser, Parts: []protocol.Part{protocol.Text{Value: "hello"}}},
		},
		ThinkingBudget: &budget,
	}

	out, err := FromCanonical(req, toolargs.New())
	require.NoError(t, err)

	require.Equal(t, "be helpful", gjson.GetBytes(out, "systemInstruction.parts.0.text").String())
	require.Equal(t, "hello", gjson.GetBytes(out, "contents.0.parts.0.text").String())
	require.Equal(t, int64(2048), gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingBudget").Int())
}

func TestFromCanonical_RewritesToolCallArgsOutbound(t *testing.T) {
	req := &protocol.Request{
		Messages: []protocol.Message{
			{Role: protocol.RoleAssistant, Parts: []protocol.Part{
				protocol.FunctionCall{ID: "call_1", Name: "Grep", Arguments: map[string]any{"paths": []any{"/a", "/b"}}},
			}},
		},
	}

	out, err := FromCanonical(req, toolargs.New())
	require.NoError(t, err)

	require.Equal(t, "/a", gjson.GetBytes(out, "contents.0.parts.0.functionCall.args.path").String())
}

func TestFromCanonical_FunctionResponseErrorWrapped(t *testing.T) {
	req := &protocol.Request{
		Messages: []protocol.Message{
			{Role: protocol.RoleUser, Parts: []protocol.Part{
				protocol.FunctionResponse{ID: "call_1", Name: "Read", Response: map[string]any{"result": "boom"}, IsError: true},
			}},
		},
	}

	out, err := FromCanonical(req, toolargs.New())
	require.NoError(t, err)
	require.Equal(t, "boom", gjson.GetBytes(out, "contents.0.parts.0.functionResponse.response.error.result").String())
}
