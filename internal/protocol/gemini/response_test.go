package gemini

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
)

func TestParseResponse_ExtractsTextAndUsage(t *testing.T) {
	raw := []byte(`{
		"candidates":[{"content":{"parts":[{"text":"hi there"}]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":4}
	}`)

	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, 10, resp.InputTokens)
	require.Equal(t, 4, resp.OutputTokens)
	require.Len(t, resp.Message.Parts, 1)
	require.Equal(t, protocol.Text{Value: "hi there"}, resp.Message.Parts[0])
}

func TestParseResponse_ExtractsFunctionCallWithSignature(t *testing.T) {
	raw := []byte(`{
		"candidates":[{"content":{"parts":[
			{"functionCall":{"id":"call_1","name":"Read","args":{"file_path":"/a"}},"thoughtSignature":"abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz1234"}
		]},"finishReason":"STOP"}]
	}`)

	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, resp.Message.Parts, 1)
	fc, ok := resp.Message.Parts[0].(protocol.FunctionCall)
	require.True(t, ok)
	require.Equal(t, "call_1", fc.ID)
	require.Equal(t, "/a", fc.Arguments["file_path"])
	require.NotEmpty(t, fc.Signature)
}

func TestParseResponse_NoCandidatesReturnsEmptyMessage(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"candidates":[]}`))
	require.NoError(t, err)
	require.Equal(t, protocol.RoleAssistant, resp.Message.Role)
	require.Empty(t, resp.Message.Parts)
}
