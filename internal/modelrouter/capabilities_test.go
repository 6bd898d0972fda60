package modelrouter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetect_KnownModelReportsCapabilities(t *testing.T) {
	got := Detect("gemini-2.5-pro")
	require.True(t, got.SupportsThinking)
	require.True(t, got.SupportsImages)
	require.True(t, got.SupportsTools)
	require.True(t, got.SupportsGrounding)
}

func TestDetect_UnknownModelDisablesEverything(t *testing.T) {
	got := Detect("totally-unknown-model")
	require.False(t, got.SupportsThinking)
	require.False(t, got.SupportsImages)
	require.False(t, got.SupportsTools)
	require.False(t, got.SupportsGrounding)
}

func TestSupportsThinking_FlashLiteHasNoThinking(t *testing.T) {
	require.False(t, SupportsThinking("gemini-2.5-flash-lite"))
	require.True(t, SupportsThinking("gemini-2.5-pro"))
}

func TestKnownUpstreamIDs_ContainsDispatchTargets(t *testing.T) {
	ids := KnownUpstreamIDs()
	require.True(t, ids["gemini-2.5-pro"])
	require.True(t, ids["gemini-3-pro-preview"])
	require.False(t, ids["claude-opus-4-5-20251101"])
}
