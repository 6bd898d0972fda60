package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactSensitiveJSON_RedactsKnownKeys(t *testing.T) {
	in := []byte(`{"access_token":"secret-value","model":"gemini-2.5-pro"}`)
	out := RedactSensitiveJSON(in)
	require.Contains(t, string(out), `"[REDACTED]"`)
	require.Contains(t, string(out), `"gemini-2.5-pro"`)
	require.NotContains(t, string(out), "secret-value")
}

func TestRedactSensitiveJSON_NonJSONPassesThrough(t *testing.T) {
	in := []byte("not json at all")
	require.Equal(t, in, RedactSensitiveJSON(in))
}

func TestMaskSensitiveQuery_RedactsClientAPIKeyParam(t *testing.T) {
	out := MaskSensitiveQuery("key=super-secret&model=gemini-2.5-pro")
	require.Contains(t, out, "model=gemini-2.5-pro")
	require.NotContains(t, out, "super-secret")
}

func TestMaskSensitiveQuery_EmptyQueryUnchanged(t *testing.T) {
	require.Equal(t, "", MaskSensitiveQuery(""))
}
