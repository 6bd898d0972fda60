package modelrouter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/background"
)

func TestResolve_BackgroundOverridesEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExactMap["claude-haiku-4-5-20251001"] = "should-never-be-used"

	got := Resolve(cfg, ResolveRequest{
		RequestedModel: "claude-haiku-4-5-20251001",
		Background:     background.Request{Model: "claude-haiku-4-5-20251001", MaxTokens: 32, Turns: 1},
	})
	require.Equal(t, background.TargetModelLite, got)
}

func TestResolve_WebSearchForcesFallbackModel(t *testing.T) {
	cfg := DefaultConfig()
	got := Resolve(cfg, ResolveRequest{RequestedModel: "gpt-5", HasWebSearch: true})
	require.Equal(t, WebSearchFallbackModel, got)
}

func TestResolve_ExactMapOverridesFamilyRegex(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExactMap["gpt-5-codex"] = "gemini-3-pro-preview-pinned"

	got := Resolve(cfg, ResolveRequest{RequestedModel: "gpt-5-codex"})
	require.Equal(t, "gemini-3-pro-preview-pinned", got)
}

func TestResolve_FamilyRegexInDeclaredOrder(t *testing.T) {
	cfg := Config{
		ExactMap:            map[string]string{},
		Families:            BuildFamilies(DefaultFamilyMap()),
		ForcedFeatureRoutes: map[string]string{},
	}

	require.Equal(t, "gemini-3-pro-preview", Resolve(cfg, ResolveRequest{RequestedModel: "gpt-5-preview"}))
	require.Equal(t, "gemini-2.5-pro", Resolve(cfg, ResolveRequest{RequestedModel: "gpt-4o-mini"}))
	require.Equal(t, "gemini-2.5-pro", Resolve(cfg, ResolveRequest{RequestedModel: "gpt-4-turbo"}))
}

func TestResolve_PassthroughForUnmappedModel(t *testing.T) {
	cfg := DefaultConfig()
	got := Resolve(cfg, ResolveRequest{RequestedModel: "some-unmapped-model"})
	require.Equal(t, "some-unmapped-model", got)
}

func TestBuildFamilies_SkipsMissingKeys(t *testing.T) {
	families := BuildFamilies(map[string]string{FamilyGPT5: "gemini-3-pro-preview"})
	require.Len(t, families, 1)
	require.Equal(t, "gemini-3-pro-preview", families[0].Target)
}

func TestNormalizeModelName_LowercasesAndTrims(t *testing.T) {
	require.Equal(t, "gpt-5", NormalizeModelName("  GPT-5  "))
}
