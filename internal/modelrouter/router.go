package modelrouter

import (
	"regexp"
	"strings"

	"github.com/cloudcode-gateway/gateway/internal/background"
)

// WebSearchFallbackModel is the model a request is force-routed to when it
// carries a web-search tool the target model can't itself serve, matching
// the original source's WEB_SEARCH_FALLBACK_MODEL constant.
const WebSearchFallbackModel = "gemini-2.5-flash"

// FamilyRoute maps a regex over the caller's requested model name to a
// concrete upstream model.
type FamilyRoute struct {
	Pattern *regexp.Regexp
	Target  string
}

// Config is the model router's resolvable state, rebuilt whenever the
// configuration snapshot reloads.
type Config struct {
	// ExactMap is consulted before any family pattern; an exact hit always
	// wins.
	ExactMap map[string]string
	// Families is evaluated in order; the first matching pattern wins.
	Families []FamilyRoute
	// ForcedFeatureRoutes overrides both background detection and the exact
	// map, e.g. an operator-pinned "always use gemini-2.5-pro for opus"
	// rule.
	ForcedFeatureRoutes map[string]string
}

// ResolveRequest carries the request details the router's feature
// overrides key off: whether a web-search tool is present, and the
// background-task classification.
type ResolveRequest struct {
	RequestedModel string
	HasWebSearch   bool
	Background     background.Request
}

// Resolve implements the resolution order: background override, forced
// feature route, exact map, family regex, passthrough.
func Resolve(cfg Config, req ResolveRequest) string {
	if background.IsBackground(req.Background) {
		return background.TargetModel(req.Background)
	}
	if req.HasWebSearch {
		if target, ok := cfg.ForcedFeatureRoutes["web_search"]; ok && target != "" {
			return target
		}
		return WebSearchFallbackModel
	}
	if target, ok := cfg.ForcedFeatureRoutes[req.RequestedModel]; ok {
		return target
	}
	if target, ok := cfg.ExactMap[req.RequestedModel]; ok {
		return target
	}
	for _, fam := range cfg.Families {
		if fam.Pattern.MatchString(req.RequestedModel) {
			return fam.Target
		}
	}
	return req.RequestedModel
}

// Predefined family keys, per the configuration's family map.
const (
	FamilyClaude45 = "claude-4.5-series"
	FamilyClaude35 = "claude-3.5-series"
	FamilyGPT4     = "gpt-4-series"
	FamilyGPT4o    = "gpt-4o-series"
	FamilyGPT5     = "gpt-5-series"
)

// familyPattern pairs a predefined family key with the regex that
// recognizes it; order matters, since the first match wins.
type familyPattern struct {
	Key     string
	Pattern *regexp.Regexp
}

// familyPatterns is the fixed regex for each predefined family key. The
// configuration only supplies the *target* for each key (internal/config's
// FamilyMap); the recognition pattern itself is not operator-configurable,
// matching the closed predefined set in the model map's spec.
var familyPatterns = []familyPattern{
	{Key: FamilyClaude45, Pattern: regexp.MustCompile(`(?i)claude-(opus|sonnet|haiku)-4-5`)},
	{Key: FamilyClaude35, Pattern: regexp.MustCompile(`(?i)claude-3-5-(sonnet|haiku|opus)`)},
	{Key: FamilyGPT5, Pattern: regexp.MustCompile(`(?i)^gpt-5`)},
	{Key: FamilyGPT4o, Pattern: regexp.MustCompile(`(?i)^gpt-4o`)},
	{Key: FamilyGPT4, Pattern: regexp.MustCompile(`(?i)^gpt-4`)},
}

// BuildFamilies turns a family_key -> upstream_model_id map (as loaded from
// configuration) into the ordered FamilyRoute list Resolve consults, using
// the fixed declared order of familyPatterns. Unknown keys in familyMap are
// ignored; predefined keys missing from familyMap are skipped.
func BuildFamilies(familyMap map[string]string) []FamilyRoute {
	var families []FamilyRoute
	for _, fp := range familyPatterns {
		target, ok := familyMap[fp.Key]
		if !ok || target == "" {
			continue
		}
		families = append(families, FamilyRoute{Pattern: fp.Pattern, Target: target})
	}
	return families
}

// DefaultFamilyMap maps every predefined family key to its closest Gemini
// equivalent, following original_source's map_claude_model_to_gemini.
func DefaultFamilyMap() map[string]string {
	return map[string]string{
		FamilyClaude45: "gemini-3-pro-preview",
		FamilyClaude35: "gemini-2.5-pro",
		FamilyGPT5:     "gemini-3-pro-preview",
		FamilyGPT4o:    "gemini-2.5-pro",
		FamilyGPT4:     "gemini-2.5-pro",
	}
}

// DefaultConfig maps every known family to its closest Gemini equivalent,
// following original_source's map_claude_model_to_gemini.
func DefaultConfig() Config {
	return Config{
		ExactMap:            map[string]string{},
		Families:            BuildFamilies(DefaultFamilyMap()),
		ForcedFeatureRoutes: map[string]string{},
	}
}

// NormalizeModelName lowercases and trims a caller-provided model string
// for family matching without mutating the value actually dispatched.
func NormalizeModelName(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
