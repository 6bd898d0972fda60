// Package modelrouter resolves a caller-provided model name into the
// Gemini-family model the gateway actually dispatches to, and exposes the
// capability table used to gate thinking-budget and other per-model
// features.
package modelrouter

// ThinkingSupport describes a model's extended-thinking budget range.
type ThinkingSupport struct {
	Min            int
	Max            int
	ZeroAllowed    bool
	DynamicAllowed bool
	Levels         []string
}

// ModelInfo is the gateway's own capability record, self-contained because
// the teacher's ModelInfo/ThinkingSupport types live outside this
// retrieval pack (see DESIGN.md).
type ModelInfo struct {
	ID              string
	DisplayName     string
	Family          string
	ContextLength   int
	MaxOutput       int
	Thinking        *ThinkingSupport
	SupportsImages  bool
	SupportsTools   bool
	SupportsGround  bool
}

// Capability is the model router's per-model feature detection result,
// consulted by the dispatcher and mappers before deciding whether to build
// a thinking budget, attach images, forward tool definitions, or expect
// grounding metadata back.
type Capability struct {
	SupportsThinking  bool
	SupportsImages    bool
	SupportsTools     bool
	SupportsGrounding bool
}

// Detect resolves modelID's capability record. Unknown model ids get the
// conservative default of every optional feature disabled.
func Detect(modelID string) Capability {
	m, ok := Capabilities(modelID)
	if !ok {
		return Capability{}
	}
	return Capability{
		SupportsThinking:  m.Thinking != nil,
		SupportsImages:    m.SupportsImages,
		SupportsTools:     m.SupportsTools,
		SupportsGrounding: m.SupportsGround,
	}
}

// KnownUpstreamIDs returns the set of Gemini model ids the gateway actually
// dispatches to, used by the model router's passthrough resolution step.
func KnownUpstreamIDs() map[string]bool {
	out := make(map[string]bool, len(geminiModels))
	for _, m := range geminiModels {
		out[m.ID] = true
	}
	return out
}

// claudeModels mirrors the teacher's GetClaudeModels data values.
var claudeModels = []ModelInfo{
	{
		ID: "claude-haiku-4-5-20251001", DisplayName: "Claude 4.5 Haiku", Family: "haiku",
		ContextLength: 200000, MaxOutput: 64000,
		SupportsImages: true, SupportsTools: true,
	},
	{
		ID: "claude-sonnet-4-5-20250929", DisplayName: "Claude 4.5 Sonnet", Family: "sonnet",
		ContextLength: 200000, MaxOutput: 64000,
		Thinking:       &ThinkingSupport{Min: 1024, Max: 100000, ZeroAllowed: false, DynamicAllowed: true},
		SupportsImages: true, SupportsTools: true, SupportsGround: true,
	},
	{
		ID: "claude-opus-4-5-20251101", DisplayName: "Claude 4.5 Opus", Family: "opus",
		ContextLength: 200000, MaxOutput: 64000,
		Thinking:       &ThinkingSupport{Min: 1024, Max: 100000, ZeroAllowed: false, DynamicAllowed: true},
		SupportsImages: true, SupportsTools: true, SupportsGround: true,
	},
}

// geminiModels mirrors the teacher's GetGeminiModels data values; this is
// also the gateway's actual upstream target set.
var geminiModels = []ModelInfo{
	{
		ID: "gemini-3-pro-preview", DisplayName: "Gemini 3 Pro Preview", Family: "pro",
		ContextLength: 2097152, MaxOutput: 65536,
		Thinking:       &ThinkingSupport{Min: 128, Max: 32768, ZeroAllowed: false, DynamicAllowed: true},
		SupportsImages: true, SupportsTools: true, SupportsGround: true,
	},
	{
		ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Family: "pro",
		ContextLength: 1048576, MaxOutput: 65536,
		Thinking:       &ThinkingSupport{Min: 128, Max: 32768, ZeroAllowed: false, DynamicAllowed: true},
		SupportsImages: true, SupportsTools: true, SupportsGround: true,
	},
	{
		ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Family: "flash",
		ContextLength: 1048576, MaxOutput: 65536,
		Thinking:       &ThinkingSupport{Min: 0, Max: 24576, ZeroAllowed: true, DynamicAllowed: true},
		SupportsImages: true, SupportsTools: true, SupportsGround: true,
	},
	{
		ID: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash Lite", Family: "flash-lite",
		ContextLength: 1048576, MaxOutput: 65536,
		Thinking:       &ThinkingSupport{Min: 0, Max: 24576, ZeroAllowed: true, DynamicAllowed: true},
		SupportsImages: true, SupportsTools: true,
	},
}

func allModels() []ModelInfo {
	out := make([]ModelInfo, 0, len(claudeModels)+len(geminiModels))
	out = append(out, claudeModels...)
	out = append(out, geminiModels...)
	return out
}

// Capabilities returns the capability record for an exact model ID.
func Capabilities(modelID string) (ModelInfo, bool) {
	for _, m := range allModels() {
		if m.ID == modelID {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// SupportsThinking reports whether modelID has any thinking-budget support
// at all.
func SupportsThinking(modelID string) bool {
	m, ok := Capabilities(modelID)
	return ok && m.Thinking != nil
}
