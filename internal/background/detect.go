// Package background implements the shared heuristic used by both the
// scheduler and the model router to identify background/utility requests
// (title generation, conversation summaries) that should route to the
// cheapest available tier regardless of the model the caller named.
package background

import (
	"strings"
)

// MaxTokensThreshold is the max_tokens ceiling below which a single-turn
// request is treated as a background task.
const MaxTokensThreshold = 64

// haikuFamily matches Anthropic's smallest model family, used as a
// background-task signal regardless of prompt content.
func isHaikuFamily(model string) bool {
	return strings.Contains(strings.ToLower(model), "haiku")
}

// fingerprints are short, distinctive substrings found in the system or
// first-user-turn prompt of title/summary generation requests.
var fingerprints = []string{
	"generate a concise",
	"generate a short title",
	"summarize this conversation",
	"conversation summary",
	"title for this conversation",
	"chat title",
}

// Request is the minimal shape background detection needs from an inbound
// request, kept independent of any single wire protocol.
type Request struct {
	Model          string
	MaxTokens      int
	Turns          int
	FirstUserText  string
	SystemPrompt   string
}

// IsBackground reports whether req should be treated as a background task:
// a haiku-family model, a recognizable title/summary prompt fingerprint, or
// a single-turn request capped at a very small max_tokens.
func IsBackground(req Request) bool {
	if isHaikuFamily(req.Model) {
		return true
	}
	if matchesFingerprint(req.SystemPrompt) || matchesFingerprint(req.FirstUserText) {
		return true
	}
	if req.Turns <= 1 && req.MaxTokens > 0 && req.MaxTokens <= MaxTokensThreshold {
		return true
	}
	return false
}

func matchesFingerprint(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, fp := range fingerprints {
		if strings.Contains(lower, fp) {
			return true
		}
	}
	return false
}

// Background tier models, cheapest first. The model router's forced
// background route picks TargetModel below unless overridden.
const (
	TargetModelLite     = "gemini-2.5-flash-lite"
	TargetModelStandard = "gemini-2.5-flash"
)

// TargetModel resolves which background-tier model to route to. A request
// with a larger max_tokens budget (but still flagged background via prompt
// fingerprint) gets the standard flash tier instead of flash-lite.
func TargetModel(req Request) string {
	if req.MaxTokens > MaxTokensThreshold {
		return TargetModelStandard
	}
	return TargetModelLite
}
