package protocol

import "strings"

// identityBlock is the canonical system instruction prepended when the
// caller's own system instruction doesn't already establish an agentic
// coding-assistant identity.
const identityBlock = "You are an agentic coding assistant. Use absolute paths for all file " +
	"operations. Be proactive: when a task requires multiple steps, carry them out " +
	"without asking for unnecessary confirmation."

// identityToken is the literal marker (case-insensitive) that, if already
// present in the caller's system instruction, means the gateway must not
// inject its own identity block.
const identityToken = "antigravity"

// InjectIdentity prepends the canonical identity block to system unless
// system already mentions the identity token, case-insensitively. It never
// overrides or removes the caller's own instruction, only prepends ahead
// of it.
func InjectIdentity(system string) string {
	if strings.Contains(strings.ToLower(system), identityToken) {
		return system
	}
	if system == "" {
		return identityBlock
	}
	return identityBlock + "\n\n" + system
}
