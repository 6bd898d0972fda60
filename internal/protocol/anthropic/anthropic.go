// Package anthropic converts between the Anthropic Messages wire format and
// the gateway's canonical protocol.Request/Response model.
package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/schema"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

// minSignatureLength is the shortest thought signature the upstream ever
// issues for a genuine thinking turn; anything shorter is treated as absent,
// since replaying a too-short signature makes Gemini reject the whole
// request rather than merely ignore it.
const minSignatureLength = 50

// opusFourFiveSubstrings matches the Claude Code default of enabling
// thinking for Opus 4.5 even when the caller sends no thinking block.
var opusFourFiveSubstrings = []string{"opus-4-5", "opus-4.5"}

// ToCanonical parses an Anthropic Messages request body into the gateway's
// canonical request, stripping cache_control blocks the client may have
// echoed back from a previous turn, injecting the gateway identity into the
// system prompt, and resolving whether extended thinking should be enabled
// for this turn.
func ToCanonical(raw []byte, rewriter *toolargs.Rewriter) (*protocol.Request, error) {
	root := gjson.ParseBytes(raw)

	req := &protocol.Request{
		Model:     root.Get("model").String(),
		MaxTokens: int(root.Get("max_tokens").Int()),
		Stream:    root.Get("stream").Bool(),
	}
	if t := root.Get("temperature"); t.Exists() {
		v := t.Float()
		req.Temperature = &v
	}

	req.System = buildSystemInstruction(root.Get("system"))

	messages, err := buildMessages(root.Get("messages"), rewriter)
	if err != nil {
		return nil, err
	}
	req.Messages = messages

	req.Tools = buildTools(root.Get("tools"))

	if budget, enabled := resolveThinking(root, messages); enabled {
		req.ThinkingBudget = &budget
	}

	return req, nil
}

// buildSystemInstruction concatenates a string or array-of-text-block system
// prompt, drops any cache_control the client attached, and prepends the
// gateway identity block unless the caller already establishes one.
func buildSystemInstruction(sys gjson.Result) string {
	var parts []string
	switch {
	case sys.Type == gjson.String:
		parts = append(parts, sys.String())
	case sys.IsArray():
		sys.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			}
			return true
		})
	}
	return protocol.InjectIdentity(strings.Join(parts, "\n\n"))
}

func buildMessages(raw gjson.Result, rewriter *toolargs.Rewriter) ([]protocol.Message, error) {
	var out []protocol.Message
	var buildErr error
	raw.ForEach(func(_, m gjson.Result) bool {
		role := protocol.RoleUser
		if m.Get("role").String() == "assistant" {
			role = protocol.RoleAssistant
		}

		content := m.Get("content")
		var parts []protocol.Part

		if content.Type == gjson.String {
			if text := content.String(); text != "" && text != "(no content)" {
				parts = append(parts, protocol.Text{Value: text})
			}
		} else if content.IsArray() {
			content.ForEach(func(_, block gjson.Result) bool {
				p, err := buildPart(block, rewriter)
				if err != nil {
					buildErr = err
					return false
				}
				if p != nil {
					parts = append(parts, p)
				}
				return true
			})
		}

		out = append(out, protocol.Message{Role: role, Parts: parts})
		return buildErr == nil
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return out, nil
}

func buildPart(block gjson.Result, rewriter *toolargs.Rewriter) (protocol.Part, error) {
	switch block.Get("type").String() {
	case "text":
		return protocol.Text{Value: block.Get("text").String()}, nil

	case "thinking":
		return protocol.Thought{
			Text:      block.Get("thinking").String(),
			Signature: block.Get("signature").String(),
		}, nil

	case "image":
		source := block.Get("source")
		return protocol.InlineData{
			MIMEType: source.Get("media_type").String(),
			Data:     source.Get("data").String(),
		}, nil

	case "document":
		source := block.Get("source")
		if source.Get("type").String() != "base64" {
			return nil, nil
		}
		return protocol.InlineData{
			MIMEType: source.Get("media_type").String(),
			Data:     source.Get("data").String(),
		}, nil

	case "tool_use":
		var args map[string]any
		if raw := block.Get("input"); raw.Exists() {
			if err := json.Unmarshal([]byte(raw.Raw), &args); err != nil {
				return nil, err
			}
		}
		name := block.Get("name").String()
		if rewriter != nil && args != nil {
			rewriter.RewriteOutbound(name, args)
		}
		return protocol.FunctionCall{
			ID:        block.Get("id").String(),
			Name:      name,
			Arguments: args,
			Signature: block.Get("signature").String(),
		}, nil

	case "tool_result":
		return buildFunctionResponse(block), nil

	default:
		return nil, nil
	}
}

func buildFunctionResponse(block gjson.Result) protocol.Part {
	resp := map[string]any{}
	content := block.Get("content")
	switch {
	case content.Type == gjson.String:
		resp["result"] = content.String()
	case content.IsArray():
		var texts []string
		content.ForEach(func(_, b gjson.Result) bool {
			if b.Get("type").String() == "text" {
				texts = append(texts, b.Get("text").String())
			}
			return true
		})
		resp["result"] = strings.Join(texts, "\n")
	default:
		resp["result"] = ""
	}
	return protocol.FunctionResponse{
		ID:       block.Get("tool_use_id").String(),
		Response: resp,
		IsError:  block.Get("is_error").Bool(),
	}
}

func buildTools(raw gjson.Result) []protocol.ToolDefinition {
	var out []protocol.ToolDefinition
	raw.ForEach(func(_, t gjson.Result) bool {
		// Server-side tools (web_search, computer use) carry no
		// input_schema and are not function-call tools the gateway maps.
		if !t.Get("input_schema").Exists() {
			return true
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(t.Get("input_schema").Raw), &params); err == nil {
			params = schema.Sanitize(params).(map[string]any)
		}
		out = append(out, protocol.ToolDefinition{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Parameters:  params,
		})
		return true
	})
	return out
}

// resolveThinking decides whether extended thinking should be enabled for
// this turn: explicit request, defaulted on for Opus 4.5, then downgraded to
// disabled if the tail of the conversation is a tool-use chain with no prior
// thinking block, or if no signature long enough to satisfy the upstream is
// available anywhere in history.
func resolveThinking(root gjson.Result, messages []protocol.Message) (int, bool) {
	thinking := root.Get("thinking")
	enabled := thinking.Get("type").String() == "enabled"
	if !enabled && thinking.Exists() {
		return 0, false
	}
	if !thinking.Exists() {
		enabled = isOpusFourFive(root.Get("model").String())
	}
	if !enabled {
		return 0, false
	}

	if lastAssistantHasToolUseWithoutThinking(messages) {
		return 0, false
	}

	hasFunctionCalls := false
	for _, m := range messages {
		for _, p := range m.Parts {
			if _, ok := p.(protocol.FunctionCall); ok {
				hasFunctionCalls = true
			}
		}
	}
	if hasFunctionCalls && !hasValidSignature(messages) {
		return 0, false
	}

	budget := int(thinking.Get("budget_tokens").Int())
	return budget, true
}

func isOpusFourFive(model string) bool {
	lower := strings.ToLower(model)
	for _, s := range opusFourFiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func lastAssistantHasToolUseWithoutThinking(messages []protocol.Message) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != protocol.RoleAssistant {
			continue
		}
		hasToolUse, hasThinking := false, false
		for _, p := range messages[i].Parts {
			switch p.(type) {
			case protocol.FunctionCall:
				hasToolUse = true
			case protocol.Thought:
				hasThinking = true
			}
		}
		return hasToolUse && !hasThinking
	}
	return false
}

func hasValidSignature(messages []protocol.Message) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != protocol.RoleAssistant {
			continue
		}
		for _, p := range messages[i].Parts {
			if th, ok := p.(protocol.Thought); ok && len(th.Signature) >= minSignatureLength {
				return true
			}
		}
	}
	return false
}

// FromCanonical renders a canonical response as an Anthropic Messages API
// response body, restoring tool-call argument names to the caller's
// convention.
func FromCanonical(resp *protocol.Response, rewriter *toolargs.Rewriter) ([]byte, error) {
	var content []map[string]any
	for _, p := range resp.Message.Parts {
		switch v := p.(type) {
		case protocol.Text:
			content = append(content, map[string]any{"type": "text", "text": v.Value})
		case protocol.Thought:
			block := map[string]any{"type": "thinking", "thinking": v.Text}
			if v.Signature != "" {
				block["signature"] = v.Signature
			}
			content = append(content, block)
		case protocol.FunctionCall:
			args := v.Arguments
			if rewriter != nil && args != nil {
				rewriter.RewriteInbound(v.Name, args)
			}
			block := map[string]any{
				"type":  "tool_use",
				"id":    v.ID,
				"name":  v.Name,
				"input": args,
			}
			if v.Signature != "" {
				block["signature"] = v.Signature
			}
			content = append(content, block)
		case protocol.InlineData:
			content = append(content, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": v.MIMEType,
					"data":       v.Data,
				},
			})
		}
	}

	body := map[string]any{
		"type":        "message",
		"role":        "assistant",
		"model":       resp.Model,
		"content":     content,
		"stop_reason": stopReason(resp.StopReason),
		"usage": map[string]any{
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		},
	}
	return json.Marshal(body)
}

func stopReason(reason string) string {
	switch reason {
	case "":
		return "end_turn"
	default:
		return reason
	}
}
