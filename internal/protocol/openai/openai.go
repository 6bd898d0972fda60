// Package openai converts between the OpenAI Chat Completions wire format
// and the gateway's canonical protocol.Request/Response model.
package openai

import (
	"encoding/json"
	"strings"

	openaisdk "github.com/sashabaranov/go-openai"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/schema"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

// backgroundReasoningEffortless mirrors the gateway's family-based routing:
// requests with an empty or "auto" reasoning effort don't request a
// thinking budget at all.
const noThinkingBudget = -1

// ToCanonical parses an OpenAI Chat Completions request into the gateway's
// canonical request. go-openai's ChatCompletionRequest covers the wire
// shape; the fields it doesn't model (extended thinking budget, Gemini-only
// knobs) are read directly off the raw body.
func ToCanonical(raw []byte, rewriter *toolargs.Rewriter) (*protocol.Request, error) {
	var wire openaisdk.ChatCompletionRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	req := &protocol.Request{
		Model:     wire.Model,
		MaxTokens: resolveMaxTokens(wire),
		Stream:    wire.Stream,
	}
	if wire.Temperature != 0 {
		v := float64(wire.Temperature)
		req.Temperature = &v
	}

	var system []string
	var messages []protocol.Message
	for _, m := range wire.Messages {
		if m.Role == openaisdk.ChatMessageRoleSystem {
			system = append(system, m.Content)
			continue
		}
		msg, err := buildMessage(m, rewriter)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	req.System = protocol.InjectIdentity(strings.Join(system, "\n\n"))
	req.Messages = messages

	req.Tools = buildTools(wire.Tools)

	if budget := resolveThinkingBudget(raw); budget != noThinkingBudget {
		req.ThinkingBudget = &budget
	}

	return req, nil
}

func resolveMaxTokens(wire openaisdk.ChatCompletionRequest) int {
	if wire.MaxCompletionTokens > 0 {
		return wire.MaxCompletionTokens
	}
	return wire.MaxTokens
}

func buildMessage(m openaisdk.ChatCompletionMessage, rewriter *toolargs.Rewriter) (protocol.Message, error) {
	role := protocol.RoleUser
	if m.Role == openaisdk.ChatMessageRoleAssistant {
		role = protocol.RoleAssistant
	}

	var parts []protocol.Part

	if m.Content != "" {
		parts = append(parts, protocol.Text{Value: m.Content})
	}
	for _, mp := range m.MultiContent {
		switch mp.Type {
		case openaisdk.ChatMessagePartTypeText:
			parts = append(parts, protocol.Text{Value: mp.Text})
		case openaisdk.ChatMessagePartTypeImageURL:
			if mp.ImageURL != nil {
				mime, data := splitDataURL(mp.ImageURL.URL)
				parts = append(parts, protocol.InlineData{MIMEType: mime, Data: data})
			}
		}
	}

	for _, tc := range m.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return protocol.Message{}, err
			}
		}
		if rewriter != nil && args != nil {
			rewriter.RewriteOutbound(tc.Function.Name, args)
		}
		parts = append(parts, protocol.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if m.Role == openaisdk.ChatMessageRoleTool {
		resp := map[string]any{"result": m.Content}
		parts = append(parts, protocol.FunctionResponse{
			ID:       m.ToolCallID,
			Response: resp,
		})
		role = protocol.RoleTool
	}

	return protocol.Message{Role: role, Parts: parts}, nil
}

// splitDataURL extracts the mime type and base64 payload from a data: URL;
// the SDK models image_url as a plain string field.
func splitDataURL(url string) (mime, data string) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", url
	}
	rest := url[len(prefix):]
	semi := strings.IndexByte(rest, ';')
	comma := strings.IndexByte(rest, ',')
	if semi < 0 || comma < 0 {
		return "", url
	}
	return rest[:semi], rest[comma+1:]
}

func buildTools(tools []openaisdk.Tool) []protocol.ToolDefinition {
	var out []protocol.ToolDefinition
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		var params map[string]any
		if t.Function.Parameters != nil {
			if b, err := json.Marshal(t.Function.Parameters); err == nil {
				if err := json.Unmarshal(b, &params); err == nil {
					params = schema.Sanitize(params).(map[string]any)
				}
			}
		}
		out = append(out, protocol.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
		})
	}
	return out
}

// resolveThinkingBudget reads the reasoning_effort field the SDK's
// ChatCompletionRequest doesn't model as a token budget and maps it onto an
// approximate Gemini thinking budget.
func resolveThinkingBudget(raw []byte) int {
	var probe struct {
		ReasoningEffort string `json:"reasoning_effort"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return noThinkingBudget
	}
	switch probe.ReasoningEffort {
	case "low":
		return 4096
	case "medium":
		return 12288
	case "high":
		return 24576
	default:
		return noThinkingBudget
	}
}

// FromCanonical renders a canonical response as an OpenAI Chat Completions
// response body.
func FromCanonical(resp *protocol.Response, rewriter *toolargs.Rewriter) ([]byte, error) {
	var text strings.Builder
	var toolCalls []openaisdk.ToolCall

	for _, p := range resp.Message.Parts {
		switch v := p.(type) {
		case protocol.Text:
			text.WriteString(v.Value)
		case protocol.FunctionCall:
			args := v.Arguments
			if rewriter != nil && args != nil {
				rewriter.RewriteInbound(v.Name, args)
			}
			argBytes, err := json.Marshal(args)
			if err != nil {
				return nil, err
			}
			toolCalls = append(toolCalls, openaisdk.ToolCall{
				ID:   v.ID,
				Type: openaisdk.ToolTypeFunction,
				Function: openaisdk.FunctionCall{
					Name:      v.Name,
					Arguments: string(argBytes),
				},
			})
		}
	}

	msg := openaisdk.ChatCompletionMessage{
		Role:      openaisdk.ChatMessageRoleAssistant,
		Content:   text.String(),
		ToolCalls: toolCalls,
	}

	body := openaisdk.ChatCompletionResponse{
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []openaisdk.ChatCompletionChoice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: finishReason(resp.StopReason, len(toolCalls) > 0),
			},
		},
		Usage: openaisdk.Usage{
			PromptTokens:     resp.InputTokens,
			CompletionTokens: resp.OutputTokens,
			TotalTokens:      resp.InputTokens + resp.OutputTokens,
		},
	}
	return json.Marshal(body)
}

func finishReason(reason string, hasToolCalls bool) openaisdk.FinishReason {
	if hasToolCalls {
		return openaisdk.FinishReasonToolCalls
	}
	switch reason {
	case "length":
		return openaisdk.FinishReasonLength
	default:
		return openaisdk.FinishReasonStop
	}
}
