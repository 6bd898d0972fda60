package gemini

import (
	"encoding/json"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/schema"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

// FromCanonical renders a protocol.Request (built by the Anthropic or
// OpenAI mapper's ToCanonical) into the upstream Gemini wire body, applying
// the same tool-schema sanitization and tool-argument rewriting the
// Gemini-native path runs in ToUpstream.
func FromCanonical(req *protocol.Request, rewriter *toolargs.Rewriter) ([]byte, error) {
	body := map[string]any{}

	if req.System != "" {
		body["systemInstruction"] = map[string]any{
			"role":  "user",
			"parts": []any{map[string]any{"text": req.System}},
		}
	}

	contents := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, buildContent(m, rewriter))
	}
	body["contents"] = contents

	if len(req.Tools) > 0 {
		decls := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Parameters
			if params != nil {
				params = schema.Sanitize(params).(map[string]any)
			}
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		body["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}

	genCfg := map[string]any{}
	if req.MaxTokens > 0 {
		genCfg["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	}
	if req.ThinkingBudget != nil {
		genCfg["thinkingConfig"] = map[string]any{
			"thinkingBudget":  *req.ThinkingBudget,
			"includeThoughts": true,
		}
	}
	if len(genCfg) > 0 {
		body["generationConfig"] = genCfg
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	raw = rewriteToolArgs(raw, rewriter)
	return raw, nil
}

func buildContent(m protocol.Message, rewriter *toolargs.Rewriter) map[string]any {
	role := string(m.Role)
	if role != "user" && role != "model" {
		role = "user"
	}
	parts := make([]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		if part := buildPart(p, rewriter); part != nil {
			parts = append(parts, part)
		}
	}
	return map[string]any{"role": role, "parts": parts}
}

func buildPart(p protocol.Part, rewriter *toolargs.Rewriter) map[string]any {
	switch v := p.(type) {
	case protocol.Text:
		return map[string]any{"text": v.Value}
	case protocol.InlineData:
		return map[string]any{"inlineData": map[string]any{"mimeType": v.MIMEType, "data": v.Data}}
	case protocol.Thought:
		part := map[string]any{"text": v.Text, "thought": true}
		if v.Signature != "" {
			part["thoughtSignature"] = v.Signature
		}
		return part
	case protocol.FunctionCall:
		args := v.Arguments
		if args == nil {
			args = map[string]any{}
		}
		if rewriter != nil {
			rewriter.RewriteOutbound(v.Name, args)
		}
		part := map[string]any{
			"functionCall": map[string]any{
				"id":   v.ID,
				"name": v.Name,
				"args": args,
			},
		}
		if v.Signature != "" {
			part["thoughtSignature"] = v.Signature
		}
		return part
	case protocol.FunctionResponse:
		response := v.Response
		if response == nil {
			response = map[string]any{}
		}
		if v.IsError {
			response = map[string]any{"error": response}
		}
		return map[string]any{
			"functionResponse": map[string]any{
				"id":       v.ID,
				"name":     v.Name,
				"response": response,
			},
		}
	default:
		return nil
	}
}
