// Package gemini implements the near-identity Gemini-native mapper: it
// passes the caller's request through largely unchanged, but still
// normalizes turn roles, repairs tool-call/tool-result adjacency, runs
// tool schemas through internal/schema.Sanitize, and rewrites tool
// arguments per internal/toolargs.
package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/cloudcode-gateway/gateway/internal/schema"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

// ToUpstream rewrites a caller-supplied Gemini-native request (raw JSON
// bytes under a top-level "contents"/"tools"/"systemInstruction" shape)
// into the shape the Cloud Code/Antigravity upstream expects: normalized
// roles, repaired tool-call adjacency, sanitized tool schemas, and
// rewritten tool-call arguments.
func ToUpstream(raw []byte, rewriter *toolargs.Rewriter) ([]byte, error) {
	out := append([]byte(nil), raw...)

	out = normalizeRoles(out)

	var err error
	out, err = repairToolAdjacency(out)
	if err != nil {
		// Tool-call normalization is a best-effort resilience feature;
		// fail open rather than hard-fail the whole request.
		out = append([]byte(nil), raw...)
	}

	out = sanitizeToolSchemas(out)
	out = rewriteToolArgs(out, rewriter)

	return out, nil
}

// normalizeRoles defaults missing or invalid content roles, alternating
// user/model starting from "user", matching the upstream's requirement
// that every content entry carry a valid role.
func normalizeRoles(raw []byte) []byte {
	contents := gjson.GetBytes(raw, "contents")
	if !contents.Exists() {
		return raw
	}
	prevRole := ""
	idx := 0
	contents.ForEach(func(_, value gjson.Result) bool {
		role := value.Get("role").String()
		if role != "user" && role != "model" {
			var newRole string
			switch prevRole {
			case "user":
				newRole = "model"
			default:
				newRole = "user"
			}
			raw, _ = sjson.SetBytes(raw, fmt.Sprintf("contents.%d.role", idx), newRole)
			role = newRole
		}
		prevRole = role
		idx++
		return true
	})
	return raw
}

// repairToolAdjacency ensures every model turn containing one or more
// functionCall parts is immediately followed by a user turn carrying the
// matching functionResponse parts, synthesizing a placeholder response for
// any call whose result the caller never sent. This mirrors the upstream
// requirement that tool calls and their results be adjacent turns.
func repairToolAdjacency(raw []byte) ([]byte, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return raw, err
	}
	contents, _ := root["contents"].([]any)
	if contents == nil {
		return raw, nil
	}

	callIDs := make(map[string]struct{})
	for _, cAny := range contents {
		for _, p := range partsOf(cAny) {
			if fc, _ := p["functionCall"].(map[string]any); fc != nil {
				if id, _ := fc["id"].(string); id != "" {
					callIDs[id] = struct{}{}
				}
			}
		}
	}

	responsesByID := make(map[string][]map[string]any)
	for _, cAny := range contents {
		for _, p := range partsOf(cAny) {
			fr, _ := p["functionResponse"].(map[string]any)
			if fr == nil {
				continue
			}
			id, _ := fr["id"].(string)
			if id == "" {
				continue
			}
			if _, ok := callIDs[id]; ok {
				responsesByID[id] = append(responsesByID[id], p)
			}
		}
	}

	for i, cAny := range contents {
		c, _ := cAny.(map[string]any)
		if c == nil {
			continue
		}
		parts, _ := c["parts"].([]any)
		kept := make([]any, 0, len(parts))
		for _, pAny := range parts {
			p, _ := pAny.(map[string]any)
			if fr, _ := p["functionResponse"].(map[string]any); fr != nil {
				if id, _ := fr["id"].(string); id != "" {
					if _, ok := callIDs[id]; ok {
						continue
					}
				}
			}
			kept = append(kept, pAny)
		}
		if len(kept) == 0 {
			delete(c, "parts")
		} else {
			c["parts"] = kept
		}
		contents[i] = c
	}

	type callInfo struct{ id, name string }
	outContents := make([]any, 0, len(contents))
	for _, cAny := range contents {
		c, _ := cAny.(map[string]any)
		if c == nil {
			continue
		}
		parts, _ := c["parts"].([]any)
		if parts == nil {
			continue
		}
		outContents = append(outContents, c)
		if c["role"] != "model" {
			continue
		}
		var calls []callInfo
		for _, pAny := range parts {
			p, _ := pAny.(map[string]any)
			fc, _ := p["functionCall"].(map[string]any)
			if fc == nil {
				continue
			}
			id, _ := fc["id"].(string)
			name, _ := fc["name"].(string)
			if id == "" {
				continue
			}
			calls = append(calls, callInfo{id: id, name: name})
		}
		if len(calls) == 0 {
			continue
		}
		respParts := make([]any, 0, len(calls))
		for _, call := range calls {
			if bucket := responsesByID[call.id]; len(bucket) > 0 {
				respParts = append(respParts, bucket[0])
				responsesByID[call.id] = bucket[1:]
				continue
			}
			respParts = append(respParts, map[string]any{
				"functionResponse": map[string]any{
					"id":   call.id,
					"name": call.name,
					"response": map[string]any{
						"result": fmt.Sprintf("tool_result missing for %s", call.id),
					},
				},
			})
		}
		outContents = append(outContents, map[string]any{"role": "user", "parts": respParts})
	}

	root["contents"] = outContents
	return json.Marshal(root)
}

func partsOf(contentAny any) []map[string]any {
	c, _ := contentAny.(map[string]any)
	if c == nil {
		return nil
	}
	partsAny, _ := c["parts"].([]any)
	out := make([]map[string]any, 0, len(partsAny))
	for _, pAny := range partsAny {
		if p, _ := pAny.(map[string]any); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// sanitizeToolSchemas runs every function declaration's parameter schema
// through internal/schema.Sanitize.
func sanitizeToolSchemas(raw []byte) []byte {
	tools := gjson.GetBytes(raw, "tools")
	if !tools.Exists() || !tools.IsArray() {
		return raw
	}
	for i, tool := range tools.Array() {
		decls := tool.Get("functionDeclarations")
		if !decls.Exists() || !decls.IsArray() {
			continue
		}
		for j, decl := range decls.Array() {
			params := decl.Get("parameters")
			if !params.Exists() {
				continue
			}
			var node map[string]any
			if err := json.Unmarshal([]byte(params.Raw), &node); err != nil {
				continue
			}
			cleaned := schema.Sanitize(node)
			b, err := json.Marshal(cleaned)
			if err != nil {
				continue
			}
			path := fmt.Sprintf("tools.%d.functionDeclarations.%d.parameters", i, j)
			raw, _ = sjson.SetRawBytes(raw, path, b)
		}
	}
	return raw
}

// rewriteToolArgs applies internal/toolargs to every functionCall's
// arguments found anywhere in contents.
func rewriteToolArgs(raw []byte, rewriter *toolargs.Rewriter) []byte {
	if rewriter == nil {
		return raw
	}
	contents := gjson.GetBytes(raw, "contents")
	if !contents.Exists() {
		return raw
	}
	contents.ForEach(func(ci, content gjson.Result) bool {
		content.Get("parts").ForEach(func(pi, part gjson.Result) bool {
			fc := part.Get("functionCall")
			if !fc.Exists() {
				return true
			}
			name := fc.Get("name").String()
			args := fc.Get("args")
			if !args.Exists() {
				return true
			}
			var argMap map[string]any
			if err := json.Unmarshal([]byte(args.Raw), &argMap); err != nil {
				return true
			}
			rewriter.RewriteOutbound(name, argMap)
			b, err := json.Marshal(argMap)
			if err != nil {
				return true
			}
			path := fmt.Sprintf("contents.%d.parts.%d.functionCall.args", ci.Int(), pi.Int())
			raw, _ = sjson.SetRawBytes(raw, path, b)
			return true
		})
		return true
	})
	return raw
}
