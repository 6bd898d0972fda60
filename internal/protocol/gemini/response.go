package gemini

import (
	"encoding/json"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
)

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text             string          `json:"text"`
				Thought          bool            `json:"thought"`
				ThoughtSignature string          `json:"thoughtSignature"`
				InlineData       *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
				FunctionCall *struct {
					ID   string          `json:"id"`
					Name string          `json:"name"`
					Args json.RawMessage `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// ParseResponse decodes a non-streaming upstream Gemini response body into
// the canonical protocol.Response, for the Anthropic/OpenAI mappers'
// FromCanonical to render back into the client's wire protocol.
func ParseResponse(raw []byte) (*protocol.Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	resp := &protocol.Response{Model: wire.ModelVersion, InputTokens: wire.UsageMetadata.PromptTokenCount, OutputTokens: wire.UsageMetadata.CandidatesTokenCount}
	if len(wire.Candidates) == 0 {
		resp.Message = protocol.Message{Role: protocol.RoleAssistant}
		return resp, nil
	}

	cand := wire.Candidates[0]
	var parts []protocol.Part
	var citations []protocol.Citation

	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			var args map[string]any
			if len(p.FunctionCall.Args) > 0 {
				_ = json.Unmarshal(p.FunctionCall.Args, &args)
			}
			parts = append(parts, protocol.FunctionCall{
				ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Arguments: args,
				Signature: p.ThoughtSignature,
			})
		case p.InlineData != nil:
			parts = append(parts, protocol.InlineData{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		case p.Thought:
			parts = append(parts, protocol.Thought{Text: p.Text, Signature: p.ThoughtSignature})
		case p.Text != "":
			parts = append(parts, protocol.Text{Value: p.Text})
		}
	}

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			citations = append(citations, protocol.Citation{URL: chunk.Web.URI, Title: chunk.Web.Title})
		}
		if len(citations) > 0 {
			parts = append(parts, protocol.GroundingMetadata{Citations: citations})
		}
	}

	resp.Message = protocol.Message{Role: protocol.RoleAssistant, Parts: parts}
	resp.StopReason = mapFinishReason(cand.FinishReason)
	return resp, nil
}

// mapFinishReason normalizes the upstream's finishReason values to the
// canonical set the protocol mappers' FromCanonical switches on, matching
// internal/streaming's mapping for the non-streaming response path.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	case "":
		return ""
	default:
		return "stop"
	}
}
