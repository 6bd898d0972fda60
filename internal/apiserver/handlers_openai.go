package apiserver

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	openaisdk "github.com/sashabaranov/go-openai"

	"github.com/cloudcode-gateway/gateway/internal/logging"
	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/protocol/openai"
	"github.com/cloudcode-gateway/gateway/internal/streaming"
)

// ChatCompletions serves POST /v1/chat/completions and
// POST /chat/completions, streaming and non-streaming.
func ChatCompletions(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
			return
		}

		canonical, err := openai.ToCanonical(raw, deps.Rewriter)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid chat completion request"}})
			return
		}
		logging.SetModel(c, canonical.Model)

		if canonical.Stream {
			streamChatCompletion(c, deps, canonical)
			return
		}

		resp, model, err := runNonStreaming(c.Request.Context(), deps, canonical)
		if err != nil {
			writeError(c, err)
			return
		}
		logging.SetModel(c, model)

		body, err := openai.FromCanonical(resp, deps.Rewriter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}

func streamChatCompletion(c *gin.Context, deps Dependencies, canonical *protocol.Request) {
	stream, model, err := openStreaming(c.Request.Context(), deps, canonical)
	if err != nil {
		writeError(c, err)
		return
	}
	defer stream.Body.Close()
	logging.SetModel(c, model)

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := newOpenAIStreamWriter(c.Writer, c.Writer.Flush, "chatcmpl-"+uuid.NewString(), model, deps.Rewriter)
	pending := streaming.NewPendingStream(model)
	buf := make([]byte, 4096)
	for {
		n, readErr := stream.Body.Read(buf)
		if n > 0 {
			for _, d := range pending.Feed(buf[:n]) {
				if writeErr := writer.WriteDelta(d); writeErr != nil {
					return
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	writer.WriteDone()
}

// Completions serves the legacy POST /v1/completions endpoint, translating
// a single-prompt request into a one-turn chat completion and rendering the
// result back into the legacy text-completion shape.
func Completions(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var legacy struct {
			Model       string  `json:"model"`
			Prompt      string  `json:"prompt"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float32 `json:"temperature"`
			Stream      bool    `json:"stream"`
		}
		if err := c.ShouldBindJSON(&legacy); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid completion request"}})
			return
		}

		canonical := &protocol.Request{
			Model:     legacy.Model,
			MaxTokens: legacy.MaxTokens,
			Stream:    legacy.Stream,
			Messages:  []protocol.Message{{Role: protocol.RoleUser, Parts: []protocol.Part{protocol.Text{Value: legacy.Prompt}}}},
		}
		if legacy.Temperature != 0 {
			v := float64(legacy.Temperature)
			canonical.Temperature = &v
		}

		if canonical.Stream {
			streamChatCompletion(c, deps, canonical)
			return
		}

		resp, model, err := runNonStreaming(c.Request.Context(), deps, canonical)
		if err != nil {
			writeError(c, err)
			return
		}

		text := ""
		for _, p := range resp.Message.Parts {
			if t, ok := p.(protocol.Text); ok {
				text += t.Value
			}
		}

		c.JSON(http.StatusOK, openaisdk.CompletionResponse{
			ID:     "cmpl-" + uuid.NewString(),
			Object: "text_completion",
			Model:  model,
			Choices: []openaisdk.CompletionChoice{
				{Text: text, Index: 0, FinishReason: string(openaisdk.FinishReasonStop)},
			},
			Usage: &openaisdk.Usage{
				PromptTokens:     resp.InputTokens,
				CompletionTokens: resp.OutputTokens,
				TotalTokens:      resp.InputTokens + resp.OutputTokens,
			},
		})
	}
}

// Responses serves POST /v1/responses, the OpenAI "Responses" API Codex CLI
// speaks. The request/response envelope differs from Chat Completions, so
// this builds the canonical request directly rather than through the
// openai package's ToCanonical.
func Responses(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var wire struct {
			Model           string `json:"model"`
			Input           any    `json:"input"`
			Instructions    string `json:"instructions"`
			MaxOutputTokens int    `json:"max_output_tokens"`
			Stream          bool   `json:"stream"`
		}
		if err := c.ShouldBindJSON(&wire); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid responses request"}})
			return
		}

		canonical := &protocol.Request{
			Model:     wire.Model,
			MaxTokens: wire.MaxOutputTokens,
			Stream:    wire.Stream,
			System:    protocol.InjectIdentity(wire.Instructions),
			Messages:  buildResponsesMessages(wire.Input),
		}

		resp, model, err := runNonStreaming(c.Request.Context(), deps, canonical)
		if err != nil {
			writeError(c, err)
			return
		}

		text := ""
		for _, p := range resp.Message.Parts {
			if t, ok := p.(protocol.Text); ok {
				text += t.Value
			}
		}

		body := gin.H{
			"id":     "resp_" + uuid.NewString(),
			"object": "response",
			"model":  model,
			"status": "completed",
			"output": []gin.H{
				{
					"type": "message",
					"role": "assistant",
					"content": []gin.H{
						{"type": "output_text", "text": text},
					},
				},
			},
			"usage": gin.H{
				"input_tokens":  resp.InputTokens,
				"output_tokens": resp.OutputTokens,
			},
		}

		if !wire.Stream {
			c.JSON(http.StatusOK, body)
			return
		}

		// Responses streaming is a sequence of named events; this gateway
		// emits the minimal pair Codex CLI needs to render a finished turn
		// rather than incremental text deltas, since the upstream Gemini
		// response already arrives as one complete body.
		c.Status(http.StatusOK)
		c.Header("Content-Type", "text/event-stream")
		sse := sseWriter{w: c.Writer, flush: c.Writer.Flush}
		_ = sse.writeEvent("response.completed", gin.H{"type": "response.completed", "response": body})
		_ = sse.writeDone()
	}
}

func buildResponsesMessages(input any) []protocol.Message {
	switch v := input.(type) {
	case string:
		return []protocol.Message{{Role: protocol.RoleUser, Parts: []protocol.Part{protocol.Text{Value: v}}}}
	case []any:
		var out []protocol.Message
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			role := protocol.RoleUser
			if r, _ := entry["role"].(string); r == "assistant" {
				role = protocol.RoleAssistant
			}
			text := extractResponsesText(entry["content"])
			out = append(out, protocol.Message{Role: role, Parts: []protocol.Part{protocol.Text{Value: text}}})
		}
		return out
	default:
		return nil
	}
}

func extractResponsesText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var text string
		for _, block := range v {
			b, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := b["text"].(string); ok {
				text += t
			}
		}
		return text
	default:
		return ""
	}
}
