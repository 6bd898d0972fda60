package apiserver

import (
	"encoding/json"
	"fmt"
	"io"

	openaisdk "github.com/sashabaranov/go-openai"

	"github.com/cloudcode-gateway/gateway/internal/streaming"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

// sseWriter writes one SSE frame at a time and flushes immediately, so the
// client receives each chunk as soon as it's decoded rather than buffered
// until the handler returns; flush is the backpressure signal §5 describes.
type sseWriter struct {
	w     io.Writer
	flush func()
}

func (s *sseWriter) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) writeDone() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// openAIStreamWriter renders streaming.Delta values as OpenAI Chat
// Completions streaming chunks.
type openAIStreamWriter struct {
	sse      sseWriter
	id       string
	model    string
	rewriter *toolargs.Rewriter
}

func newOpenAIStreamWriter(w io.Writer, flush func(), id, model string, rewriter *toolargs.Rewriter) *openAIStreamWriter {
	return &openAIStreamWriter{sse: sseWriter{w: w, flush: flush}, id: id, model: model, rewriter: rewriter}
}

func (o *openAIStreamWriter) WriteDelta(d streaming.Delta) error {
	if d.Done {
		return nil
	}

	delta := openaisdk.ChatCompletionStreamChoiceDelta{}
	if d.Text != "" {
		delta.Content = d.Text
	}
	for i, tc := range d.ToolCalls {
		args := tc.Arguments
		if o.rewriter != nil && args != nil {
			o.rewriter.RewriteInbound(tc.Name, args)
		}
		argBytes, err := json.Marshal(args)
		if err != nil {
			return err
		}
		idx := i
		delta.ToolCalls = append(delta.ToolCalls, openaisdk.ToolCall{
			Index: &idx,
			ID:    tc.ID,
			Type:  openaisdk.ToolTypeFunction,
			Function: openaisdk.FunctionCall{
				Name:      tc.Name,
				Arguments: string(argBytes),
			},
		})
	}

	chunk := openaisdk.ChatCompletionStreamResponse{
		ID:     o.id,
		Object: "chat.completion.chunk",
		Model:  o.model,
		Choices: []openaisdk.ChatCompletionStreamChoice{
			{Index: 0, Delta: delta},
		},
	}
	if d.FinishReason != "" {
		reason := openaisdk.FinishReasonStop
		if len(d.ToolCalls) > 0 {
			reason = openaisdk.FinishReasonToolCalls
		} else if d.FinishReason == "length" {
			reason = openaisdk.FinishReasonLength
		}
		chunk.Choices[0].FinishReason = reason
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(o.sse.w, "data: %s\n\n", data); err != nil {
		return err
	}
	o.sse.flush()
	return nil
}

func (o *openAIStreamWriter) WriteDone() error {
	return o.sse.writeDone()
}

// anthropicStreamWriter renders streaming.Delta values as Anthropic
// Messages streaming events. Tool calls are emitted as a single complete
// content block at finish, since internal/streaming only finalizes a tool
// call's arguments once the upstream signals the turn is done.
type anthropicStreamWriter struct {
	sse        sseWriter
	rewriter   *toolargs.Rewriter
	started    bool
	blockIndex int
	textOpen   bool
}

func newAnthropicStreamWriter(w io.Writer, flush func(), rewriter *toolargs.Rewriter) *anthropicStreamWriter {
	return &anthropicStreamWriter{sse: sseWriter{w: w, flush: flush}, rewriter: rewriter}
}

func (a *anthropicStreamWriter) Start(model string) error {
	a.started = true
	return a.sse.writeEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            "msg_stream",
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

func (a *anthropicStreamWriter) ensureTextBlock() error {
	if a.textOpen {
		return nil
	}
	a.textOpen = true
	return a.sse.writeEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": a.blockIndex,
		"content_block": map[string]any{
			"type": "text",
			"text": "",
		},
	})
}

func (a *anthropicStreamWriter) closeTextBlock() error {
	if !a.textOpen {
		return nil
	}
	a.textOpen = false
	err := a.sse.writeEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": a.blockIndex,
	})
	a.blockIndex++
	return err
}

func (a *anthropicStreamWriter) WriteDelta(d streaming.Delta) error {
	if d.Done {
		return nil
	}

	if d.Text != "" {
		if err := a.ensureTextBlock(); err != nil {
			return err
		}
		if err := a.sse.writeEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": a.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": d.Text},
		}); err != nil {
			return err
		}
	}
	if d.Thought != "" {
		if err := a.ensureTextBlock(); err != nil {
			return err
		}
		if err := a.sse.writeEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": a.blockIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": d.Thought},
		}); err != nil {
			return err
		}
	}

	if d.FinishReason == "" {
		return nil
	}

	if err := a.closeTextBlock(); err != nil {
		return err
	}
	for _, tc := range d.ToolCalls {
		args := tc.Arguments
		if a.rewriter != nil && args != nil {
			a.rewriter.RewriteInbound(tc.Name, args)
		}
		idx := a.blockIndex
		a.blockIndex++
		if err := a.sse.writeEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": idx,
			"content_block": map[string]any{
				"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": map[string]any{},
			},
		}); err != nil {
			return err
		}
		argBytes, err := json.Marshal(args)
		if err != nil {
			return err
		}
		if err := a.sse.writeEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": idx,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": string(argBytes)},
		}); err != nil {
			return err
		}
		if err := a.sse.writeEvent("content_block_stop", map[string]any{
			"type": "content_block_stop", "index": idx,
		}); err != nil {
			return err
		}
	}

	stopReason := "end_turn"
	if len(d.ToolCalls) > 0 {
		stopReason = "tool_use"
	} else if d.FinishReason == "length" {
		stopReason = "max_tokens"
	}
	if err := a.sse.writeEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": map[string]any{"output_tokens": 0},
	}); err != nil {
		return err
	}
	return a.sse.writeEvent("message_stop", map[string]any{"type": "message_stop"})
}
