// Package streaming re-assembles the upstream's line-delimited SSE chunks
// into canonical protocol.Response deltas. Unlike the teacher's global
// thought-signature store, all state here is scoped to a single in-flight
// stream: concurrent requests on different accounts must never share a
// signature or tool-call accumulator.
package streaming

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/cloudcode-gateway/gateway/internal/protocol"
)

// maxParseErrors is the number of malformed SSE data lines tolerated before
// the stream is downgraded from silently-skip to logging a warning; the
// stream itself is never aborted on malformed input, since a single bad
// chunk from a flaky upstream shouldn't drop an otherwise good response.
const maxParseErrors = 5

// Delta is one incremental update extracted from an upstream chunk.
type Delta struct {
	Text         string
	Thought      string
	ToolCalls    []protocol.FunctionCall
	Citations    []protocol.Citation
	FinishReason string
	Done         bool
}

// ToolCallFragment accumulates a single tool call's streamed argument
// fragments, keyed by the upstream's part index within the candidate.
type toolCallFragment struct {
	id        string
	name      string
	signature string
	argsBuf   strings.Builder
}

// PendingStream holds all state for exactly one in-flight upstream stream.
// It must not be shared across requests or accounts.
type PendingStream struct {
	buf           bytes.Buffer
	model         string
	signature     string
	toolCalls     map[int]*toolCallFragment
	toolCallOrder []int
	parseErrors   int
	ParseWarnings []string
}

// NewPendingStream creates per-request streaming state for model.
func NewPendingStream(model string) *PendingStream {
	return &PendingStream{
		model:     model,
		toolCalls: make(map[int]*toolCallFragment),
	}
}

// Model returns the model name this stream was opened for.
func (p *PendingStream) Model() string { return p.model }

// Signature returns the longest thought signature observed so far in this
// stream; a later, shorter signature never overwrites a longer one, mirroring
// the upstream's own preference for the most complete signature seen.
func (p *PendingStream) Signature() string { return p.signature }

// Feed appends raw upstream bytes and returns every complete delta decoded
// from the newly available lines. Incomplete trailing lines are buffered for
// the next call.
func (p *PendingStream) Feed(chunk []byte) []Delta {
	p.buf.Write(chunk)

	var deltas []Delta
	for {
		data := p.buf.Bytes()
		pos := bytes.IndexByte(data, '\n')
		if pos < 0 {
			break
		}
		line := strings.TrimSpace(string(data[:pos]))
		p.buf.Next(pos + 1)

		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if payload == "[DONE]" {
			deltas = append(deltas, Delta{Done: true})
			continue
		}

		d, ok := p.decode(payload)
		if !ok {
			continue
		}
		deltas = append(deltas, d)
	}

	return deltas
}

func (p *PendingStream) decode(payload string) (Delta, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		p.recordParseError()
		return Delta{}, false
	}

	body := envelope
	if inner, ok := envelope["response"]; ok {
		var innerBody map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerBody); err == nil {
			body = innerBody
		}
	}

	var wire struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text             string          `json:"text"`
					Thought          string          `json:"thought"`
					ThoughtSignature string          `json:"thoughtSignature"`
					InlineData       *struct {
						MIMEType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
					FunctionCall *struct {
						Name string          `json:"name"`
						ID   string          `json:"id"`
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
			Index int `json:"index"`
		} `json:"candidates"`
	}

	raw, err := json.Marshal(body)
	if err != nil {
		p.recordParseError()
		return Delta{}, false
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		p.recordParseError()
		return Delta{}, false
	}
	if len(wire.Candidates) == 0 {
		return Delta{}, false
	}
	cand := wire.Candidates[0]

	var delta Delta
	for i, part := range cand.Content.Parts {
		if part.Text != "" {
			delta.Text += part.Text
		}
		if part.Thought != "" {
			delta.Thought += part.Thought
		}
		if sig := part.ThoughtSignature; sig != "" && len(sig) > len(p.signature) {
			p.signature = sig
		}
		if part.FunctionCall != nil {
			frag := p.fragmentFor(i)
			if part.FunctionCall.Name != "" {
				frag.name = part.FunctionCall.Name
			}
			if part.FunctionCall.ID != "" {
				frag.id = part.FunctionCall.ID
			}
			if len(part.FunctionCall.Args) > 0 {
				frag.argsBuf.Write(part.FunctionCall.Args)
			}
		}
	}

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			delta.Citations = append(delta.Citations, protocol.Citation{
				URL:   chunk.Web.URI,
				Title: chunk.Web.Title,
			})
		}
	}

	if cand.FinishReason != "" {
		delta.FinishReason = mapFinishReason(cand.FinishReason)
		delta.ToolCalls = p.flushToolCalls()
	}

	return delta, true
}

func (p *PendingStream) fragmentFor(index int) *toolCallFragment {
	frag, ok := p.toolCalls[index]
	if !ok {
		frag = &toolCallFragment{}
		p.toolCalls[index] = frag
		p.toolCallOrder = append(p.toolCallOrder, index)
	}
	return frag
}

// flushToolCalls finalizes every accumulated tool-call fragment into a
// canonical FunctionCall, parsing its accumulated argument JSON.
func (p *PendingStream) flushToolCalls() []protocol.FunctionCall {
	if len(p.toolCallOrder) == 0 {
		return nil
	}
	out := make([]protocol.FunctionCall, 0, len(p.toolCallOrder))
	for _, idx := range p.toolCallOrder {
		frag := p.toolCalls[idx]
		var args map[string]any
		if frag.argsBuf.Len() > 0 {
			_ = json.Unmarshal([]byte(frag.argsBuf.String()), &args)
		}
		out = append(out, protocol.FunctionCall{
			ID:        frag.id,
			Name:      frag.name,
			Arguments: args,
			Signature: p.signature,
		})
	}
	p.toolCalls = make(map[int]*toolCallFragment)
	p.toolCallOrder = nil
	return out
}

func (p *PendingStream) recordParseError() {
	p.parseErrors++
	if p.parseErrors == maxParseErrors+1 {
		p.ParseWarnings = append(p.ParseWarnings,
			"exceeded tolerated malformed SSE chunk count, continuing best-effort")
	}
}

func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

// Drain reads every remaining byte off r and feeds it through p, returning
// all resulting deltas; used by non-chunked test harnesses and by callers
// that buffer the full upstream body before processing.
func Drain(p *PendingStream, r io.Reader) ([]Delta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return p.Feed(data), nil
}
