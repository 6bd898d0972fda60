package apiserver

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cloudcode-gateway/gateway/internal/logging"
	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/protocol/anthropic"
	"github.com/cloudcode-gateway/gateway/internal/streaming"
	"github.com/cloudcode-gateway/gateway/internal/util"
)

// ClaudeMessages serves POST /v1/messages and POST /messages, streaming and
// non-streaming.
func ClaudeMessages(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
			return
		}

		raw = util.NormalizeClaudeToolResults(raw)

		canonical, err := anthropic.ToCanonical(raw, deps.Rewriter)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid messages request"}})
			return
		}
		logging.SetModel(c, canonical.Model)

		if canonical.Stream {
			streamClaudeMessage(c, deps, canonical)
			return
		}

		resp, model, err := runNonStreaming(c.Request.Context(), deps, canonical)
		if err != nil {
			writeError(c, err)
			return
		}
		logging.SetModel(c, model)

		body, err := anthropic.FromCanonical(resp, deps.Rewriter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}

func streamClaudeMessage(c *gin.Context, deps Dependencies, canonical *protocol.Request) {
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

	writer := newAnthropicStreamWriter(c.Writer, c.Writer.Flush, deps.Rewriter)
	if err := writer.Start(model); err != nil {
		return
	}

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
}
