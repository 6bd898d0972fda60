package apiserver

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/cloudcode-gateway/gateway/internal/background"
	"github.com/cloudcode-gateway/gateway/internal/config"
	"github.com/cloudcode-gateway/gateway/internal/dispatch"
	"github.com/cloudcode-gateway/gateway/internal/logging"
	"github.com/cloudcode-gateway/gateway/internal/modelrouter"
	"github.com/cloudcode-gateway/gateway/internal/protocol/gemini"
)

// GenerateContent serves both the non-streaming and streaming Gemini-native
// endpoints. Gin's routing can't split a ":generateContent" method suffix
// out of a path segment, so the route is registered on a single "*action"
// wildcard (matching the teacher's own GeminiHandler routing) and this
// handler recovers the model id and the requested action itself.
func GenerateContent(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, action := splitModelAction(c.Param("action"))
		if model == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "missing model in path"}})
			return
		}

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
			return
		}

		cfg := deps.Config()
		resolved := resolveModelGeminiNative(cfg, model, raw)
		logging.SetModel(c, resolved)

		wireBody, err := gemini.ToUpstream(raw, deps.Rewriter)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to translate request"}})
			return
		}

		dispatchReq := dispatch.Request{Model: resolved, Mode: cfg.SchedulingMode, Body: wireBody}

		if action == "streamGenerateContent" {
			streamGeminiNative(c, deps, dispatchReq)
			return
		}

		result, err := deps.Dispatcher.Do(c.Request.Context(), dispatchReq)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", result.Body)
	}
}

// splitModelAction recovers the {model} and :action segments from gin's
// single wildcard path parameter, e.g. "/gemini-2.5-pro:generateContent".
func splitModelAction(param string) (model, action string) {
	param = strings.TrimPrefix(param, "/")
	idx := strings.LastIndexByte(param, ':')
	if idx < 0 {
		return param, ""
	}
	return param[:idx], param[idx+1:]
}

// resolveModelGeminiNative runs the same background/family/exact resolution
// the canonical pipeline applies, sniffing the fields it needs directly off
// the raw Gemini-native body since this path never builds a
// protocol.Request.
func resolveModelGeminiNative(cfg *config.Config, model string, raw []byte) string {
	root := gjson.ParseBytes(raw)
	hasWebSearch := false
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		tool.Get("functionDeclarations").ForEach(func(_, fn gjson.Result) bool {
			name := strings.ToLower(fn.Get("name").String())
			if strings.Contains(name, "web_search") || strings.Contains(name, "google_search") {
				hasWebSearch = true
			}
			return true
		})
		return true
	})

	contents := root.Get("contents")
	firstUserText := ""
	contents.ForEach(func(_, content gjson.Result) bool {
		if content.Get("role").String() != "user" {
			return true
		}
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text").String(); text != "" {
				firstUserText = text
				return false
			}
			return true
		})
		return firstUserText == ""
	})

	return modelrouter.Resolve(cfg.RouterConfig(), modelrouter.ResolveRequest{
		RequestedModel: modelrouter.NormalizeModelName(model),
		HasWebSearch:   hasWebSearch,
		Background: background.Request{
			Model:         model,
			MaxTokens:     int(root.Get("generationConfig.maxOutputTokens").Int()),
			Turns:         len(contents.Array()),
			FirstUserText: firstUserText,
			SystemPrompt:  root.Get("systemInstruction.parts.0.text").String(),
		},
	})
}

func streamGeminiNative(c *gin.Context, deps Dependencies, req dispatch.Request) {
	stream, err := deps.Dispatcher.DoStreaming(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	defer stream.Body.Close()

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	buf := make([]byte, 4096)
	for {
		n, readErr := stream.Body.Read(buf)
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				return
			}
			c.Writer.Flush()
		}
		if readErr != nil {
			return
		}
	}
}
