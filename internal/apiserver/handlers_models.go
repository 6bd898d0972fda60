package apiserver

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/cloudcode-gateway/gateway/internal/modelrouter"
)

// clientModelIDs collects every client-facing model id an operator has
// configured, from both the exact map and the family map's predefined
// keys, plus every known upstream id itself (a client may always ask for
// an upstream id directly).
func clientModelIDs(deps Dependencies) []string {
	cfg := deps.Config()
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for id := range cfg.ExactMap {
		add(id)
	}
	for id := range modelrouter.KnownUpstreamIDs() {
		add(id)
	}
	sort.Strings(out)
	return out
}

// ListModels serves GET /v1/models and GET /models in the OpenAI model
// listing shape.
func ListModels(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := clientModelIDs(deps)
		data := make([]gin.H, 0, len(ids))
		for _, id := range ids {
			data = append(data, gin.H{"id": id, "object": "model", "owned_by": "cloud-code-gateway"})
		}
		c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
	}
}

// ListClaudeModels serves GET /v1/models/claude in the Anthropic model
// listing shape.
func ListClaudeModels(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := clientModelIDs(deps)
		data := make([]gin.H, 0, len(ids))
		for _, id := range ids {
			data = append(data, gin.H{"type": "model", "id": id, "display_name": id})
		}
		c.JSON(http.StatusOK, gin.H{"data": data})
	}
}

// DetectCapabilities serves POST /v1/models/detect, the capability probe
// per §4.8: {supports_thinking, supports_images, supports_tools,
// supports_grounding} for a given model id.
func DetectCapabilities(_ Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Model string `json:"model"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid detect request"}})
			return
		}
		got := modelrouter.Detect(req.Model)
		c.JSON(http.StatusOK, gin.H{
			"model":              req.Model,
			"supports_thinking":  got.SupportsThinking,
			"supports_images":    got.SupportsImages,
			"supports_tools":     got.SupportsTools,
			"supports_grounding": got.SupportsGrounding,
		})
	}
}

// Healthz serves GET /healthz, a liveness probe with no upstream
// dependency check.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// NotImplemented serves the endpoints explicitly out of the core's scope
// (image generation/editing, audio transcription): the route exists per
// §6's surface, but the transcoding utilities the spec places outside the
// core are not implemented here.
func NotImplemented(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{
		"error": gin.H{"code": "not_implemented", "message": "this endpoint is outside the gateway core's scope"},
	})
}
