package apiserver

import (
	"github.com/gin-gonic/gin"

	"github.com/cloudcode-gateway/gateway/internal/config"
	"github.com/cloudcode-gateway/gateway/internal/logging"
)

// New builds the gin.Engine serving every route in §6's endpoint table,
// wired with the teacher's request-logging/recovery middleware and the
// auth middleware selected by the live config.
func New(deps Dependencies) *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery(), logging.GinLogrusLogger())
	engine.Use(MaxBodyBytes(config.MaxRequestBodyBytes))

	auth := AuthMiddleware(deps.Config)

	engine.GET("/healthz", auth, Healthz)

	v1 := engine.Group("/v1")
	v1.Use(auth)
	{
		v1.GET("/models", ListModels(deps))
		v1.GET("/models/claude", ListClaudeModels(deps))
		v1.POST("/models/detect", DetectCapabilities(deps))
		v1.POST("/chat/completions", ChatCompletions(deps))
		v1.POST("/completions", Completions(deps))
		v1.POST("/responses", Responses(deps))
		v1.POST("/messages", ClaudeMessages(deps))
		v1.POST("/images/generations", NotImplemented)
		v1.POST("/images/edits", NotImplemented)
		v1.POST("/images/variations", NotImplemented)
		v1.POST("/audio/transcriptions", NotImplemented)
	}

	// Unversioned aliases some clients (Claude Code, Codex CLI) call
	// without the /v1 prefix.
	root := engine.Group("/")
	root.Use(auth)
	{
		root.GET("/models", ListModels(deps))
		root.POST("/chat/completions", ChatCompletions(deps))
		root.POST("/completions", Completions(deps))
		root.POST("/responses", Responses(deps))
		root.POST("/messages", ClaudeMessages(deps))
	}

	v1beta := engine.Group("/v1beta")
	v1beta.Use(auth)
	{
		v1beta.GET("/models", ListModels(deps))
		v1beta.POST("/models/*action", GenerateContent(deps))
	}

	return engine
}
