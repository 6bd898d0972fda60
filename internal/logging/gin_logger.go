// Package logging provides Gin middleware for HTTP request logging and panic
// recovery. It integrates the Gin web framework with logrus for structured
// logging of HTTP requests, responses, and error handling with panic
// recovery capabilities.
package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cloudcode-gateway/gateway/internal/util"
)

const (
	skipGinLogKey = "__gin_skip_request_logging__"
	accountIDKey  = "__gin_account_id__"
	providerKey   = "__gin_provider__"
	modelKey      = "__gin_model__"
)

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests
// and responses using logrus. It captures request details including method,
// path, status code, latency, client IP, and any error messages, and
// attaches the dispatcher's account/provider/model fields once the handler
// has recorded them via SetAccountID/SetProvider/SetModel.
//
// Returns:
//   - gin.HandlerFunc: A middleware handler for request logging
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := util.MaskSensitiveQuery(c.Request.URL.RawQuery)

		// Derive or generate a request ID and propagate it via response headers.
		requestID := c.Request.Header.Get("X-Request-Id")
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		userAgent := c.Request.UserAgent()
		clientType := classifyUserAgent(userAgent)

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()
		timestamp := time.Now().Format("2006/01/02 - 15:04:05")
		logLine := fmt.Sprintf("[GIN] %s | %3d | %13v | %15s | %-7s \"%s\"", timestamp, statusCode, latency, clientIP, method, path)
		if errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		fields := log.Fields{
			"status":      statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   clientIP,
			"method":      method,
			"path":        path,
			"request_id":  requestID,
			"client_type": clientType,
		}
		if acct := accountID(c); acct != "" {
			fields["account_id"] = acct
		}
		if provider := providerName(c); provider != "" {
			fields["provider"] = provider
		}
		if model := modelName(c); model != "" {
			fields["model"] = model
		}
		// Avoid logging very long user-agents verbatim, but keep a shortened hint.
		if userAgent != "" {
			ua := userAgent
			if len(ua) > 180 {
				ua = ua[:180] + "..."
			}
			fields["user_agent"] = ua
		}

		entry := log.WithFields(fields)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

func classifyUserAgent(userAgent string) string {
	uaLower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(uaLower, "factory-cli"), strings.Contains(uaLower, "droid"):
		return "factory-cli"
	case strings.Contains(uaLower, "openai codex"):
		return "codex-cli"
	case strings.Contains(uaLower, "warp"):
		return "warp-cli"
	case strings.Contains(uaLower, "cursor"):
		return "cursor-ide"
	default:
		return "generic"
	}
}

// GinLogrusRecovery returns a Gin middleware handler that recovers from
// panics and logs them using logrus. When a panic occurs, it captures the
// panic value, stack trace, and request path, then returns a 500 Internal
// Server Error response to the client.
//
// Returns:
//   - gin.HandlerFunc: A middleware handler for panic recovery
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging marks the provided Gin context so that
// GinLogrusLogger will skip emitting a log line for the associated request.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

// SetAccountID records which upstream account served this request, for the
// access-log line emitted by GinLogrusLogger.
func SetAccountID(c *gin.Context, id string) {
	if c == nil || id == "" {
		return
	}
	c.Set(accountIDKey, id)
}

// SetProvider records which public wire protocol (openai/anthropic/gemini)
// handled this request.
func SetProvider(c *gin.Context, provider string) {
	if c == nil || provider == "" {
		return
	}
	c.Set(providerKey, provider)
}

// SetModel records the resolved upstream model id for this request.
func SetModel(c *gin.Context, model string) {
	if c == nil || model == "" {
		return
	}
	c.Set(modelKey, model)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	return ctxBool(c, skipGinLogKey)
}

func accountID(c *gin.Context) string  { return ctxString(c, accountIDKey) }
func providerName(c *gin.Context) string { return ctxString(c, providerKey) }
func modelName(c *gin.Context) string  { return ctxString(c, modelKey) }

func ctxBool(c *gin.Context, key string) bool {
	if c == nil {
		return false
	}
	val, exists := c.Get(key)
	if !exists {
		return false
	}
	flag, ok := val.(bool)
	return ok && flag
}

func ctxString(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, exists := c.Get(key)
	if !exists {
		return ""
	}
	s, _ := val.(string)
	return s
}
