// Package apiserver wires the gin HTTP surface: route registration per
// protocol family, client authentication, and the shared request/response
// pipeline that bridges each wire mapper to the dispatcher.
package apiserver

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cloudcode-gateway/gateway/internal/config"
)

const (
	headerAPIKey = "x-api-key"
	queryAPIKey  = "key"
)

// extractClientKey reads the client API key from any of the three
// documented carriers, in the order the spec lists them.
func extractClientKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if key := c.GetHeader(headerAPIKey); key != "" {
		return key
	}
	return c.Query(queryAPIKey)
}

// isLoopback reports whether the request's remote address is the local
// host, used by AUTO mode to distinguish a trusted local client from a LAN
// peer.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// AuthMiddleware enforces cfg's auth mode. It reads the live config off cfg
// on every request rather than closing over a snapshot, so a config reload
// takes effect without restarting the server.
func AuthMiddleware(cfg func() *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := cfg().AuthMode
		if mode == config.AuthOff {
			c.Next()
			return
		}
		if c.Request.URL.Path == "/healthz" && mode != config.AuthStrict {
			c.Next()
			return
		}
		if mode == config.AuthAuto && isLoopback(c.Request.RemoteAddr) {
			c.Next()
			return
		}

		want := cfg().ClientAPIKey
		if want == "" {
			c.Next()
			return
		}
		if extractClientKey(c) != want {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "missing or invalid API key"},
			})
			return
		}
		c.Next()
	}
}

// MaxBodyBytes caps the size of a request body gin will read, per §4.9's
// 100 MB payload cap.
func MaxBodyBytes(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
