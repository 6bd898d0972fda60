package apiserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cloudcode-gateway/gateway/internal/background"
	"github.com/cloudcode-gateway/gateway/internal/config"
	"github.com/cloudcode-gateway/gateway/internal/dispatch"
	"github.com/cloudcode-gateway/gateway/internal/gwerr"
	"github.com/cloudcode-gateway/gateway/internal/modelrouter"
	"github.com/cloudcode-gateway/gateway/internal/protocol"
	"github.com/cloudcode-gateway/gateway/internal/protocol/gemini"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
)

// Dispatcher is the subset of *dispatch.Dispatcher the handlers depend on,
// narrowed to an interface so tests can substitute a fake upstream.
type Dispatcher interface {
	Do(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
	DoStreaming(ctx context.Context, req dispatch.Request) (*dispatch.StreamResult, error)
}

// Dependencies is everything a handler needs to run a request through the
// pipeline: the live config, the dispatcher, and the tool-argument
// rewriter shared across the whole gateway process.
type Dependencies struct {
	Config     func() *config.Config
	Dispatcher Dispatcher
	Rewriter   *toolargs.Rewriter
}

// hasWebSearchTool reports whether req names a server-side web-search tool,
// the signal §4.8 step 2 force-routes on.
func hasWebSearchTool(req *protocol.Request) bool {
	for _, t := range req.Tools {
		name := strings.ToLower(t.Name)
		if strings.Contains(name, "web_search") || strings.Contains(name, "google_search") {
			return true
		}
	}
	return false
}

// firstUserText returns the text of the first user turn, used by the
// background-task fingerprint heuristic.
func firstUserText(req *protocol.Request) string {
	for _, m := range req.Messages {
		if m.Role != protocol.RoleUser {
			continue
		}
		for _, p := range m.Parts {
			if t, ok := p.(protocol.Text); ok {
				return t.Value
			}
		}
	}
	return ""
}

// resolveUpstreamModel runs the canonical request through the model router,
// applying background detection and the web-search force-route ahead of the
// exact/family maps.
func resolveUpstreamModel(cfg *config.Config, req *protocol.Request) string {
	return modelrouter.Resolve(cfg.RouterConfig(), modelrouter.ResolveRequest{
		RequestedModel: modelrouter.NormalizeModelName(req.Model),
		HasWebSearch:   hasWebSearchTool(req),
		Background: background.Request{
			Model:         req.Model,
			MaxTokens:     req.MaxTokens,
			Turns:         len(req.Messages),
			FirstUserText: firstUserText(req),
			SystemPrompt:  req.System,
		},
	})
}

// schedulingRequest builds the dispatch.Request shared by streaming and
// non-streaming attempts: resolved model, wire body, scheduling mode.
func buildDispatchRequest(cfg *config.Config, model string, body []byte) dispatch.Request {
	return dispatch.Request{
		Model: model,
		Mode:  cfg.SchedulingMode,
		Body:  body,
	}
}

// runNonStreaming resolves the model, renders the canonical request onto
// the upstream wire, dispatches it, and parses the upstream body back into
// the canonical response — the round trip every non-streaming Anthropic and
// OpenAI handler shares.
func runNonStreaming(ctx context.Context, deps Dependencies, canonical *protocol.Request) (*protocol.Response, string, error) {
	cfg := deps.Config()
	model := resolveUpstreamModel(cfg, canonical)
	canonical.Model = model

	wireBody, err := gemini.FromCanonical(canonical, deps.Rewriter)
	if err != nil {
		return nil, model, gwerr.Wrap(http.StatusBadRequest, "invalid_request", "failed to translate request", false, err)
	}

	result, err := deps.Dispatcher.Do(ctx, buildDispatchRequest(cfg, model, wireBody))
	if err != nil {
		return nil, model, err
	}

	resp, err := gemini.ParseResponse(result.Body)
	if err != nil {
		return nil, model, gwerr.Wrap(http.StatusBadGateway, "upstream_decode_failed", "failed to parse upstream response", false, err)
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, model, nil
}

// openStreaming resolves the model and opens a single streaming attempt,
// returning the live upstream body for the caller to pump through
// internal/streaming.
func openStreaming(ctx context.Context, deps Dependencies, canonical *protocol.Request) (*dispatch.StreamResult, string, error) {
	cfg := deps.Config()
	model := resolveUpstreamModel(cfg, canonical)
	canonical.Model = model

	wireBody, err := gemini.FromCanonical(canonical, deps.Rewriter)
	if err != nil {
		return nil, model, gwerr.Wrap(http.StatusBadRequest, "invalid_request", "failed to translate request", false, err)
	}

	stream, err := deps.Dispatcher.DoStreaming(ctx, buildDispatchRequest(cfg, model, wireBody))
	if err != nil {
		return nil, model, err
	}
	return stream, model, nil
}

// writeError renders err in the shape its type carries: the gateway's own
// gwerr.Error, an HTTP-shaped sentinel (ModelCooldownError,
// AllAccountsUnavailableError), or a generic 500 for anything unclassified.
func writeError(c *gin.Context, err error) {
	var gerr *gwerr.Error
	if errors.As(err, &gerr) {
		c.Data(gerr.HTTPStatus, "application/json", gerr.ToJSON())
		return
	}

	var shaped httpShapedError
	if errors.As(err, &shaped) {
		for k, vs := range shaped.Headers() {
			for _, v := range vs {
				c.Header(k, v)
			}
		}
		c.Data(shaped.StatusCode(), "application/json", []byte(shaped.Error()))
		return
	}

	logrus.WithError(err).Error("apiserver: unclassified dispatch error")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": "internal_error", "message": "internal error"},
	})
}

// httpShapedError is implemented by gwerr.ModelCooldownError and
// gwerr.AllAccountsUnavailableError.
type httpShapedError interface {
	error
	StatusCode() int
	Headers() http.Header
}
