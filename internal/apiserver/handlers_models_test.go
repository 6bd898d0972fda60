package apiserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/config"
)

func TestListModels_IncludesConfiguredAndUpstreamIDs(t *testing.T) {
	cfg := config.Default()
	cfg.ExactMap["my-alias"] = "gemini-2.5-pro"
	deps := testDeps(&fakeDispatcher{}, cfg)

	e := gin.New()
	e.GET("/v1/models", ListModels(deps))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "my-alias")
	require.Contains(t, rec.Body.String(), "gemini-2.5-pro")
}

func TestDetectCapabilities_ReturnsCapabilityTuple(t *testing.T) {
	deps := testDeps(&fakeDispatcher{}, config.Default())
	e := gin.New()
	e.POST("/v1/models/detect", DetectCapabilities(deps))

	req := httptest.NewRequest(http.MethodPost, "/v1/models/detect", strings.NewReader(`{"model":"gemini-2.5-pro"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"supports_thinking":true`)
}

func TestHealthz_ReturnsOK(t *testing.T) {
	e := gin.New()
	e.GET("/healthz", Healthz)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
