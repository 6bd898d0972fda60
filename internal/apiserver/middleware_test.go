package apiserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthEngine(cfg *config.Config) *gin.Engine {
	e := gin.New()
	e.Use(AuthMiddleware(func() *config.Config { return cfg }))
	e.GET("/healthz", Healthz)
	e.GET("/v1/models", func(c *gin.Context) { c.Status(http.StatusOK) })
	return e
}

func TestAuthMiddleware_OffAllowsEverything(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthOff
	e := newAuthEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_StrictRejectsMissingKey(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthStrict
	cfg.ClientAPIKey = "secret"
	e := newAuthEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_StrictAcceptsBearerKey(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthStrict
	cfg.ClientAPIKey = "secret"
	e := newAuthEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_AllExceptHealthBypassesHealthz(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthAllExceptHealth
	cfg.ClientAPIKey = "secret"
	e := newAuthEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_AutoAcceptsLoopbackWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthAuto
	cfg.ClientAPIKey = "secret"
	e := newAuthEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_AutoRejectsLANWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthAuto
	cfg.ClientAPIKey = "secret"
	e := newAuthEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.RemoteAddr = "192.168.1.20:54321"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractClientKey_ReadsQueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/models?key=from-query", nil)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	require.Equal(t, "from-query", extractClientKey(c))
}
