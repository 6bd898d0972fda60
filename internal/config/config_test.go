package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudcode-gateway/gateway/internal/modelrouter"
	"github.com/cloudcode-gateway/gateway/internal/scheduler"
)

func TestDefault_AppliesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultPort, cfg.ListenPort)
	require.False(t, cfg.AllowLANAccess)
	require.Equal(t, AuthAuto, cfg.AuthMode)
	require.Equal(t, 120*time.Second, cfg.RequestTimeout)
	require.Equal(t, scheduler.CacheFirst, cfg.SchedulingMode)
	require.Equal(t, 60*time.Second, cfg.SessionTTL)
	require.NotEmpty(t, cfg.FamilyMap)
}

func TestValidate_RejectsInvalidAuthMode(t *testing.T) {
	cfg := Default()
	cfg.AuthMode = "BOGUS"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeTimeout(t *testing.T) {
	cfg := Default()
	cfg.RequestTimeout = time.Second
	require.Error(t, cfg.Validate())

	cfg.RequestTimeout = 10 * time.Minute
	require.Error(t, cfg.Validate())
}

func TestValidate_FillsZeroValueDefaults(t *testing.T) {
	cfg := &Config{AuthMode: AuthStrict}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultPort, cfg.ListenPort)
	require.Equal(t, 120*time.Second, cfg.RequestTimeout)
	require.Equal(t, 60*time.Second, cfg.SessionTTL)
	require.Equal(t, scheduler.CacheFirst, cfg.SchedulingMode)
	require.NotEmpty(t, cfg.FamilyMap)
}

func TestRouterConfig_ExactMapOverridesFamily(t *testing.T) {
	cfg := Default()
	cfg.ExactMap = map[string]string{"claude-opus-4-5-20251101": "gemini-exp-special"}
	require.NoError(t, cfg.Validate())

	got := modelrouter.Resolve(cfg.RouterConfig(), modelrouter.ResolveRequest{RequestedModel: "claude-opus-4-5-20251101"})
	require.Equal(t, "gemini-exp-special", got)
}

func TestRouterConfig_FamilyMapDrivesFamilyRegex(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	got := modelrouter.Resolve(cfg.RouterConfig(), modelrouter.ResolveRequest{RequestedModel: "gpt-5-preview"})
	require.Equal(t, "gemini-3-pro-preview", got)
}

func TestBindAddress_LoopbackByDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "127.0.0.1:8045", cfg.BindAddress())
}

func TestBindAddress_AllInterfacesWhenLANAllowed(t *testing.T) {
	cfg := Default()
	cfg.AllowLANAccess = true
	require.Equal(t, "0.0.0.0:8045", cfg.BindAddress())
}
