// Package config loads the gateway's YAML configuration snapshot and keeps
// it current via an fsnotify watch on the config file, mirroring the
// teacher's config-reload idiom.
package config

import (
	"fmt"
	"time"

	"github.com/cloudcode-gateway/gateway/internal/modelrouter"
	"github.com/cloudcode-gateway/gateway/internal/scheduler"
)

// AuthMode selects how client requests are authenticated.
type AuthMode string

const (
	// AuthOff accepts every request without checking the client API key.
	AuthOff AuthMode = "OFF"
	// AuthStrict requires a valid client API key on every request,
	// including /healthz.
	AuthStrict AuthMode = "STRICT"
	// AuthAllExceptHealth requires a valid client API key on every route
	// except /healthz.
	AuthAllExceptHealth AuthMode = "ALL_EXCEPT_HEALTH"
	// AuthAuto requires a valid client API key for LAN requests but
	// accepts unauthenticated requests from loopback.
	AuthAuto AuthMode = "AUTO"
)

// Valid reports whether m is one of the four recognized auth modes.
func (m AuthMode) Valid() bool {
	switch m {
	case AuthOff, AuthStrict, AuthAllExceptHealth, AuthAuto:
		return true
	default:
		return false
	}
}

const (
	// DefaultPort is the gateway's listen port when unconfigured.
	DefaultPort = 8045
	// DefaultRequestTimeout bounds a single non-streaming upstream request.
	DefaultRequestTimeout = 120 * time.Second
	// MinRequestTimeout and MaxRequestTimeout bound the configurable range.
	MinRequestTimeout = 30 * time.Second
	MaxRequestTimeout = 600 * time.Second
	// DefaultSessionTTL is how long a session-to-account binding is honored
	// after its last refresh.
	DefaultSessionTTL = 60 * time.Second
	// MaxRequestBodyBytes caps request payload parsing.
	MaxRequestBodyBytes = 100 * 1024 * 1024
)

// Config is the gateway's immutable-per-snapshot configuration, reloaded
// wholesale on file change by a Watcher rather than mutated in place.
type Config struct {
	// ListenPort is the TCP port the gateway's HTTP server binds.
	ListenPort int `yaml:"listen-port" json:"listen-port"`
	// AllowLANAccess selects the bind address: false binds 127.0.0.1 only,
	// true binds 0.0.0.0.
	AllowLANAccess bool `yaml:"allow-lan-access" json:"allow-lan-access"`
	// ClientAPIKey authenticates inbound client requests.
	ClientAPIKey string `yaml:"client-api-key" json:"client-api-key"`
	// AuthMode selects the authentication policy; see AuthMode constants.
	AuthMode AuthMode `yaml:"auth-mode" json:"auth-mode"`
	// RequestTimeout bounds a single non-streaming upstream request.
	RequestTimeout time.Duration `yaml:"request-timeout" json:"request-timeout"`
	// SchedulingMode selects the account-selection strategy.
	SchedulingMode scheduler.Mode `yaml:"scheduling-mode" json:"scheduling-mode"`
	// SessionTTL bounds how long a session-to-account binding survives
	// without a refresh.
	SessionTTL time.Duration `yaml:"session-ttl" json:"session-ttl"`
	// FamilyMap maps a predefined family key (modelrouter.FamilyClaude45 and
	// siblings) to the upstream model id it targets.
	FamilyMap map[string]string `yaml:"family-map" json:"family-map"`
	// ExactMap maps a client model id directly to an upstream model id,
	// overriding FamilyMap.
	ExactMap map[string]string `yaml:"exact-map" json:"exact-map"`
	// ProxyURL optionally routes outbound upstream traffic through an
	// HTTP(S) or SOCKS5 proxy.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`
}

// Default returns a Config with every spec-documented default applied.
func Default() *Config {
	return &Config{
		ListenPort:     DefaultPort,
		AllowLANAccess: false,
		AuthMode:       AuthAuto,
		RequestTimeout: DefaultRequestTimeout,
		SchedulingMode: scheduler.CacheFirst,
		SessionTTL:     DefaultSessionTTL,
		ExactMap:       map[string]string{},
		FamilyMap:      modelrouter.DefaultFamilyMap(),
	}
}

// Validate normalizes defaults and rejects out-of-range values.
func (c *Config) Validate() error {
	if c.ListenPort <= 0 {
		c.ListenPort = DefaultPort
	}
	if !c.AuthMode.Valid() {
		return fmt.Errorf("config: invalid auth-mode %q", c.AuthMode)
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestTimeout < MinRequestTimeout || c.RequestTimeout > MaxRequestTimeout {
		return fmt.Errorf("config: request-timeout %s out of range [%s, %s]", c.RequestTimeout, MinRequestTimeout, MaxRequestTimeout)
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	switch c.SchedulingMode {
	case "":
		c.SchedulingMode = scheduler.CacheFirst
	case scheduler.CacheFirst, scheduler.Balance, scheduler.PerformanceFirst:
	default:
		return fmt.Errorf("config: invalid scheduling-mode %q", c.SchedulingMode)
	}
	if c.ExactMap == nil {
		c.ExactMap = map[string]string{}
	}
	if c.FamilyMap == nil {
		c.FamilyMap = modelrouter.DefaultFamilyMap()
	}
	return nil
}

// RouterConfig builds the modelrouter.Config this snapshot describes,
// applying the fixed family-key regexes over the configured FamilyMap
// targets.
func (c *Config) RouterConfig() modelrouter.Config {
	return modelrouter.Config{
		ExactMap:            c.ExactMap,
		Families:            modelrouter.BuildFamilies(c.FamilyMap),
		ForcedFeatureRoutes: map[string]string{},
	}
}

// BindAddress returns the address the HTTP server should bind, per
// AllowLANAccess.
func (c *Config) BindAddress() string {
	host := "127.0.0.1"
	if c.AllowLANAccess {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.ListenPort)
}
