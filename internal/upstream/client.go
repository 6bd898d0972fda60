// Package upstream builds the shared HTTP client used to reach the Cloud
// Code / Antigravity backend: pooled connections, optional SOCKS5/HTTP proxy
// dialing, and transparent gzip response decompression.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ClientConfig configures the shared upstream transport.
type ClientConfig struct {
	// ProxyURL, if set, routes all upstream traffic through a SOCKS5 or
	// HTTP(S) proxy, e.g. "socks5://127.0.0.1:1080" or "http://proxy:8080".
	ProxyURL string
	// MaxIdleConnsPerHost bounds the pooled keep-alive connections held open
	// per upstream host.
	MaxIdleConnsPerHost int
	// RequestTimeout bounds a single non-streaming request; streaming
	// requests use context cancellation instead.
	RequestTimeout time.Duration
}

// DefaultConfig returns sane defaults for talking to a single upstream host
// under moderate concurrency.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConnsPerHost: 32,
		RequestTimeout:      120 * time.Second,
	}
}

// NewClient builds an *http.Client wired per cfg. Response bodies are not
// pre-decompressed here; callers that need gzip-transparent reads should
// wrap the body with DecompressBody.
func NewClient(cfg ClientConfig) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		// Cloud Code streams responses; letting net/http auto-negotiate
		// gzip breaks chunked SSE decoding, so upstream requests always ask
		// for identity encoding and decompress explicitly when needed.
		DisableCompression: true,
	}

	if cfg.ProxyURL != "" {
		dialer, err := buildDialer(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}, nil
}

// StreamingClient returns a client identical to NewClient's but with no
// overall request timeout, since long-lived SSE responses must not be cut
// off by a fixed deadline; callers control lifetime via context.
func StreamingClient(cfg ClientConfig) (*http.Client, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c.Timeout = 0
	return c, nil
}

func buildDialer(proxyURL string) (proxy.Dialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: invalid proxy url: %w", err)
	}
	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("upstream: building proxy dialer: %w", err)
	}
	return dialer, nil
}
