package upstream

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func TestNewClient_NoProxy(t *testing.T) {
	c, err := NewClient(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, DefaultConfig().RequestTimeout, c.Timeout)
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	_, err := NewClient(ClientConfig{ProxyURL: "://bad"})
	require.Error(t, err)
}

func TestStreamingClient_HasNoTimeout(t *testing.T) {
	c, err := StreamingClient(DefaultConfig())
	require.NoError(t, err)
	require.Zero(t, c.Timeout)
}

func TestDecompressBody_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	resp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(bytes.NewReader(buf.Bytes())),
	}
	rc, err := DecompressBody(resp)
	require.NoError(t, err)
	defer rc.Close()

	out := make([]byte, 5)
	n, err := rc.Read(out)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}
