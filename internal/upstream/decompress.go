package upstream

import (
	"compress/flate"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// DecompressBody wraps resp.Body so callers can read it transparently
// regardless of the upstream's Content-Encoding, mirroring the gateway's
// inbound gzip-tolerant request handling on the outbound side.
func DecompressBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &gzipReadCloser{gz: gz, underlying: resp.Body}, nil
	case "deflate":
		return &deflateReadCloser{fl: flate.NewReader(resp.Body), underlying: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

type gzipReadCloser struct {
	gz         *gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	underErr := g.underlying.Close()
	if gzErr != nil {
		return gzErr
	}
	return underErr
}

type deflateReadCloser struct {
	fl         io.ReadCloser
	underlying io.ReadCloser
}

func (d *deflateReadCloser) Read(p []byte) (int, error) { return d.fl.Read(p) }

func (d *deflateReadCloser) Close() error {
	flErr := d.fl.Close()
	underErr := d.underlying.Close()
	if flErr != nil {
		return flErr
	}
	return underErr
}
