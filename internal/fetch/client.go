// Package fetch downloads remote images concurrently into a local cache
// directory.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// defaultTimeout bounds a single request, including reading the body.
const defaultTimeout = 3 * time.Minute

// defaultMaxSize is 25 MB in bytes.
const defaultMaxSize = 26214400

// Client is the transport the Fetcher downloads through.
type Client interface {
	// Get fetches url with the given request headers and returns the
	// response body. Non-2xx responses are errors.
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// ClientConfig holds the configuration for creating an HTTPClient.
type ClientConfig struct {
	// Timeout bounds each call. Zero means three minutes.
	Timeout time.Duration
	// Proxy routes every request through an HTTP proxy when set.
	Proxy *url.URL
	// TLS overrides the transport's TLS configuration when set.
	TLS *tls.Config
	// MaxSize limits the response body. Zero means 25 MB.
	MaxSize int64
}

// HTTPClient is a Client backed by net/http.
type HTTPClient struct {
	httpClient *http.Client
	maxSize    int64
}

// NewHTTPClient creates an HTTPClient. The proxy is taken from cfg only and
// never re-read from the environment.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if cfg.Proxy != nil {
		transport.Proxy = http.ProxyURL(cfg.Proxy)
	}
	if cfg.TLS != nil {
		transport.TLSClientConfig = cfg.TLS
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		maxSize: cfg.MaxSize,
	}
}

// Get performs a GET request and returns the full body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = append([]string(nil), v...)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxSize {
		return nil, fmt.Errorf("response body exceeds %d bytes", c.maxSize)
	}

	return body, nil
}
