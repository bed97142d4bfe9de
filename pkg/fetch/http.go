package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures the HTTP/HTTPS fetcher.
type HTTPConfig struct {
	// Timeout bounds the whole request, connect through body read.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBytes caps the response body size. Zero means unlimited.
	MaxBytes int64
}

// DefaultHTTPConfig returns the standard HTTP fetcher settings.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:   30 * time.Second,
		UserAgent: "asyncload/1.0",
	}
}

// HTTPFetcher downloads resources over HTTP and HTTPS.
type HTTPFetcher struct {
	client *http.Client
	cfg    HTTPConfig
}

// NewHTTPFetcher creates an HTTP fetcher with its own client.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// Fetch downloads rawURL and returns the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("http fetch: build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("http fetch %s: read body: %w", rawURL, err)
	}
	if f.cfg.MaxBytes > 0 && int64(len(data)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("http fetch %s: body exceeds %d bytes", rawURL, f.cfg.MaxBytes)
	}
	return data, nil
}
