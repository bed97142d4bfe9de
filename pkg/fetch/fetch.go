// Package fetch resolves remote resource URLs to raw bytes.
//
// A Registry maps URL schemes to Fetcher implementations. The loader consults
// the registry for every key that carries a scheme; keys without a registered
// scheme are treated as local filesystem paths by the caller.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// ErrSchemeNotRegistered is returned when no fetcher handles the URL scheme.
var ErrSchemeNotRegistered = errors.New("fetch: scheme not registered")

// Fetcher retrieves the full payload behind a URL.
type Fetcher interface {
	// Fetch downloads the resource at rawURL and returns its bytes.
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Registry routes URLs to fetchers by scheme.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// NewDefaultRegistry creates a registry with the standard transports wired:
// http and https over a shared HTTP client, plus ftp, smb and s3 with
// default configuration.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	h := NewHTTPFetcher(DefaultHTTPConfig())
	r.Register("http", h)
	r.Register("https", h)
	r.Register("ftp", NewFTPFetcher(DefaultFTPConfig()))
	r.Register("smb", NewSMBFetcher(DefaultSMBConfig()))
	r.Register("s3", NewS3Fetcher(DefaultS3Config()))
	return r
}

// Register installs f for scheme, replacing any previous fetcher.
func (r *Registry) Register(scheme string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[scheme] = f
}

// Lookup returns the fetcher for scheme, if any.
func (r *Registry) Lookup(scheme string) (Fetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[scheme]
	return f, ok
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Fetch parses rawURL and dispatches to the fetcher registered for its scheme.
func (r *Registry) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url %q: %w", rawURL, err)
	}

	f, ok := r.Lookup(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSchemeNotRegistered, u.Scheme)
	}
	return f.Fetch(ctx, rawURL)
}
