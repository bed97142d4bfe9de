package loader

import (
	"github.com/arkite/asyncload/pkg/cache"
	"github.com/arkite/asyncload/pkg/fetch"
	"github.com/arkite/asyncload/pkg/resource"
	"github.com/arkite/asyncload/pkg/tick"
)

// LoadFunc produces a resource for a key, replacing the built-in fetch and
// decode pipeline for that request.
type LoadFunc func(key string) (*resource.Resource, error)

// PostFunc transforms a resource on the worker goroutine after it loads,
// before it is cached and dispatched. Useful for decode-adjacent work like
// thumbnailing that should not run on the frame thread.
type PostFunc func(res *resource.Resource) *resource.Resource

// Option configures an Engine at construction.
type Option func(*Engine)

// WithCache installs the result cache. The caller keeps ownership; Close
// will not close a cache installed this way.
func WithCache(c cache.ResultCache) Option {
	return func(e *Engine) {
		e.cache = c
		e.ownsCache = false
	}
}

// WithFetchRegistry installs the transport registry used for keys that
// carry a URL scheme.
func WithFetchRegistry(r *fetch.Registry) Option {
	return func(e *Engine) { e.fetch = r }
}

// WithTickSource installs the tick source that drives completion dispatch.
// The caller keeps ownership of the source's lifecycle.
func WithTickSource(s tick.Source) Option {
	return func(e *Engine) {
		e.ticks = s
		e.ownsTicker = nil
	}
}

// WithMetrics installs prometheus instrumentation. Without it the engine
// records nothing.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// RequestOption configures a single Load call.
type RequestOption func(*request)

// WithLoadFunc replaces the fetch and decode pipeline for this request.
func WithLoadFunc(fn LoadFunc) RequestOption {
	return func(r *request) { r.loadFn = fn }
}

// WithPostFunc runs fn on the worker after the resource loads.
func WithPostFunc(fn PostFunc) RequestOption {
	return func(r *request) { r.postFn = fn }
}

// WithNoCache bypasses the result cache for this request: no dedup against
// in-flight loads and no caching of the outcome.
func WithNoCache() RequestOption {
	return func(r *request) { r.noCache = true }
}

// request is one unit of work for the pool.
type request struct {
	key     string
	loadFn  LoadFunc
	postFn  PostFunc
	noCache bool
}

// completion is one finished load waiting for dispatch.
type completion struct {
	key     string
	res     *resource.Resource
	err     error
	noCache bool
}
