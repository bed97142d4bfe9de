// Package loader implements asynchronous resource loading with bounded
// per-frame delivery.
//
// Clients call Load and get a Handle back immediately. The handle carries a
// placeholder until a pool worker fetches and decodes the real payload;
// finished loads are parked on a completion queue and delivered on tick, at
// most MaxUploadsPerTick per tick, so a burst of finished downloads cannot
// stall the caller's frame loop. Results land in a tri-state cache that also
// deduplicates requests for keys already in flight.
package loader

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkite/asyncload/internal/logger"
	"github.com/arkite/asyncload/pkg/cache"
	"github.com/arkite/asyncload/pkg/cache/memory"
	"github.com/arkite/asyncload/pkg/fetch"
	"github.com/arkite/asyncload/pkg/resource"
	"github.com/arkite/asyncload/pkg/tick"
)

// Config holds the engine tunables.
type Config struct {
	// NumWorkers is the pool size. Minimum two: a load callback that
	// schedules another load would deadlock a single worker.
	NumWorkers int

	// MaxUploadsPerTick caps completions delivered per dispatch tick.
	// Zero means unlimited.
	MaxUploadsPerTick int

	// CacheEntries bounds the default in-memory cache. Ignored when a
	// cache is injected. Zero means unbounded.
	CacheEntries int

	// CacheTTL is how long resolved entries live.
	CacheTTL time.Duration

	// PendingTTL is how long an in-flight marker lives before a stuck
	// load stops deduplicating new requests.
	PendingTTL time.Duration

	// TickInterval is the cadence of the default wall-clock tick source.
	// Ignored when a tick source is injected.
	TickInterval time.Duration
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		NumWorkers:        2,
		MaxUploadsPerTick: 2,
		CacheEntries:      500,
		CacheTTL:          time.Minute,
		PendingTTL:        time.Minute,
		TickInterval:      50 * time.Millisecond,
	}
}

// Engine is the asynchronous loader.
type Engine struct {
	cfg Config

	cache      cache.ResultCache
	ownsCache  bool
	fetch      *fetch.Registry
	ticks      tick.Source
	ownsTicker *tick.Ticker
	metrics    *Metrics

	requests    fifo[*request]
	completions fifo[completion]
	gate        *pauseGate
	wake        chan struct{}

	mu         sync.Mutex // guards bindings and placeholders
	bindings   map[string][]*Handle
	loadingRes *resource.Resource
	errorRes   *resource.Resource

	startWanted atomic.Bool
	running     atomic.Bool
	closed      atomic.Bool
	numWorkers  atomic.Int64
	maxUploads  atomic.Int64

	lifecycle sync.Mutex // serializes Start, Stop and Close
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	unsubscribe func()
}

// New creates an engine. Workers do not start until the first Load or an
// explicit Start.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.NumWorkers < 2 {
		return nil, ErrTooFewWorkers
	}
	if cfg.MaxUploadsPerTick < 0 {
		return nil, ErrNegativeQuota
	}

	e := &Engine{
		cfg:      cfg,
		gate:     newPauseGate(),
		wake:     make(chan struct{}, 1),
		bindings: make(map[string][]*Handle),
	}
	e.numWorkers.Store(int64(cfg.NumWorkers))
	e.maxUploads.Store(int64(cfg.MaxUploadsPerTick))

	for _, opt := range opts {
		opt(e)
	}

	if e.cache == nil {
		e.cache = memory.NewMemoryCache(cfg.CacheEntries)
		e.ownsCache = true
	}
	if e.fetch == nil {
		e.fetch = fetch.NewDefaultRegistry()
	}
	if e.ticks == nil {
		interval := cfg.TickInterval
		if interval <= 0 {
			interval = DefaultConfig().TickInterval
		}
		t := tick.NewTicker(interval)
		e.ticks = t
		e.ownsTicker = t
	}
	e.unsubscribe = e.ticks.Subscribe(e.tick)

	return e, nil
}

// Load requests the resource behind key and returns a handle immediately.
//
// The cache decides what happens: a resolved key settles the handle now, a
// pending key attaches the handle to the in-flight load, an absent key is
// marked pending and queued for the pool. WithNoCache skips all of that and
// always queues.
func (e *Engine) Load(key string, opts ...RequestOption) *Handle {
	h := newHandle(key, e.LoadingPlaceholder())

	if strings.TrimSpace(key) == "" {
		e.metrics.ObserveRequest(OutcomeDropped)
		h.complete(e.ErrorPlaceholder(), ErrBlankKey)
		return h
	}
	if e.closed.Load() {
		h.complete(e.ErrorPlaceholder(), ErrClosed)
		return h
	}

	req := &request{key: key}
	for _, opt := range opts {
		opt(req)
	}

	if !req.noCache {
		res, state := e.cache.Lookup(key)
		if state == cache.Resolved {
			e.metrics.ObserveRequest(OutcomeCacheHit)
			h.complete(res, nil)
			return h
		}
		// Claim the key. Exactly one concurrent caller installs the
		// pending marker and enqueues; everyone else attaches to the
		// in-flight load.
		if state == cache.Pending || !e.cache.MarkPending(key, e.cfg.PendingTTL) {
			e.metrics.ObserveRequest(OutcomeCoalesced)
			e.startWanted.Store(true)
			e.bind(key, h)
			// The dispatch tick may have resolved the key between the
			// lookup and the bind; settle straggling handles now.
			if res, state := e.cache.Lookup(key); state == cache.Resolved {
				for _, hb := range e.takeBindings(key) {
					hb.complete(res, nil)
				}
			}
			return h
		}
	}

	// First miss arms the deferred start; workers come up on the next
	// tick rather than inline so Load stays cheap.
	e.startWanted.Store(true)
	e.bind(key, h)
	e.requests.Push(req)
	e.metrics.ObserveRequest(OutcomeEnqueued)

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return h
}

func (e *Engine) bind(key string, h *Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings[key] = append(e.bindings[key], h)
}

func (e *Engine) takeBindings(key string) []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs := e.bindings[key]
	delete(e.bindings, key)
	return hs
}

// tick drains up to the per-tick quota of completions and settles the
// handles bound to them. Runs on the tick source's goroutine.
func (e *Engine) tick() {
	if e.closed.Load() {
		return
	}
	if !e.running.Load() {
		if !e.startWanted.Load() {
			return
		}
		e.Start()
	}
	if e.gate.Paused() {
		return
	}

	quota := int(e.maxUploads.Load())
	n := 0
	for quota == 0 || n < quota {
		comp, ok := e.completions.TryPop()
		if !ok {
			break
		}
		n++

		if !comp.noCache {
			e.cache.Set(comp.key, comp.res, e.cfg.CacheTTL)
		}
		for _, h := range e.takeBindings(comp.key) {
			h.complete(comp.res, comp.err)
		}
	}

	if n > 0 {
		e.metrics.ObserveDispatch(n)
	}
	e.metrics.SetQueueDepths(e.requests.Len(), e.completions.Len())
}

// Start brings up the worker pool now instead of waiting for the first
// Load. Idempotent.
func (e *Engine) Start() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.running.Load() || e.closed.Load() {
		return
	}

	e.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	n := int(e.numWorkers.Load())
	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go e.worker(ctx, e.stopCh, i)
	}
	e.running.Store(true)
	e.startWanted.Store(true)
	logger.Info("loader started", "workers", n, "max_uploads_per_tick", e.maxUploads.Load())
}

// Stop shuts the worker pool down and waits for in-flight loads to finish
// or abort. Queued requests stay queued; Start resumes work on them.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	if !e.running.Load() {
		e.startWanted.Store(false)
		e.lifecycle.Unlock()
		return
	}
	close(e.stopCh)
	e.cancel()
	e.running.Store(false)
	e.startWanted.Store(false)
	e.lifecycle.Unlock()

	e.wg.Wait()
	logger.Info("loader stopped")
}

// Pause holds workers before their next load and stops completion dispatch.
// In-flight fetches finish but their results wait for Resume.
func (e *Engine) Pause() {
	e.gate.Pause()
	logger.Debug("loader paused")
}

// Resume reopens the gate; delivery restarts on the next tick.
func (e *Engine) Resume() {
	e.gate.Resume()
	logger.Debug("loader resumed")
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool {
	return e.gate.Paused()
}

// Close stops the engine and releases everything it owns. Handles still
// loading never settle after Close.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.Stop()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.ownsTicker != nil {
		e.ownsTicker.Stop()
	}
	if e.ownsCache {
		return e.cache.Close()
	}
	return nil
}

// NumWorkers returns the configured pool size.
func (e *Engine) NumWorkers() int {
	return int(e.numWorkers.Load())
}

// SetNumWorkers changes the pool size. Only allowed before the pool starts,
// and never below two.
func (e *Engine) SetNumWorkers(n int) error {
	if n < 2 {
		return ErrTooFewWorkers
	}
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.running.Load() {
		return ErrAlreadyStarted
	}
	e.numWorkers.Store(int64(n))
	return nil
}

// MaxUploadsPerTick returns the per-tick delivery quota. Zero is unlimited.
func (e *Engine) MaxUploadsPerTick() int {
	return int(e.maxUploads.Load())
}

// SetMaxUploadsPerTick changes the per-tick delivery quota. Zero removes
// the cap; takes effect on the next tick.
func (e *Engine) SetMaxUploadsPerTick(n int) error {
	if n < 0 {
		return ErrNegativeQuota
	}
	e.maxUploads.Store(int64(n))
	return nil
}

// LoadingPlaceholder returns the resource handles carry while loading.
func (e *Engine) LoadingPlaceholder() *resource.Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loadingRes == nil {
		e.loadingRes = resource.LoadingPlaceholder()
	}
	return e.loadingRes
}

// SetLoadingPlaceholder replaces the loading placeholder. Only handles
// created afterwards see it.
func (e *Engine) SetLoadingPlaceholder(res *resource.Resource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadingRes = res
}

// SetLoadingPlaceholderPath loads the placeholder from a local file.
func (e *Engine) SetLoadingPlaceholderPath(path string) error {
	res, err := resource.DecodeFile(path)
	if err != nil {
		return err
	}
	e.SetLoadingPlaceholder(res)
	return nil
}

// ErrorPlaceholder returns the resource handles carry after a failed load.
func (e *Engine) ErrorPlaceholder() *resource.Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.errorRes == nil {
		e.errorRes = resource.ErrorPlaceholder()
	}
	return e.errorRes
}

// SetErrorPlaceholder replaces the error placeholder.
func (e *Engine) SetErrorPlaceholder(res *resource.Resource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorRes = res
}

// SetErrorPlaceholderPath loads the error placeholder from a local file.
func (e *Engine) SetErrorPlaceholderPath(path string) error {
	res, err := resource.DecodeFile(path)
	if err != nil {
		return err
	}
	e.SetErrorPlaceholder(res)
	return nil
}
