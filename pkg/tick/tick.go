// Package tick provides the pulse that drives completion dispatch.
//
// The loader drains finished work on a cadence rather than immediately, so
// callers can bound how much completion work happens per frame. A Source
// abstracts where that cadence comes from: a wall-clock ticker in production,
// a manually stepped source in tests, or an embedding application's own
// frame loop via Func.
package tick

import (
	"sync"
	"time"
)

// Source delivers periodic ticks to subscribers.
type Source interface {
	// Subscribe registers fn to run on every tick and returns a cancel
	// function. fn runs on the source's goroutine; subscribers must not
	// block.
	Subscribe(fn func()) (cancel func())
}

// fanout is the shared subscriber bookkeeping for the Source implementations.
type fanout struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

func (f *fanout) subscribe(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func())
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fanout) fire() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Ticker is a wall-clock Source backed by time.Ticker.
type Ticker struct {
	fanout

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTicker starts a ticker firing every interval until Stop is called.
func NewTicker(interval time.Duration) *Ticker {
	t := &Ticker{stopCh: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.fire()
			}
		}
	}()

	return t
}

// Subscribe registers fn to run on every tick.
func (t *Ticker) Subscribe(fn func()) func() {
	return t.subscribe(fn)
}

// Stop halts the ticker. Idempotent.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Manual is a Source stepped explicitly by the caller. Used in tests and by
// applications that want to pump the loader from their own frame loop.
type Manual struct {
	fanout
}

// NewManual creates a manually stepped source.
func NewManual() *Manual {
	return &Manual{}
}

// Subscribe registers fn to run on every Step.
func (m *Manual) Subscribe(fn func()) func() {
	return m.subscribe(fn)
}

// Step fires one tick synchronously.
func (m *Manual) Step() {
	m.fire()
}

// Func adapts a single callback registration into a Source. The returned
// pump function fires all current subscribers; call it from the host
// application's frame callback.
func Func() (Source, func()) {
	m := NewManual()
	return m, m.Step
}
