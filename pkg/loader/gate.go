package loader

import "sync"

// pauseGate blocks workers while the engine is paused. Resume swaps in a
// closed channel so waiters unblock without polling.
type pauseGate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{resumed: ch}
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.resumed = make(chan struct{})
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resumed)
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks until the gate is open. Returns false if stop closes first.
func (g *pauseGate) Wait(stop <-chan struct{}) bool {
	g.mu.Lock()
	ch := g.resumed
	g.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-stop:
		return false
	}
}
