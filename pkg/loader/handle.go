package loader

import (
	"sync"

	"github.com/google/uuid"

	"github.com/arkite/asyncload/pkg/resource"
)

// HandleState is the lifecycle of a client handle.
type HandleState int

const (
	// Loading means the handle still holds the loading placeholder.
	Loading HandleState = iota
	// Loaded means the real resource arrived.
	Loaded
	// Errored means the load failed and the handle holds the error
	// placeholder.
	Errored
)

func (s HandleState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Handle is the client's view of one requested resource. It is usable
// immediately: Resource returns the loading placeholder until the real
// payload arrives on a dispatch tick.
type Handle struct {
	id  string
	key string

	mu     sync.Mutex
	res    *resource.Resource
	state  HandleState
	err    error
	onLoad func(*Handle)
	done   chan struct{}
}

func newHandle(key string, placeholder *resource.Resource) *Handle {
	return &Handle{
		id:   uuid.NewString(),
		key:  key,
		res:  placeholder,
		done: make(chan struct{}),
	}
}

// ID returns the handle's unique identifier. Distinct handles for the same
// key have distinct IDs.
func (h *Handle) ID() string { return h.id }

// Key returns the resource key this handle was created for.
func (h *Handle) Key() string { return h.key }

// Resource returns the current resource: a placeholder while loading, the
// real payload once loaded, the error placeholder on failure.
func (h *Handle) Resource() *resource.Resource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.res
}

// State returns the handle's lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsLoaded reports whether the real resource arrived. False while loading
// and false after an error.
func (h *Handle) IsLoaded() bool {
	return h.State() == Loaded
}

// Err returns the load error, nil unless the handle is Errored.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// OnLoad registers fn to run once when the handle settles, on the dispatch
// goroutine. If the handle already settled, fn runs synchronously now.
// Only one callback is kept; a later registration replaces an unfired one.
func (h *Handle) OnLoad(fn func(*Handle)) {
	h.mu.Lock()
	settled := h.state != Loading
	if !settled {
		h.onLoad = fn
	}
	h.mu.Unlock()

	if settled && fn != nil {
		fn(h)
	}
}

// Done returns a channel closed when the handle settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// complete settles the handle exactly once. Later calls are ignored.
func (h *Handle) complete(res *resource.Resource, err error) {
	h.mu.Lock()
	if h.state != Loading {
		h.mu.Unlock()
		return
	}
	h.res = res
	h.err = err
	if err != nil {
		h.state = Errored
	} else {
		h.state = Loaded
	}
	fn := h.onLoad
	h.onLoad = nil
	h.mu.Unlock()

	if fn != nil {
		fn(h)
	}
	close(h.done)
}
