// Package cache defines the result cache used for request deduplication.
//
// The loader uses the cache for two distinct purposes:
//   - publishing resolved resources so repeated requests are served instantly
//   - marking keys as pending so concurrent requests for the same key are
//     coalesced onto a single in-flight load
//
// A key therefore has three observable states, and implementations must keep
// them distinct instead of overloading a sentinel value:
//
//	Absent  -> never requested (or expired/evicted)
//	Pending -> a load is in flight; attach to it, do not enqueue another
//	Resolved -> the resource is available
//
// A key only moves forward: Absent -> Pending -> Resolved. MarkPending is a
// claim: exactly one concurrent caller installs the marker and gets true back,
// so the lookup-then-mark sequence cannot enqueue the same key twice.
// MarkPending on a resolved key is a no-op; Set always wins over a pending
// marker.
package cache

import (
	"errors"
	"time"

	"github.com/arkite/asyncload/pkg/resource"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache is closed")

// State is the deduplication state of a key.
type State int

const (
	// Absent means the key has never been requested, or its entry expired.
	Absent State = iota

	// Pending means a load for the key is in flight.
	Pending

	// Resolved means the resource for the key is available.
	Resolved
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// ResultCache is the key/value store backing request deduplication.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Lookup is called from any
// caller goroutine; MarkPending and Set are called from the engine and the
// dispatcher respectively.
type ResultCache interface {
	// Lookup reports the state of key. When the state is Resolved, the
	// resource is returned; otherwise the resource is nil.
	Lookup(key string) (*resource.Resource, State)

	// MarkPending claims key for a load. It returns true when the marker
	// was newly installed, false when the key is already pending or
	// resolved; only the caller that wins the claim may enqueue a load.
	// The marker expires after ttl so a crashed load cannot wedge the key
	// forever. Marking a resolved key never regresses it.
	MarkPending(key string, ttl time.Duration) bool

	// Set publishes the resolved resource for key, replacing any pending
	// marker. The entry expires after ttl (0 = no expiry, where supported).
	Set(key string, res *resource.Resource, ttl time.Duration)

	// Evict removes key regardless of its state. Idempotent.
	Evict(key string)

	// Len returns the number of live entries, pending markers included.
	Len() int

	// Close releases resources held by the cache.
	Close() error
}
