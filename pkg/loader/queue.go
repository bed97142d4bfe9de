package loader

import "sync"

// fifo is a mutex-guarded queue. Both the request and completion queues are
// unbounded; backpressure is applied by the workers, not the queue.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *fifo[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
}

// TryPop removes and returns the oldest item, or reports false when empty.
func (q *fifo[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *fifo[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
