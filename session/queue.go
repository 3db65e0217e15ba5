package session

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned when the pending queue reached its bound
var ErrQueueFull = errors.New("pending queue full")

// PendingQueue holds inbound messages that arrive before the upstream
// handshake completes. It is drained exactly once, in arrival order.
type PendingQueue struct {
	items  [][]byte
	maxLen int
	mu     sync.Mutex
}

// NewPendingQueue creates a queue holding at most maxLen messages
func NewPendingQueue(maxLen int) *PendingQueue {
	return &PendingQueue{
		items:  make([][]byte, 0),
		maxLen: maxLen,
	}
}

// MaxLen returns the queue bound
func (q *PendingQueue) MaxLen() int {
	return q.maxLen
}

// Append adds a message at the tail.
// Returns ErrQueueFull if the queue already holds maxLen messages.
func (q *PendingQueue) Append(msg []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxLen {
		return ErrQueueFull
	}
	q.items = append(q.items, msg)
	return nil
}

// Drain returns every queued message in FIFO order and empties the queue
func (q *PendingQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Clear discards all queued messages
func (q *PendingQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Len returns the number of queued messages
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
