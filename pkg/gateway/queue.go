// Package gateway is the web-facing service: it turns raw user input
// into packets, proxies them to the core, and routes finalized output to
// its destination.
package gateway

import (
	"fmt"
	"sync"
)

// QueuedMessage is one deferred input waiting for the core to wake.
type QueuedMessage struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

// MessageQueue is a bounded in-memory FIFO. Messages do not survive a
// process restart; restart semantics are a deployment choice.
type MessageQueue struct {
	mu    sync.Mutex
	items []QueuedMessage
	cap   int
}

// NewMessageQueue creates a queue holding at most capacity messages.
func NewMessageQueue(capacity int) *MessageQueue {
	if capacity <= 0 {
		capacity = 50
	}
	return &MessageQueue{cap: capacity}
}

// Enqueue appends a message, failing when the queue is full.
func (q *MessageQueue) Enqueue(m QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return fmt.Errorf("message queue full (%d)", q.cap)
	}
	q.items = append(q.items, m)
	return nil
}

// Dequeue pops the oldest message.
func (q *MessageQueue) Dequeue() (QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedMessage{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

// Requeue puts a message back at the front after a failed drain attempt.
func (q *MessageQueue) Requeue(m QueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]QueuedMessage{m}, q.items...)
}

// Len reports the current queue depth.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
