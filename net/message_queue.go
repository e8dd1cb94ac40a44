package net

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/d4xyjen/jedi/utils"
)

// MessageQueue holds a session's outbound frames until the send loop picks them up.
// Producers are any goroutine calling Session.Send; the consumer is the send loop.
type MessageQueue struct {
	mu     sync.Mutex
	frames *queue.Queue
	bytes  int
	pool   *utils.BufferPool
}

func NewMessageQueue(pool *utils.BufferPool) *MessageQueue {
	return &MessageQueue{
		frames: queue.New(),
		pool:   pool,
	}
}

// Enqueue copies b into a pooled buffer and returns the new depth.
func (q *MessageQueue) Enqueue(b []byte) int {
	buf := append(q.pool.Take(), b...)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames.Add(buf)
	q.bytes += len(buf)
	return q.frames.Length()
}

// EnqueueIfBelow queues a copy of b only while the depth is below limit. It returns
// the depth after the call and whether b was queued.
func (q *MessageQueue) EnqueueIfBelow(b []byte, limit int) (int, bool) {
	buf := append(q.pool.Take(), b...)

	q.mu.Lock()
	if n := q.frames.Length(); n >= limit {
		q.mu.Unlock()
		q.pool.Return(buf)
		return n, false
	}
	q.frames.Add(buf)
	q.bytes += len(buf)
	n := q.frames.Length()
	q.mu.Unlock()
	return n, true
}

// Len is the number of queued frames.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames.Length()
}

// DequeueAndCoalesce pops every queued frame and concatenates them, in order, into dst.
// dst is reallocated only when too small. It reports false when nothing was queued.
func (q *MessageQueue) DequeueAndCoalesce(dst []byte) ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frames.Length() == 0 {
		return dst, false
	}

	if cap(dst) < q.bytes {
		dst = make([]byte, 0, q.bytes)
	}
	dst = dst[:0]

	for q.frames.Length() > 0 {
		buf := q.frames.Remove().([]byte)
		dst = append(dst, buf...)
		q.pool.Return(buf)
	}
	q.bytes = 0
	return dst, true
}

// Clear drops every queued frame.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.frames.Length() > 0 {
		q.pool.Return(q.frames.Remove().([]byte))
	}
	q.bytes = 0
}
