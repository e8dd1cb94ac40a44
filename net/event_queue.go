package net

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/d4xyjen/jedi/utils"
)

type SessionEventType uint8

const (
	SessionEventStart SessionEventType = iota + 1
	SessionEventMessage
	SessionEventDestroy
)

func (t SessionEventType) String() string {
	switch t {
	case SessionEventStart:
		return "start"
	case SessionEventMessage:
		return "message"
	case SessionEventDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// SessionEvent is one entry of the event queue. Payload is owned by the queue and
// stays valid until the event is popped or the queue is cleared.
type SessionEvent struct {
	SessionID uuid.UUID
	Type      SessionEventType
	Payload   []byte
}

// SessionEventQueue is the FIFO between every session's receive loop and the single
// event processor. It counts pending events per session for backpressure.
type SessionEventQueue struct {
	mu      sync.Mutex
	events  *queue.Queue
	pending map[uuid.UUID]int
	pool    *utils.BufferPool
}

func NewSessionEventQueue(pool *utils.BufferPool) *SessionEventQueue {
	return &SessionEventQueue{
		events:  queue.New(),
		pending: make(map[uuid.UUID]int),
		pool:    pool,
	}
}

// Enqueue copies payload into a pooled buffer and returns the session's pending count.
func (q *SessionEventQueue) Enqueue(id uuid.UUID, typ SessionEventType, payload []byte) int {
	var buf []byte
	if len(payload) > 0 {
		buf = append(q.pool.Take(), payload...)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.events.Add(&SessionEvent{SessionID: id, Type: typ, Payload: buf})
	q.pending[id]++
	return q.pending[id]
}

// Peek returns the oldest event without removing it. Single consumer only.
func (q *SessionEventQueue) Peek() (SessionEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.events.Length() == 0 {
		return SessionEvent{}, false
	}
	return *q.events.Peek().(*SessionEvent), true
}

// Pop removes the oldest event and releases its payload. Single consumer only.
func (q *SessionEventQueue) Pop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.events.Length() == 0 {
		return false
	}
	q.release(q.events.Remove().(*SessionEvent))
	return true
}

// must hold q.mu
func (q *SessionEventQueue) release(e *SessionEvent) {
	if e.Payload != nil {
		q.pool.Return(e.Payload)
	}
	if n := q.pending[e.SessionID] - 1; n > 0 {
		q.pending[e.SessionID] = n
	} else {
		delete(q.pending, e.SessionID)
	}
}

// Pending is the number of queued events of one session.
func (q *SessionEventQueue) Pending(id uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[id]
}

func (q *SessionEventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events.Length()
}

// Clear drops every event.
func (q *SessionEventQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.events.Length() > 0 {
		q.release(q.events.Remove().(*SessionEvent))
	}
}
