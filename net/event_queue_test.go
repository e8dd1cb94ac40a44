package net

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4xyjen/jedi/utils"
)

func TestSessionEventQueueFIFO(t *testing.T) {
	q := NewSessionEventQueue(utils.NewBufferPool(16))
	a, b := uuid.New(), uuid.New()

	q.Enqueue(a, SessionEventStart, nil)
	q.Enqueue(b, SessionEventMessage, []byte{1, 2})
	q.Enqueue(a, SessionEventDestroy, nil)

	e, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, a, e.SessionID)
	assert.Equal(t, SessionEventStart, e.Type)

	again, _ := q.Peek()
	assert.Equal(t, e, again, "peek does not consume")
	assert.Equal(t, 3, q.Len())

	events := drainEvents(q)
	require.Len(t, events, 3)
	assert.Equal(t, SessionEventMessage, events[1].Type)
	assert.Equal(t, []byte{1, 2}, events[1].Payload)
	assert.Equal(t, SessionEventDestroy, events[2].Type)

	_, ok = q.Peek()
	assert.False(t, ok)
	assert.False(t, q.Pop())
}

func TestSessionEventQueuePendingCounters(t *testing.T) {
	q := NewSessionEventQueue(utils.NewBufferPool(16))
	a, b := uuid.New(), uuid.New()

	assert.Equal(t, 1, q.Enqueue(a, SessionEventStart, nil))
	assert.Equal(t, 2, q.Enqueue(a, SessionEventMessage, []byte{1}))
	assert.Equal(t, 1, q.Enqueue(b, SessionEventMessage, []byte{2}))

	assert.Equal(t, 2, q.Pending(a))
	assert.Equal(t, 1, q.Pending(b))

	q.Pop()
	assert.Equal(t, 1, q.Pending(a))
	q.Pop()
	assert.Equal(t, 0, q.Pending(a))

	q.mu.Lock()
	_, tracked := q.pending[a]
	q.mu.Unlock()
	assert.False(t, tracked, "counters at zero are removed")

	q.Pop()
	q.mu.Lock()
	assert.Empty(t, q.pending)
	q.mu.Unlock()
}

func TestSessionEventQueueCopiesPayload(t *testing.T) {
	pool := utils.NewBufferPool(16)
	q := NewSessionEventQueue(pool)

	in := []byte{7, 8, 9}
	q.Enqueue(uuid.New(), SessionEventMessage, in)
	in[0] = 0

	e, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, []byte{7, 8, 9}, e.Payload)

	q.Pop()
	assert.Equal(t, 1, pool.Free(), "payload buffer goes back to the pool")
}

func TestSessionEventQueueClear(t *testing.T) {
	pool := utils.NewBufferPool(16)
	q := NewSessionEventQueue(pool)
	id := uuid.New()
	for i := 0; i < 5; i++ {
		q.Enqueue(id, SessionEventMessage, []byte{byte(i)})
	}

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Pending(id))
	assert.Equal(t, 5, pool.Free())
}

func TestSessionEventTypeString(t *testing.T) {
	assert.Equal(t, "start", SessionEventStart.String())
	assert.Equal(t, "message", SessionEventMessage.String())
	assert.Equal(t, "destroy", SessionEventDestroy.String())
	assert.Equal(t, "unknown", SessionEventType(0).String())
}
