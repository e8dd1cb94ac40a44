package utils

import (
	"sync"
	"sync/atomic"
)

// BufferPool hands out byte slices of at least Size capacity and keeps every
// returned slice for reuse. It never shrinks on its own; Clear drops the free list.
type BufferPool struct {
	mu        sync.Mutex
	free      [][]byte
	size      int
	allocated atomic.Int64
}

func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = 1
	}
	return &BufferPool{size: size}
}

// Size is the capacity of freshly allocated buffers.
func (p *BufferPool) Size() int {
	return p.size
}

// Take returns an empty buffer, reusing a free one when available.
func (p *BufferPool) Take() []byte {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return b
	}
	p.mu.Unlock()

	p.allocated.Add(1)
	return make([]byte, 0, p.size)
}

// Return gives b back to the pool. b must not be used afterwards.
func (p *BufferPool) Return(b []byte) {
	if cap(b) == 0 {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, b[:0])
	p.mu.Unlock()
}

// Clear drops every free buffer.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	clear(p.free)
	p.free = p.free[:0]
	p.mu.Unlock()
}

// Free is the number of buffers waiting for reuse.
func (p *BufferPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated counts buffers created by Take since the pool was made.
func (p *BufferPool) Allocated() int64 {
	return p.allocated.Load()
}
