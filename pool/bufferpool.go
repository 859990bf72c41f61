// File: pool/bufferpool.go
// Package pool provides the fixed-capacity buffer allocator and the
// per-connection write queues used by a session's I/O engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hiochat/api"
)

const (
	// DefaultBufferSize is the slot capacity, sized to one maximal frame.
	DefaultBufferSize = 1024
	// DefaultBufferCount is the number of slots a pool pre-allocates.
	DefaultBufferCount = 256
)

// IOBuffer is a loan of one pool slot. Data always spans the full slot
// capacity; Length counts the valid bytes and WriteOffset the bytes
// already drained on the outbound path.
//
// Invariant: 0 ≤ WriteOffset ≤ Length ≤ cap(Data).
type IOBuffer struct {
	Data        []byte
	Length      int
	WriteOffset int
	BufferID    int
}

// Remaining returns the undrained byte count of an outbound buffer.
func (b *IOBuffer) Remaining() int { return b.Length - b.WriteOffset }

// Bytes returns the valid prefix of the slot.
func (b *IOBuffer) Bytes() []byte { return b.Data[:b.Length] }

// BufferPool pre-allocates one contiguous arena of count slots of size
// bytes each and lends them out by slot id. It also keeps the per-fd
// FIFO queues of buffers awaiting drain to a socket.
//
// All operations are serialized by an internal mutex. In the canonical
// deployment each session owns its pool, so contention is intra-thread.
type BufferPool struct {
	mu      sync.Mutex
	arena   []byte
	size    int
	count   int
	free    []int
	lent    []bool
	pending map[int]*queue.Queue
}

// NewBufferPool constructs a pool of count slots of size bytes.
func NewBufferPool(size, count int) (*BufferPool, error) {
	if size <= 0 || count <= 0 {
		return nil, fmt.Errorf("pool size=%d count=%d: %w", size, count, api.ErrInvalidArgument)
	}
	p := &BufferPool{
		arena:   make([]byte, size*count),
		size:    size,
		count:   count,
		free:    make([]int, 0, count),
		lent:    make([]bool, count),
		pending: make(map[int]*queue.Queue),
	}
	for id := count - 1; id >= 0; id-- {
		p.free = append(p.free, id)
	}
	return p, nil
}

// BufferSize returns the slot capacity.
func (p *BufferPool) BufferSize() int { return p.size }

// Capacity returns the total slot count.
func (p *BufferPool) Capacity() int { return p.count }

// FreeCount returns how many slots are currently unlent.
func (p *BufferPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocate lends one slot. It never blocks; ok is false when every slot
// is out, which callers treat as backpressure.
func (p *BufferPool) Allocate() (*IOBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	id := p.free[n-1]
	p.free = p.free[:n-1]
	p.lent[id] = true
	return &IOBuffer{
		Data:     p.arena[id*p.size : (id+1)*p.size : (id+1)*p.size],
		BufferID: id,
	}, true
}

// Release returns a slot to the free list. Releasing a slot that is not
// lent reports api.ErrBufferNotLent; that always indicates a caller bug.
func (p *BufferPool) Release(bufferID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(bufferID)
}

func (p *BufferPool) releaseLocked(bufferID int) error {
	if bufferID < 0 || bufferID >= p.count {
		return fmt.Errorf("buffer id %d: %w", bufferID, api.ErrInvalidArgument)
	}
	if !p.lent[bufferID] {
		return fmt.Errorf("buffer id %d: %w", bufferID, api.ErrBufferNotLent)
	}
	p.lent[bufferID] = false
	p.free = append(p.free, bufferID)
	return nil
}

// Enqueue appends buf to fd's write queue.
func (p *BufferPool) Enqueue(fd int, buf *IOBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.pending[fd]
	if !ok {
		q = queue.New()
		p.pending[fd] = q
	}
	q.Add(buf)
}

// Front returns the head of fd's write queue without removing it.
func (p *BufferPool) Front(fd int) (*IOBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.pending[fd]
	if !ok || q.Length() == 0 {
		return nil, false
	}
	return q.Peek().(*IOBuffer), true
}

// PopAndRelease drops the head of fd's write queue and returns its slot
// to the free list.
func (p *BufferPool) PopAndRelease(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.pending[fd]
	if !ok || q.Length() == 0 {
		return fmt.Errorf("fd %d write queue empty: %w", fd, api.ErrInvalidArgument)
	}
	buf := q.Remove().(*IOBuffer)
	if q.Length() == 0 {
		delete(p.pending, fd)
	}
	return p.releaseLocked(buf.BufferID)
}

// HasPending reports whether fd has queued outbound buffers.
func (p *BufferPool) HasPending(fd int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.pending[fd]
	return ok && q.Length() > 0
}

// Clear releases every buffer queued for fd and drops the queue. Called
// on connection close so slots cannot leak with their owner gone.
func (p *BufferPool) Clear(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.pending[fd]
	if !ok {
		return
	}
	for q.Length() > 0 {
		buf := q.Remove().(*IOBuffer)
		_ = p.releaseLocked(buf.BufferID)
	}
	delete(p.pending, fd)
}
