package engine

import (
	"sync"
)

// DefaultBufferSize is the copy buffer size used when streaming part bodies
// between the network and local files.
const DefaultBufferSize = 1 * 1024 * 1024

// BufferPool hands out reusable copy buffers so concurrent part workers do
// not churn allocations on large transfers.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a pool of buffers of the given size. A size <= 0
// falls back to DefaultBufferSize.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get retrieves a buffer; callers should defer Put on it.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. The buffer must not be used afterwards.
func (bp *BufferPool) Put(b *[]byte) {
	if b != nil {
		bp.pool.Put(b)
	}
}
