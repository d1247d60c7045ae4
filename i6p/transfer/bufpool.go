package transfer

import "sync"

const (
	// DrainBuffers is how many buffers one ordered read fills at most.
	DrainBuffers = 32
	// DrainBufferSize is the size of each of those buffers.
	DrainBufferSize = 32 * 1024
)

// BufferPool hands out fixed-size buffers for reuse across reads.
type BufferPool struct {
	pool sync.Pool
	size int
}

func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		},
		size: size,
	}
}

// Get returns a buffer of exactly Size bytes.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer obtained from Get. Buffers of another size are dropped.
func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) < p.size {
		return
	}
	*buf = (*buf)[:p.size]
	p.pool.Put(buf)
}

func (p *BufferPool) Size() int { return p.size }

var drainPool = NewBufferPool(DrainBufferSize)
