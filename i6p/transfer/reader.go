package transfer

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

var ErrDrainFailed = errors.New("failed reading data")

// Chunk is a piece of a stream tagged with where it belongs.
type Chunk struct {
	Offset uint64
	Data   []byte
}

// ChunkReader is implemented by streams that can hand out data in arrival
// order rather than stream order. ReadChunk returns io.EOF once the stream is
// finished; a returned chunk may carry data together with io.EOF.
type ChunkReader interface {
	ReadChunk(max int) (Chunk, error)
}

// Drain reads r to the end and reports what arrived. Elapsed covers the drain
// only.
func Drain(r io.Reader, mode ReadMode) (Metrics, error) {
	switch mode {
	case Ordered:
		return drainOrdered(r)
	case Unordered:
		cr, ok := r.(ChunkReader)
		if !ok {
			cr = &sequentialChunks{r: r}
		}
		return drainUnordered(cr)
	default:
		return Metrics{}, fmt.Errorf("transfer: unknown read mode %d", mode)
	}
}

type drainClock struct {
	start time.Time
	first bool
	m     Metrics
}

func newDrainClock() *drainClock {
	return &drainClock{start: time.Now(), first: true}
}

func (c *drainClock) observe(n int) {
	if n <= 0 {
		return
	}
	if c.first {
		c.m.TimeToFirstByte = time.Since(c.start)
		c.first = false
	}
	c.m.BytesReceived += uint64(n)
	c.m.Chunks++
}

func (c *drainClock) done() Metrics {
	c.m.Elapsed = time.Since(c.start)
	return c.m
}

func drainOrdered(r io.Reader) (Metrics, error) {
	bufs := make([]*[]byte, DrainBuffers)
	for i := range bufs {
		bufs[i] = drainPool.Get()
	}
	defer func() {
		for _, b := range bufs {
			drainPool.Put(b)
		}
	}()

	clock := newDrainClock()
	for {
		n, err := readChunks(r, bufs)
		clock.observe(n)
		if err == io.EOF {
			return clock.done(), nil
		}
		if err != nil {
			return clock.done(), fmt.Errorf("%w: %w", ErrDrainFailed, err)
		}
	}
}

// readChunks fills bufs in order and returns the bytes placed in them. It
// stops at the first short read so it never waits on data that has not
// arrived, and it stops at the first error.
func readChunks(r io.Reader, bufs []*[]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := r.Read(*b)
		total += n
		if err != nil {
			return total, err
		}
		if n < len(*b) {
			return total, nil
		}
	}
	return total, nil
}

func drainUnordered(cr ChunkReader) (Metrics, error) {
	clock := newDrainClock()
	for {
		c, err := cr.ReadChunk(math.MaxInt)
		clock.observe(len(c.Data))
		if err == io.EOF {
			return clock.done(), nil
		}
		if err != nil {
			return clock.done(), fmt.Errorf("%w: %w", ErrDrainFailed, err)
		}
	}
}

// sequentialChunks adapts a plain reader. Its chunks always come in stream
// order and the data is only valid until the next call.
type sequentialChunks struct {
	r      io.Reader
	buf    []byte
	offset uint64
}

func (s *sequentialChunks) ReadChunk(max int) (Chunk, error) {
	if s.buf == nil {
		s.buf = make([]byte, DrainBufferSize)
	}
	buf := s.buf
	if max < len(buf) {
		buf = buf[:max]
	}
	n, err := s.r.Read(buf)
	c := Chunk{Offset: s.offset, Data: buf[:n]}
	s.offset += uint64(n)
	return c, err
}
