package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ChunkSize is the size of every full chunk Send writes.
const ChunkSize = 1 << 20

// Filler is the byte every payload consists of.
const Filler byte = 0xAB

var (
	ErrSendFailed    = errors.New("failed sending data")
	ErrFinishFailed  = errors.New("failed finishing stream")
	ErrStoppedFailed = errors.New("failed to wait for stream to be stopped")
)

var fillerChunk = func() []byte {
	b := make([]byte, ChunkSize)
	for i := range b {
		b[i] = Filler
	}
	return b
}()

// SendStream is the sending half Send needs.
type SendStream interface {
	io.Writer
	// Close finishes the stream: no more data follows.
	Close() error
	// Stopped blocks until the peer is done with the stream.
	Stopped(ctx context.Context) error
}

// SendStats describes what Send wrote.
type SendStats struct {
	FullChunks    uint64
	PartialChunks uint64
	Bytes         uint64
}

// Send writes size bytes of filler as size/ChunkSize full chunks plus one
// partial chunk for the remainder, finishes the stream and waits for the peer
// to stop it. Only full writes are counted in the returned stats.
func Send(ctx context.Context, stream SendStream, size uint64) (SendStats, error) {
	var st SendStats

	full := size / ChunkSize
	rest := size % ChunkSize

	for i := uint64(0); i < full; i++ {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		if _, err := stream.Write(fillerChunk); err != nil {
			return st, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		st.FullChunks++
		st.Bytes += ChunkSize
	}
	if rest != 0 {
		if _, err := stream.Write(fillerChunk[:rest]); err != nil {
			return st, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		st.PartialChunks++
		st.Bytes += rest
	}

	if err := stream.Close(); err != nil {
		return st, fmt.Errorf("%w: %w", ErrFinishFailed, err)
	}
	if err := stream.Stopped(ctx); err != nil {
		return st, fmt.Errorf("%w: %w", ErrStoppedFailed, err)
	}
	return st, nil
}
