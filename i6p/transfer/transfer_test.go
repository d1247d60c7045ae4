package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/i6p-transfer/i6p/identity"
	"github.com/TheusHen/i6p-transfer/i6p/transport"
	"github.com/TheusHen/i6p-transfer/i6p/transport/memory"
)

type recordingStream struct {
	writes     []int
	data       bytes.Buffer
	calls      []string
	writeErr   error
	closeErr   error
	stoppedErr error
}

func (s *recordingStream) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes = append(s.writes, len(p))
	s.calls = append(s.calls, "write")
	return s.data.Write(p)
}

func (s *recordingStream) Close() error {
	s.calls = append(s.calls, "close")
	return s.closeErr
}

func (s *recordingStream) Stopped(context.Context) error {
	s.calls = append(s.calls, "stopped")
	return s.stoppedErr
}

func TestSendChunking(t *testing.T) {
	s := &recordingStream{}
	st, err := Send(context.Background(), s, 2*ChunkSize+1)
	require.NoError(t, err)

	assert.Equal(t, SendStats{FullChunks: 2, PartialChunks: 1, Bytes: 2*ChunkSize + 1}, st)
	assert.Equal(t, []int{ChunkSize, ChunkSize, 1}, s.writes)
	assert.Equal(t, []string{"write", "write", "write", "close", "stopped"}, s.calls)
	assert.Equal(t, bytes.Repeat([]byte{Filler}, 2*ChunkSize+1), s.data.Bytes())
}

func TestSendExactMultipleHasNoPartialChunk(t *testing.T) {
	s := &recordingStream{}
	st, err := Send(context.Background(), s, 3*ChunkSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.FullChunks)
	assert.Zero(t, st.PartialChunks)
}

func TestSendZeroStillFinishes(t *testing.T) {
	s := &recordingStream{}
	st, err := Send(context.Background(), s, 0)
	require.NoError(t, err)
	assert.Zero(t, st)
	assert.Equal(t, []string{"close", "stopped"}, s.calls)
}

func TestSendErrorsByPhase(t *testing.T) {
	boom := errors.New("boom")

	_, err := Send(context.Background(), &recordingStream{writeErr: boom}, 10)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed sending data")

	_, err = Send(context.Background(), &recordingStream{closeErr: boom}, 10)
	assert.ErrorIs(t, err, ErrFinishFailed)

	_, err = Send(context.Background(), &recordingStream{stoppedErr: boom}, 10)
	assert.ErrorIs(t, err, ErrStoppedFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Send(ctx, &recordingStream{}, ChunkSize)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrainOrderedCountsFilledBuffers(t *testing.T) {
	const size = 3*ChunkSize + 5
	m, err := Drain(bytes.NewReader(make([]byte, size)), Ordered)
	require.NoError(t, err)
	assert.Equal(t, uint64(size), m.BytesReceived)
	// Each call fills all 32 buffers (1 MiB) until the 5-byte tail.
	assert.Equal(t, uint64(4), m.Chunks)
}

func TestDrainOrderedShortReads(t *testing.T) {
	m, err := Drain(iotest.OneByteReader(bytes.NewReader(make([]byte, 10))), Ordered)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), m.BytesReceived)
	assert.Equal(t, uint64(10), m.Chunks)
}

func TestDrainEmptyStream(t *testing.T) {
	for _, mode := range []ReadMode{Ordered, Unordered} {
		m, err := Drain(bytes.NewReader(nil), mode)
		require.NoError(t, err, mode)
		assert.Zero(t, m.BytesReceived, mode)
		assert.Zero(t, m.Chunks, mode)
		assert.Zero(t, m.TimeToFirstByte, mode)
	}
}

func TestDrainReadError(t *testing.T) {
	boom := errors.New("reset")
	r := io.MultiReader(bytes.NewReader(make([]byte, 100)), iotest.ErrReader(boom))
	for _, mode := range []ReadMode{Ordered, Unordered} {
		_, err := Drain(r, mode)
		assert.ErrorIs(t, err, ErrDrainFailed, mode)
		assert.ErrorIs(t, err, boom, mode)
		r = iotest.ErrReader(boom)
	}
}

type shuffledChunks struct {
	chunks []Chunk
}

func newShuffledChunks(size, piece int, seed int64) *shuffledChunks {
	s := &shuffledChunks{}
	for off := 0; off < size; off += piece {
		n := min(piece, size-off)
		s.chunks = append(s.chunks, Chunk{Offset: uint64(off), Data: make([]byte, n)})
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(s.chunks), func(i, j int) { s.chunks[i], s.chunks[j] = s.chunks[j], s.chunks[i] })
	return s
}

func (s *shuffledChunks) Read([]byte) (int, error) {
	return 0, errors.New("ordered read on shuffled stream")
}

func (s *shuffledChunks) ReadChunk(int) (Chunk, error) {
	if len(s.chunks) == 0 {
		return Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func TestDrainOrderedAndUnorderedAgree(t *testing.T) {
	const size = 5*ChunkSize + 12345

	ordered, err := Drain(bytes.NewReader(make([]byte, size)), Ordered)
	require.NoError(t, err)

	shuffled, err := Drain(newShuffledChunks(size, 7000, 1), Unordered)
	require.NoError(t, err)

	fallback, err := Drain(bytes.NewReader(make([]byte, size)), Unordered)
	require.NoError(t, err)

	assert.Equal(t, ordered.BytesReceived, shuffled.BytesReceived)
	assert.Equal(t, ordered.BytesReceived, fallback.BytesReceived)
	assert.Equal(t, uint64((size+6999)/7000), shuffled.Chunks)
}

func TestParseReadMode(t *testing.T) {
	for in, want := range map[string]ReadMode{"": Ordered, "ordered": Ordered, "Unordered": Unordered} {
		got, err := ParseReadMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseReadMode("sideways")
	assert.Error(t, err)
}

func TestBufferPoolKeepsSize(t *testing.T) {
	p := NewBufferPool(16)
	b := p.Get()
	assert.Len(t, *b, 16)
	*b = (*b)[:3]
	p.Put(b)
	assert.Len(t, *p.Get(), 16)
}

// Every byte written by Send arrives at Drain, whatever the size.
func TestSendDrainConservesBytes(t *testing.T) {
	sizes := []uint64{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 2*ChunkSize + 1}
	for _, size := range sizes {
		for _, mode := range []ReadMode{Ordered, Unordered} {
			m := sendOverMemory(t, size, mode)
			assert.Equal(t, size, m.BytesReceived, "size %d mode %s", size, mode)
			if size > 0 {
				assert.NotZero(t, m.Chunks)
			}
		}
	}
}

func sendOverMemory(t *testing.T, size uint64, mode ReadMode) Metrics {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sk, err := identity.GenerateSecretKey()
	require.NoError(t, err)
	network := memory.NewNetwork()
	ln := network.Listen(sk.PeerID(), "test/0")
	defer ln.Close()

	sent := make(chan error, 1)
	go func() {
		in, err := ln.Accept(ctx)
		if err != nil {
			sent <- err
			return
		}
		conn, err := in.Accept(ctx)
		if err != nil {
			sent <- err
			return
		}
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			sent <- err
			return
		}
		_, err = Send(ctx, s, size)
		sent <- err
	}()

	d := network.Dialer(identity.PeerID{7})
	conn, err := d.Connect(ctx, ln.NodeAddr(), "test/0")
	require.NoError(t, err)
	s, err := conn.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	m, err := Drain(s, mode)
	require.NoError(t, err)
	require.NoError(t, <-sent)
	require.NoError(t, conn.CloseWithError(transport.ErrorCode(0), "done"))
	return m
}
