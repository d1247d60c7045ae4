package transfer

import (
	"fmt"
	"strings"
	"time"
)

// Metrics is what a drain observed.
type Metrics struct {
	BytesReceived uint64
	// Chunks counts read calls that produced data, not network packets.
	Chunks uint64
	// TimeToFirstByte is measured from the start of the drain.
	TimeToFirstByte time.Duration
	// Elapsed is the whole transfer; callers set it from their own start time.
	Elapsed time.Duration
}

// ReadMode selects how Drain consumes a stream.
type ReadMode uint8

const (
	Ordered ReadMode = iota
	// Unordered reads chunks in arrival order when the stream is a
	// ChunkReader. quic-go streams are not, so over QUIC it reads in order.
	Unordered
)

func (m ReadMode) String() string {
	switch m {
	case Ordered:
		return "ordered"
	case Unordered:
		return "unordered"
	default:
		return "unknown"
	}
}

// ParseReadMode accepts "ordered" and "unordered", case-insensitively.
// An empty string means Ordered.
func ParseReadMode(s string) (ReadMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ordered":
		return Ordered, nil
	case "unordered":
		return Unordered, nil
	default:
		return Ordered, fmt.Errorf("transfer: unknown read mode %q", s)
	}
}

func (m ReadMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ReadMode) UnmarshalText(b []byte) error {
	parsed, err := ParseReadMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
