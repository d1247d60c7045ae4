package report

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheusHen/i6p-transfer/i6p/transfer"
)

func TestReportRate(t *testing.T) {
	r := New(transfer.Metrics{
		BytesReceived:   1 << 30,
		Chunks:          1024,
		TimeToFirstByte: 3 * time.Millisecond,
		Elapsed:         2 * time.Second,
	})
	assert.False(t, r.Instantaneous)
	assert.InDelta(t, float64(1<<29), r.BytesPerSecond, 1)
	assert.Equal(t, "512MiB/s", r.Rate())

	lines := strings.Split(r.String(), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "Received 1GiB in 2.0000s with time to first byte 0.0030s in 1024 chunks", lines[0])
	assert.Equal(t, "Transferred 1GiB in 2.0000s, 512MiB/s", lines[1])
}

func TestReportZeroElapsed(t *testing.T) {
	for _, elapsed := range []time.Duration{0, -time.Second} {
		r := New(transfer.Metrics{BytesReceived: 10, Chunks: 1, Elapsed: elapsed})
		assert.True(t, r.Instantaneous)
		assert.Zero(t, r.BytesPerSecond)
		assert.False(t, math.IsInf(r.BytesPerSecond, 0) || math.IsNaN(r.BytesPerSecond))
		assert.Contains(t, r.String(), "n/a")
	}
}

func TestReportFields(t *testing.T) {
	r := New(transfer.Metrics{BytesReceived: 1, Elapsed: time.Second})
	keys := map[string]bool{}
	for _, f := range r.Fields() {
		keys[f.Key] = true
	}
	assert.True(t, keys["bytes_per_second"])
	assert.False(t, keys["instantaneous"])
}
