// Package report turns drain metrics into a throughput summary.
package report

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"go.uber.org/zap"

	"github.com/TheusHen/i6p-transfer/i6p/transfer"
)

// Report is an immutable throughput summary.
type Report struct {
	Bytes           uint64
	Chunks          uint64
	TimeToFirstByte time.Duration
	Elapsed         time.Duration
	// BytesPerSecond is zero when Instantaneous is set.
	BytesPerSecond float64
	// Instantaneous means no measurable time elapsed, so there is no rate.
	Instantaneous bool
}

func New(m transfer.Metrics) Report {
	r := Report{
		Bytes:           m.BytesReceived,
		Chunks:          m.Chunks,
		TimeToFirstByte: m.TimeToFirstByte,
		Elapsed:         m.Elapsed,
	}
	if m.Elapsed <= 0 {
		r.Instantaneous = true
		return r
	}
	r.BytesPerSecond = float64(m.BytesReceived) / m.Elapsed.Seconds()
	return r
}

// Rate renders the rate with binary units, e.g. "112.4MiB/s".
func (r Report) Rate() string {
	if r.Instantaneous {
		return "n/a"
	}
	return units.BytesSize(r.BytesPerSecond) + "/s"
}

func (r Report) String() string {
	size := units.BytesSize(float64(r.Bytes))
	secs := r.Elapsed.Seconds()
	return fmt.Sprintf("Received %s in %.4fs with time to first byte %.4fs in %d chunks\nTransferred %s in %.4fs, %s",
		size, secs, r.TimeToFirstByte.Seconds(), r.Chunks,
		size, secs, r.Rate())
}

// Fields is the report as structured log fields.
func (r Report) Fields() []zap.Field {
	fields := []zap.Field{
		zap.Uint64("bytes", r.Bytes),
		zap.Uint64("chunks", r.Chunks),
		zap.Duration("ttfb", r.TimeToFirstByte),
		zap.Duration("elapsed", r.Elapsed),
	}
	if r.Instantaneous {
		return append(fields, zap.Bool("instantaneous", true))
	}
	return append(fields, zap.Float64("bytes_per_second", r.BytesPerSecond))
}
