// Package logging builds the zap logger used by the command line tools.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to stderr at the given level
// ("debug", "info", "warn" or "error"). An empty level means info.
func New(level string) (*zap.Logger, error) {
	return NewWithSink(level, zapcore.Lock(os.Stderr))
}

// NewWithSink is New with a caller-provided destination.
func NewWithSink(level string, sink zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
			return nil, fmt.Errorf("logging: unknown level %q", level)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), sink, lvl)
	return zap.New(core, zap.AddCaller()), nil
}
