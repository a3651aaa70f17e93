package cli

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a logr.Logger backed by zap. format is "console" or
// "json"; level is a zap level name. logr V(1) maps to debug. The returned
// func flushes buffered entries.
func NewLogger(level, format string, w io.Writer) (logr.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("invalid log level: %w", err)
	}

	var enc zapcore.Encoder
	switch format {
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console":
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return logr.Discard(), func() {}, fmt.Errorf("unknown log format %q", format)
	}

	zl := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
