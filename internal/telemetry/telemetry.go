// Package telemetry provides the structured logger used across
// crdtdoc's packages that need to report on causal-readiness queue
// depth, block splits, and save/load activity. It wraps
// go.uber.org/zap behind a small interface so call sites never build
// zap fields directly.
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger surface the rest of the module
// depends on.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger writing JSON to stderr at the given level name
// ("debug", "info", "warn", "error"; defaults to "info" on an
// unrecognized name).
func New(levelName string) *Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level)
	return &Logger{sugar: zap.New(core).Sugar()}
}

// Noop returns a Logger that discards everything, for tests and
// library callers that don't want output.
func Noop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a child logger carrying additional structured fields
// (key/value pairs) attached to every subsequent call.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sugar: l.sugar.With(kv...)}
}

// Info logs at info level with structured key/value pairs.
func (l *Logger) Info(msg string, kv ...any) { l.sugar.Infow(msg, kv...) }

// Warn logs at warn level with structured key/value pairs.
func (l *Logger) Warn(msg string, kv ...any) { l.sugar.Warnw(msg, kv...) }

// Error logs at error level with structured key/value pairs.
func (l *Logger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Sync flushes any buffered log entries; callers should defer it from
// main.
func (l *Logger) Sync() error { return l.sugar.Sync() }
