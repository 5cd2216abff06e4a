// Package log implements the engine's logger port on zap, with optional
// file rotation.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

// Config controls logger construction.
type Config struct {
	Level   string // debug, info, warn, error
	File    string // log file path; empty logs to stderr only
	MaxSize int    // megabytes per rotated file
	Console bool   // also write to stderr when a file is configured
}

// Logger adapts a zap logger to the book.Logger port.
type Logger struct {
	s    *zap.SugaredLogger
	core zapcore.Core
}

var _ book.Logger = (*Logger)(nil)

// New builds a production logger. Sampling is off: dropping engine warnings
// under load defeats their purpose.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.EpochNanosTimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	var sinks []zapcore.WriteSyncer
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: 5,
			Compress:   true,
		}))
	}
	if cfg.File == "" || cfg.Console {
		sinks = append(sinks, zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	z := zap.New(core)
	return &Logger{s: z.Sugar(), core: core}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	core := zapcore.NewNopCore()
	return &Logger{s: zap.New(core).Sugar(), core: core}
}

func (l *Logger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

// Enabled reports whether the given level would be written. The engine
// checks this before formatting anything non-trivial.
func (l *Logger) Enabled(level book.Level) bool {
	return l.core.Enabled(zapLevel(level))
}

// Performance records a latency sample for a named operation as a debug
// event.
func (l *Logger) Performance(op string, latencyNs int64, kv ...any) {
	if !l.core.Enabled(zapcore.DebugLevel) {
		return
	}
	fields := append([]any{"op", op, "latency_ns", latencyNs}, kv...)
	l.s.Debugw("perf", fields...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.s.Sync() }

func zapLevel(level book.Level) zapcore.Level {
	switch level {
	case book.LevelDebug:
		return zapcore.DebugLevel
	case book.LevelInfo:
		return zapcore.InfoLevel
	case book.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
