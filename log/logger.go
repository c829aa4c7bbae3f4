// Package log provides structured logging with pipeline run context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for pool and lock paths (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunContext identifies one pipeline invocation in every log entry.
type RunContext struct {
	// RunID is the invocation identifier (uuid).
	RunID string
	// Pipeline is the pipeline name (e.g. "mr_review").
	Pipeline string
	// ResourceKey is the lock resource key, when known.
	ResourceKey string
}

// Logger provides structured logging with run context.
// A nil *Logger is valid and discards everything.
type Logger struct {
	zap   *zap.Logger
	rc    RunContext
	level zapcore.Level
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger with run context.
// Output defaults to os.Stderr.
func NewLogger(rc RunContext) *Logger {
	return newLoggerWithWriter(rc, os.Stderr, zapcore.DebugLevel)
}

// NewLoggerWithLevel is NewLogger with a minimum level ("debug", "info", "warn", "error").
// Unknown levels fall back to info.
func NewLoggerWithLevel(rc RunContext, w io.Writer, level string) *Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	return newLoggerWithWriter(rc, w, lvl)
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// WithOutput returns a new logger with a different output writer.
// Fields added through With are not carried over.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	if l == nil {
		return newLoggerWithWriter(RunContext{}, w, zapcore.DebugLevel)
	}
	return newLoggerWithWriter(l.rc, w, l.level)
}

// With returns a child logger carrying extra context fields.
func (l *Logger) With(fields map[string]any) *Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	if l == nil {
		return &Logger{zap: zap.NewNop().With(zf...)}
	}
	return &Logger{zap: l.base().With(zf...), rc: l.rc, level: l.level}
}

func newLoggerWithWriter(rc RunContext, w io.Writer, level zapcore.Level) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		level,
	)

	contextFields := []zap.Field{
		zap.String("run_id", rc.RunID),
		zap.String("pipeline", rc.Pipeline),
	}
	if rc.ResourceKey != "" {
		contextFields = append(contextFields, zap.String("resource_key", rc.ResourceKey))
	}

	return &Logger{zap: zap.New(core).With(contextFields...), rc: rc, level: level}
}

func (l *Logger) base() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.base().Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.base().Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.base().Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.base().Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries. Errors from syncing stderr are ignored by callers.
func (l *Logger) Sync() error {
	return l.base().Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.base().Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
