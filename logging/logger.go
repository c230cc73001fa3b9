package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger. Every entry passes through a redacting core, so
// loggers obtained from Zap() or Named() never emit API keys or tokens.
//
//	logger, err := logging.NewLogger(logging.Options{Level: zapcore.InfoLevel, FilePath: "sdgen.log"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info("model loaded", logging.ModelFields(info)...)
type Logger struct {
	zap     *zap.Logger
	wrapped *zap.Logger // zap with one extra caller skip for the methods below
	sugar   *zap.SugaredLogger

	level       zap.AtomicLevel
	logFilePath string
}

// Options configures NewLogger.
type Options struct {
	// Level is the minimum level for all outputs.
	Level zapcore.Level

	// Development switches the console to the colored human-readable encoder.
	Development bool

	// FilePath enables a rotated JSON log file when non-empty.
	FilePath string
	File     FileWriterConfig

	// Console receives console output; defaults to stderr so that command
	// output on stdout stays machine-readable.
	Console zapcore.WriteSyncer
}

// NewLogger builds a Logger from opts.
func NewLogger(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stderr)
	}

	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		if err := ensureLogDir(opts.FilePath); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file = NewFileWriterWithConfig(opts.FilePath, opts.File)
	}

	level := zap.NewAtomicLevelAt(opts.Level)
	core := NewMultiCore(level, console, file, opts.Development)

	return newLogger(core, level, opts.FilePath), nil
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger {
	return newLogger(zapcore.NewNopCore(), zap.NewAtomicLevelAt(zapcore.FatalLevel), "")
}

// FromCore wraps an existing core, e.g. a zaptest/observer core in tests.
func FromCore(core zapcore.Core) *Logger {
	return newLogger(core, zap.NewAtomicLevelAt(zapcore.DebugLevel), "")
}

func newLogger(core zapcore.Core, level zap.AtomicLevel, path string) *Logger {
	return wrap(zap.New(NewRedactingCore(core), zap.AddCaller()), level, path)
}

func wrap(z *zap.Logger, level zap.AtomicLevel, path string) *Logger {
	wrapped := z.WithOptions(zap.AddCallerSkip(1))
	return &Logger{
		zap:         z,
		wrapped:     wrapped,
		sugar:       wrapped.Sugar(),
		level:       level,
		logFilePath: path,
	}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.wrapped.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.wrapped.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.wrapped.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.wrapped.Error(msg, fields...) }

// Infow logs with loosely-typed key-value pairs.
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warnw logs with loosely-typed key-value pairs.
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// With creates a child logger that adds fields to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return wrap(l.zap.With(fields...), l.level, l.logFilePath)
}

// Named adds a sub-logger name, e.g. "sdruntime" or "db".
func (l *Logger) Named(name string) *Logger {
	return wrap(l.zap.Named(name), l.level, l.logFilePath)
}

// Zap returns the underlying zap.Logger for packages that accept one.
// Redaction still applies.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// LogFilePath returns the path to the log file, or "" when logging to the
// console only.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}
