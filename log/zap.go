package log

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

// Logger is a thin wrapper around zap.Logger. All packages of this
// module log through this type so that encoder, level and filter
// handling stay in one place.
type Logger struct {
	l     *zap.Logger
	level Level
}

type (
	Level  = zapcore.Level
	Field  = zap.Field
	Option = zap.Option
)

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// field helpers (keeps zap out of the import lists of callers)
var (
	Skip       = zap.Skip
	Binary     = zap.Binary
	Bool       = zap.Bool
	Duration   = zap.Duration
	Float      = zap.Float64
	Int        = zap.Int
	Int32      = zap.Int32
	Uint       = zap.Uint
	Uint32     = zap.Uint32
	String     = zap.String
	Stringer   = zap.Stringer
	Time       = zap.Time
	Any        = zap.Any
	ErrorField = zap.Error
)

func WithCaller(enabled bool) Option {
	return zap.WithCaller(enabled)
}

func AddCallerSkip(skip int) Option {
	return zap.AddCallerSkip(skip)
}

func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

// New creates a Logger with a JSON encoder writing to w.
func New(w io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.AddSync(w),
		zapcore.Level(level))
	return &Logger{l: zap.New(core, opts...), level: level}
}

// DevLogger creates a Logger with a human readable console encoder.
func DevLogger(w io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(w),
		zapcore.Level(level))
	return &Logger{l: zap.New(core, opts...), level: level}
}

// FilteredLogger wraps a JSON logger with zapfilter rules
// (for example "debug:hub* info:*").
//
//nolint:whitespace // editor/linter issue
func FilteredLogger(w io.Writer, level Level, rules string, opts ...Option) (
	*Logger, error,
) {
	filter, err := zapfilter.ParseRules(rules)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapfilter.NewFilteringCore(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(cfg),
			zapcore.AddSync(w),
			zapcore.Level(level)),
		filter)
	return &Logger{l: zap.New(core, opts...), level: level}, nil
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l: l.l.With(fields...), level: l.level}
}

func (l *Logger) Level() Level                      { return l.level }
func (l *Logger) Debug(msg string, fields ...Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.l.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.l.Fatal(msg, fields...) }
func (l *Logger) Sync() error                       { return l.l.Sync() }
func (l *Logger) DebugEnabled() bool                { return l.level <= DebugLevel }

var std = DevLogger(os.Stderr, InfoLevel)

// Default returns the process wide logger. Use ResetDefault to replace
// it once the configuration is resolved.
func Default() *Logger { return std }

func ResetDefault(l *Logger) {
	std = l
}

// package level convenience functions operating on the default logger

func Debug(msg string, fields ...Field) { std.l.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { std.l.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { std.l.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { std.l.Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { std.l.Fatal(msg, fields...) }

type ctxKey int

// AddToContext stores the logger in the context.
func AddToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey(0), l)
}

// GetFromContext returns the logger stored in the context or the
// default logger if none is present.
func GetFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey(0)).(*Logger); ok {
		return l
	}
	return std
}

// Timestamp returns the current time as a field.
func Timestamp(key string) Field {
	return zap.Time(key, time.Now())
}
