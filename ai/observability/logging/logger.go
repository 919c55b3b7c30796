// Package logging provides the structured logger used across the memory service.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field keys shared by request-scoped loggers.
const (
	KeyRequestID = "request_id"
	KeyUserID    = "user_id"
	KeyComponent = "component"
)

// Logger writes slog records with a fixed set of attached fields.
// Loggers are immutable; the With* methods return copies.
type Logger struct {
	handler slog.Handler
	level   LogLevel
	attrs   []slog.Attr
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewLogger(nil)
)

// NewLogger creates a new logger with the given handler.
func NewLogger(h slog.Handler) *Logger {
	if h == nil {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return &Logger{handler: h, level: LevelInfo}
}

// NewHandler returns a text handler for dev mode and a JSON handler otherwise.
func NewHandler(w io.Writer, mode string, level LogLevel) slog.Handler {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}
	if mode == "dev" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// Setup installs the process-wide logger for mode and makes it the slog
// default, so plain slog calls share its handler.
func Setup(mode string, level LogLevel) *Logger {
	l := NewLogger(NewHandler(os.Stderr, mode, level)).WithLevel(level)
	SetDefault(l)
	slog.SetDefault(slog.New(l.handler))
	return l
}

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the package-level logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func (l *Logger) clone() *Logger {
	attrs := make([]slog.Attr, len(l.attrs), len(l.attrs)+2)
	copy(attrs, l.attrs)
	return &Logger{handler: l.handler, level: l.level, attrs: attrs}
}

// WithLevel returns a new logger with the specified minimum level.
func (l *Logger) WithLevel(level LogLevel) *Logger {
	n := l.clone()
	n.level = level
	return n
}

// WithField returns a new logger with an additional field. An existing field
// with the same key is replaced.
func (l *Logger) WithField(key string, value any) *Logger {
	n := l.clone()
	for i, a := range n.attrs {
		if a.Key == key {
			n.attrs[i] = slog.Any(key, value)
			return n
		}
	}
	n.attrs = append(n.attrs, slog.Any(key, value))
	return n
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	n := l
	for k, v := range fields {
		n = n.WithField(k, v)
	}
	if n == l {
		return l.clone()
	}
	return n
}

// WithRequest returns a logger carrying the request and user ids. Empty values are skipped.
func (l *Logger) WithRequest(requestID, userID string) *Logger {
	n := l.clone()
	if requestID != "" {
		n = n.WithField(KeyRequestID, requestID)
	}
	if userID != "" {
		n = n.WithField(KeyUserID, userID)
	}
	return n
}

// Enabled reports whether level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	record := slog.NewRecord(time.Now(), level.slogLevel(), msg, 0)
	record.AddAttrs(l.attrs...)
	record.Add(args...)
	_ = l.handler.Handle(context.Background(), record)
}

type loggerKey struct{}

// FromContext extracts the logger from context, falling back to the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
			return l
		}
	}
	return Default()
}

// ToContext adds the logger to context.
func ToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Package-level convenience functions using the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(level LogLevel) {
	SetDefault(Default().WithLevel(level))
}
