// Package logger wraps log/slog with the instance-tagging and
// context-scoped-field conventions used across this module. One file,
// one small fixed set of context fields (request/session/stream/
// connection id) — this module's call sites don't need the teacher's
// user_id/chat_id/operation vocabulary or its timing wrapper, so this
// package carries only what session, transport, and distributed
// actually call.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// instanceID correlates logs across a distributed deployment (several
// chatcored processes behind the same NATS subject space, see
// internal/distributed).
var instanceID string

func init() {
	instanceID = os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = os.Getenv("HOSTNAME")
	}
	if instanceID == "" {
		instanceID = os.Getenv("POD_NAME")
	}
	if instanceID == "" {
		instanceID = uuid.NewString()[:8]
	}
}

// GetInstanceID returns the instance ID for this process.
func GetInstanceID() string { return instanceID }

// Config holds logger configuration.
type Config struct {
	Level  slog.Level
	Format string
}

// contextKey namespaces context values this package sets, so session,
// transport, and distributed all read back the same correlation ids a
// request accumulates as it crosses a goroutine boundary (chat-request
// handling, connection read/write pumps, cross-instance routing).
type contextKey string

const (
	ContextKeyRequestID    contextKey = "request_id"
	ContextKeySessionName  contextKey = "session_name"
	ContextKeyStreamID     contextKey = "stream_id"
	ContextKeyConnectionID contextKey = "connection_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithSessionName adds the session name to the context.
func WithSessionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeySessionName, name)
}

// WithStreamID adds the active stream id to the context.
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, ContextKeyStreamID, streamID)
}

// WithConnectionID adds the originating connection id to the context.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ContextKeyConnectionID, connectionID)
}

// GenerateRequestID generates a new request id. Uses uuid rather than
// crypto/rand+hex so request/stream/connection ids all come from the
// one id-generation library used throughout this module
// (internal/session, internal/streamlog).
func GenerateRequestID() string {
	return uuid.NewString()
}

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a logger for config: tint for human-readable local
// output, JSON in production, both tagged with instance_id.
func New(config Config) *Logger {
	if config.Format == "json" {
		opts := &slog.HandlerOptions{
			Level:     config.Level,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{Key: a.Key, Value: slog.StringValue(a.Value.Time().Format(time.RFC3339))}
				}
				return a
			},
		}
		return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(slog.String("instance_id", instanceID))}
	}

	opts := &tint.Options{
		Level:      config.Level,
		AddSource:  true,
		TimeFormat: time.Kitchen,
	}
	return &Logger{Logger: slog.New(tint.NewHandler(os.Stdout, opts)).With(slog.String("instance_id", instanceID))}
}

// FromConfig derives a Config from a level/format string pair, forcing
// JSON under APP_ENV=production.
func FromConfig(logLevel, logFormat string) Config {
	cfg := Config{Level: slog.LevelInfo, Format: "text"}
	switch logLevel {
	case "debug":
		cfg.Level = slog.LevelDebug
	case "info":
		cfg.Level = slog.LevelInfo
	case "warn":
		cfg.Level = slog.LevelWarn
	case "error":
		cfg.Level = slog.LevelError
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	if os.Getenv("APP_ENV") == "production" {
		cfg.Format = "json"
	}
	return cfg
}

// WithContext attaches request/session/stream/connection fields found
// on ctx, if present, in a single With call: the four lookups are
// batched into one slice instead of chaining four intermediate
// *slog.Logger allocations. LogError calls it on every error log.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	args := make([]any, 0, 8)
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok && v != "" {
		args = append(args, "request_id", v)
	}
	if v, ok := ctx.Value(ContextKeySessionName).(string); ok && v != "" {
		args = append(args, "session_name", v)
	}
	if v, ok := ctx.Value(ContextKeyStreamID).(string); ok && v != "" {
		args = append(args, "stream_id", v)
	}
	if v, ok := ctx.Value(ContextKeyConnectionID).(string); ok && v != "" {
		args = append(args, "connection_id", v)
	}
	if len(args) == 0 {
		return l
	}
	return &Logger{Logger: l.With(args...)}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", component))}
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

func (l *Logger) LogError(ctx context.Context, err error, msg string, args ...any) {
	logger := l.WithContext(ctx)
	allArgs := append([]any{"error", err}, args...)
	logger.Error(msg, allArgs...)
}
