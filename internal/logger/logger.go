package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Fields carries structured attributes for a single log line.
type Fields map[string]any

// Context key for request ID
type contextKey string

const RequestIDKey contextKey = "request_id"

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(newLogger(os.Stdout, "upscale-go", "info"))
}

// Init replaces the package logger. Output is one JSON object per line.
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter is Init with an explicit destination, mainly for tests.
func InitWithWriter(w io.Writer, serviceName, level string) {
	defaultLogger.Store(newLogger(w, serviceName, level))
}

func newLogger(w io.Writer, serviceName, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h).With("service", serviceName)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func log(ctx context.Context, level slog.Level, message string, err error, fields []Fields) {
	l := defaultLogger.Load()
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Enabled(ctx, level) {
		return
	}

	attrs := make([]any, 0, 4)
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	if len(fields) > 0 && len(fields[0]) > 0 {
		group := make([]any, 0, len(fields[0])*2)
		for k, v := range fields[0] {
			group = append(group, k, v)
		}
		attrs = append(attrs, slog.Group("fields", group...))
	}
	l.Log(ctx, level, message, attrs...)
}

func Info(ctx context.Context, message string, fields ...Fields) {
	log(ctx, slog.LevelInfo, message, nil, fields)
}

func Error(ctx context.Context, message string, err error, fields ...Fields) {
	log(ctx, slog.LevelError, message, err, fields)
}

func Warn(ctx context.Context, message string, fields ...Fields) {
	log(ctx, slog.LevelWarn, message, nil, fields)
}

func Debug(ctx context.Context, message string, fields ...Fields) {
	log(ctx, slog.LevelDebug, message, nil, fields)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFromContext returns the request ID stored by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// RecoveryLogger adapts the package logger to gorilla/handlers.RecoveryLogger.
type RecoveryLogger struct{}

func (RecoveryLogger) Println(v ...any) {
	log(context.Background(), slog.LevelError, "recovered from panic", fmt.Errorf("%s", fmt.Sprint(v...)), nil)
}
