// Package logger wraps log/slog with the request-scoped fields the funnel
// services attach to every line.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	TenantIDKey  contextKey = "tenant_id"
)

// contextFields are copied from the context onto the logger, in this order.
var contextFields = []contextKey{RequestIDKey, UserIDKey, TenantIDKey}

type Logger struct {
	*slog.Logger
}

// New logs JSON at info level to stdout, or human-readable text at debug
// level when env is "development".
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

func NewWithWriter(env string, w io.Writer) *Logger {
	if strings.EqualFold(env, "development") {
		return &Logger{Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

// WithContext returns a logger carrying the request, user and tenant ids
// stored in ctx by the HTTP middleware. It returns l unchanged when ctx
// holds none of them.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	var attrs []any
	for _, key := range contextFields {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// With mirrors slog.Logger.With but keeps the wrapper type.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// HTTPRequest logs one served request. Server errors are logged at error
// level together with the last handler error.
func (l *Logger) HTTPRequest(method, path string, status int, latency time.Duration, clientIP string, err error) {
	attrs := []any{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", float64(latency.Microseconds())/1000),
		slog.String("client_ip", clientIP),
	}
	if err != nil {
		l.Error("http_error", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.Info("http_request", attrs...)
}

// SweepSummary logs the outcome of one automation sweep.
func (l *Logger) SweepSummary(scope string, claimed, sent, retried, failed, cancelled int) {
	l.Info("automation_sweep",
		slog.String("scope", scope),
		slog.Int("claimed", claimed),
		slog.Int("sent", sent),
		slog.Int("retried", retried),
		slog.Int("failed", failed),
		slog.Int("cancelled", cancelled),
	)
}

func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded", slog.String("client_ip", clientIP), slog.String("path", path))
}
