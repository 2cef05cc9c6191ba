package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/model"
)

type loggerKey struct{}

// NewLogger builds the JSON logger written to stdout.
//
// Levels:
//   - error: store outages, recovered panics, 5xx responses
//   - warn:  failed dispatches, open circuit breakers, cache backend errors
//   - info:  workflow runs, definition reloads, server lifecycle
//   - debug: cache hits, redacted dispatch parameters, retries
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	return NewLoggerTo(cfg, "stdout")
}

// NewLoggerTo builds the same logger for the given zap sinks. The MCP stdio
// server owns stdout and logs to stderr instead.
func NewLoggerTo(cfg config.ObservabilityConfig, sinks ...string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.LogLevel))
	zcfg.Sampling = nil
	zcfg.OutputPaths = sinks
	zcfg.ErrorOutputPaths = []string{"stderr"}

	enc := &zcfg.EncoderConfig
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	return zcfg.Build()
}

func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the request-scoped logger, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// InvocationLogger tags the context logger with the workspace and active
// file of the invocation, plus the trace id when a span is recording.
func InvocationLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	var fields []zap.Field
	if ic, ok := model.InvocationContextFrom(ctx); ok {
		fields = append(fields, zap.String("workspace_root", ic.WorkspaceRoot))
		if ic.ActiveFile != "" {
			fields = append(fields, zap.String("active_file", ic.ActiveFile))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	if id := TraceIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	return logger.With(fields...)
}

// sensitiveParams are parameter names masked in debug output regardless of
// connector.
var sensitiveParams = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "apikey", "authorization", "cookie", "private_key",
	"connection_string", "env",
}

// RedactParams copies connector params for logging, masking sensitive keys
// at any depth. extra names connector-specific keys to mask as well; key
// matching ignores case.
func RedactParams(params map[string]any, extra []string) map[string]any {
	if params == nil {
		return nil
	}
	masked := make(map[string]struct{}, len(sensitiveParams)+len(extra))
	for _, k := range sensitiveParams {
		masked[k] = struct{}{}
	}
	for _, k := range extra {
		masked[strings.ToLower(k)] = struct{}{}
	}
	return redactMap(params, masked)
}

func redactMap(in map[string]any, masked map[string]struct{}) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, hit := masked[strings.ToLower(k)]; hit {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v, masked)
	}
	return out
}

func redactValue(v any, masked map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, masked)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = redactValue(item, masked)
		}
		return items
	}
	return v
}
