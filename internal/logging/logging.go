package logging

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// sensitiveHeaders are HTTP headers that must never appear in logs.
var sensitiveHeaders = map[string]bool{
	"authorization":   true,
	"x-api-key":       true,
	"proxy-authorization": true,
	"cookie":          true,
	"set-cookie":      true,
}

// sensitiveFields are non-header attribute keys that must never appear in
// logs: tool-execution parameters may carry arbitrary caller-supplied
// values (including credentials passed through to a downstream tool), and
// raw LLM completion content is too large and too caller-controlled to
// belong in a structured log line.
var sensitiveFields = map[string]bool{
	"parameters": true,
	"content":    true,
	"prompt":     true,
}

// globalLevel is the dynamic level variable used by the JSON handler.
// It allows runtime log-level changes via SetLevel without recreating the logger.
var globalLevel = new(slog.LevelVar)

// Setup initializes the global slog logger with the given level.
// The returned logger uses a redacting handler that strips sensitive data.
func Setup(level string) *slog.Logger {
	SetLevel(level)

	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: globalLevel})
	logger := slog.New(&RedactingHandler{base: base})
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level dynamically at runtime.
// Valid values are "debug", "warn", "error"; anything else defaults to "info".
func SetLevel(level string) {
	switch level {
	case "debug":
		globalLevel.Set(slog.LevelDebug)
	case "warn":
		globalLevel.Set(slog.LevelWarn)
	case "error":
		globalLevel.Set(slog.LevelError)
	default:
		globalLevel.Set(slog.LevelInfo)
	}
}

// RedactingHandler wraps an slog.Handler to redact sensitive attribute values.
type RedactingHandler struct {
	base slog.Handler
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.base.Handle(ctx, redacted)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var redacted []slog.Attr
	for _, a := range attrs {
		redacted = append(redacted, redactAttr(a))
	}
	return &RedactingHandler{base: h.base.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{base: h.base.WithGroup(name)}
}

// redactAttr redacts known-sensitive keys in log attributes.
func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)

	// Redact auth headers.
	if sensitiveHeaders[key] {
		return slog.String(a.Key, "[REDACTED]")
	}

	// Redact anything that looks like request body content.
	if key == "body" || key == "request_body" || key == "req_body" {
		return slog.String(a.Key, "[REDACTED]")
	}

	// Redact tool parameters and raw prompt/completion content: both can
	// carry caller-supplied secrets and are too large for a log line anyway.
	if sensitiveFields[key] {
		return slog.String(a.Key, "[REDACTED]")
	}

	// Redact API keys / tokens in values.
	if strings.Contains(key, "key") || strings.Contains(key, "token") || strings.Contains(key, "secret") || strings.Contains(key, "password") {
		return slog.String(a.Key, "[REDACTED]")
	}

	return a
}

// AnalyzeRequestAttrs are the structured fields logged at the start of one
// wall-bounce analyze call by the HTTP analyze handler.
func AnalyzeRequestAttrs(requestID, taskTier, mode string, depth int) []any {
	return []any{
		slog.String("request_id", requestID),
		slog.String("task_tier", taskTier),
		slog.String("mode", mode),
		slog.Int("depth", depth),
	}
}

// ConsensusAttrs are the structured fields logged when an analyze call
// finishes: enough to reconstruct cost and confidence trends from logs
// alone without re-querying the consensus store.
func ConsensusAttrs(confidence float64, providersUsed int, wallBounceVerified, tierEscalated bool, totalCostUSD float64) []any {
	return []any{
		slog.Float64("confidence", confidence),
		slog.Int("providers_used", providersUsed),
		slog.Bool("wall_bounce_verified", wallBounceVerified),
		slog.Bool("tier_escalated", tierEscalated),
		slog.Float64("total_cost_usd", totalCostUSD),
	}
}

// ProviderVoteAttrs are the structured fields logged for one provider's
// vote within a wall-bounce round, successful or not.
func ProviderVoteAttrs(providerName string, err error, latencyMS int64, costUSD float64) []any {
	attrs := []any{
		slog.String("provider", providerName),
		slog.Int64("latency_ms", latencyMS),
		slog.Float64("cost_usd", costUSD),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	return attrs
}

// ApprovalAttrs are the structured fields logged for a tool-approval state
// transition.
func ApprovalAttrs(requestID, toolLabel, operation, fromState, toState, decider string) []any {
	return []any{
		slog.String("approval_id", requestID),
		slog.String("tool_label", toolLabel),
		slog.String("operation", operation),
		slog.String("from_state", fromState),
		slog.String("to_state", toState),
		slog.String("decider", decider),
	}
}

// RequestLogger returns chi middleware that logs HTTP requests using slog.
// Request bodies and auth headers are never logged.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = middleware.GetReqID(r.Context())
			}

			next.ServeHTTP(ww, r)

			logger.Info("http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
