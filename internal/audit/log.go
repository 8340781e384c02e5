package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"turn.careers/internal/authz"
	"turn.careers/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a security audit entry enriched with request and principal
// context. Events cover issuance, rotation, reuse detection and lockouts.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, slog.String("event", event))
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if principal, ok := authz.PrincipalFromContext(ctx); ok {
		attrs = append(attrs, slog.String("subject_id", principal.ID))
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	obs.Logger().With("type", "audit").Info(event, attrs...)
	return nil
}
