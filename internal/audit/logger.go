// Package audit writes the authentication audit stream.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Actions.
const (
	ActionLogin          = "login"
	ActionRemoteLogin    = "remote_login"
	ActionRemoteLookup   = "remote_lookup"
	ActionLockout        = "lockout"
	ActionMigration      = "password_migration"
	ActionSignatureCheck = "signature_check"
	ActionRefresh        = "token_refresh"
)

// Event is a single audit record.
type Event struct {
	Action   string
	Outcome  string
	User     string
	Strategy string
	Reason   string // errs.Code value on failure
	Source   string // client address
	Detail   string
}

// Logger emits audit events through zap. A nil *Logger discards events.
type Logger struct {
	z *zap.Logger
}

// New returns an audit logger writing to base under the "audit" name.
func New(base *zap.Logger) *Logger {
	return &Logger{z: base.Named("audit")}
}

// Log writes e, adding the request id carried by ctx.
func (l *Logger) Log(ctx context.Context, e Event) {
	if l == nil {
		return
	}
	fields := []zap.Field{
		zap.String("action", e.Action),
		zap.String("outcome", e.Outcome),
		zap.String("user", e.User),
	}
	if e.Strategy != "" {
		fields = append(fields, zap.String("strategy", e.Strategy))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.Source != "" {
		fields = append(fields, zap.String("source", e.Source))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}

	switch e.Outcome {
	case OutcomeSuccess:
		l.z.Info("audit", fields...)
	case OutcomeFailure:
		l.z.Warn("audit", fields...)
	default:
		l.z.Error("audit", fields...)
	}
}

// Lockout records a lock transition.
func (l *Logger) Lockout(ctx context.Context, key string, attempts int, until time.Time) {
	if l == nil {
		return
	}
	fields := []zap.Field{
		zap.String("action", ActionLockout),
		zap.String("outcome", OutcomeFailure),
		zap.String("user", key),
		zap.Int("attempts", attempts),
		zap.Time("locked_until", until),
	}
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	l.z.Warn("audit", fields...)
}

type ctxKey struct{}

// WithRequestID returns a child context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the request id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}
