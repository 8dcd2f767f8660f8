package logger

import "context"

type contextKey struct{}

// LogContext carries the fields every log line of one identity-service call
// repeats.
type LogContext struct {
	TraceID   string
	SpanID    string
	Operation string // host_show, service_find, ...
	Principal string // client principal the session authenticates as
}

// NewLogContext returns a LogContext for principal.
func NewLogContext(principal string) *LogContext {
	return &LogContext{Principal: principal}
}

// WithContext attaches lc to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// WithOperation returns a copy naming op.
func (lc *LogContext) WithOperation(op string) *LogContext {
	c := *lc
	c.Operation = op
	return &c
}

// WithTrace returns a copy carrying the span ids. Empty ids are not logged.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := *lc
	c.TraceID, c.SpanID = traceID, spanID
	return &c
}

func (lc *LogContext) attrs() []any {
	out := make([]any, 0, 8)
	for _, kv := range [...]struct{ k, v string }{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyOperation, lc.Operation},
		{KeyPrincipal, lc.Principal},
	} {
		if kv.v != "" {
			out = append(out, kv.k, kv.v)
		}
	}
	return out
}
