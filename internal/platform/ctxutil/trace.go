package ctxutil

import "context"

type traceDataKey struct{}

// TraceData is the per-request identity attached by the HTTP middleware and
// read back by anything that needs to correlate a log line or span with the
// originating request (without re-parsing headers everywhere).
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}
