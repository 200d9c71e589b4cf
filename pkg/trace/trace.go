package trace

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// HeaderName trace ID 的 HTTP header 名称
const HeaderName = "X-Trace-ID"

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, traceID)
}

// FromHeader 优先使用调用方给的 trace id，否则生成一个
func FromHeader(headerValue string) string {
	if headerValue != "" && len(headerValue) <= 128 {
		return headerValue
	}
	return GenerateTraceID()
}
