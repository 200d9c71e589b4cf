package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mailsweep/pkg/config"
	"mailsweep/pkg/trace"
)

type opKey struct{}

// NewLogger 生产环境用 JSON 输出，development 模式用彩色控制台输出
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

// WithOperation 把操作 id 放进 context，WithTrace 会把它加到日志字段里
func WithOperation(ctx context.Context, opID string) context.Context {
	return context.WithValue(ctx, opKey{}, opID)
}

// WithTrace 从 context 中提取 trace_id 和 op_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	var fields []zap.Field
	if traceID := trace.FromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if opID, ok := ctx.Value(opKey{}).(string); ok && opID != "" {
		fields = append(fields, zap.String("op_id", opID))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
