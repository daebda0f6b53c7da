// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base zerolog.Logger

func init() {
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init 设置全局日志器的服务名。各服务的 main 在启动时调用一次。
func Init(serviceName string) {
	base = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Logger 返回全局日志器。
func Logger() *zerolog.Logger {
	return &base
}

// Ctx 返回一个附带当前链路 trace_id / span_id 的日志器。
// 没有活跃 Span 时退化为全局日志器。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
