// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init 配置全局 logger，应在 main 中最先调用
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter 与 Init 相同，但允许指定输出 (测试用)
func InitWithWriter(w io.Writer, serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
}

// L 返回全局 logger
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

// Ctx 返回带有当前链路 trace_id / span_id 的 logger
func Ctx(ctx context.Context) *zerolog.Logger {
	l := L()
	if ctx == nil {
		return l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	withTrace := l.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &withTrace
}
