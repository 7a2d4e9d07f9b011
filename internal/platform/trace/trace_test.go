package trace

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

// 没有 collector 也能初始化，span 能正常开关，shutdown 不阻塞
func TestInitTrace_Smoke(t *testing.T) {
	shutdown := InitTrace("127.0.0.1:4317", "safebrowse-test")
	if shutdown == nil {
		t.Fatal("shutdown must not be nil")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "smoke")
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a recording span with a valid context")
	}
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
