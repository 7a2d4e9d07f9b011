package middleware

import (
	"log/slog"
	"time"

	"safebrowse.local/gee"
)

func AccessLog() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		start := time.Now()

		ctx.Next()

		slog.Info("access",
			"request_id", ctx.Req.Header.Get("X-Request-ID"),
			"method", ctx.Method,
			"path", ctx.Path,
			"route", ctx.RoutePattern,
			"client_id", ctx.GetString("client_id"), // 由内层中间件写入，没有就空
			"status", ctx.Writer.Status(),
			"bytes", ctx.Writer.Size(),
			"latency_ms", time.Since(start).Milliseconds())
	}
}
