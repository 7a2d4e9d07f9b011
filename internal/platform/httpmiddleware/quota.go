package httpmiddleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"safebrowse.local/gee"
	"safebrowse.local/internal/platform/metrics"
	"safebrowse.local/internal/platform/ratelimit"
)

// Quota 按 (client, operation) 做固定窗口限流。
// 超限返回 429，带 Retry-After 和 data.reset；存储出错返回结构化 500，不放行。
func Quota(limiter *ratelimit.Limiter, operation string, max int) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if limiter == nil || max <= 0 {
			ctx.Next()
			return
		}

		clientID := ClientID(ctx)
		qctx, cancel := context.WithTimeout(ctx.Req.Context(), 2*time.Second)
		d, err := limiter.Allow(qctx, clientID, operation, max)
		cancel()
		if err != nil {
			metrics.QuotaDecisions.WithLabelValues(operation, "error").Inc()
			slog.Error("quota check failed",
				"request_id", ctx.Req.Header.Get("X-Request-ID"),
				"operation", operation,
				"client_id", clientID,
				"err", err)
			ctx.AbortWithErrorData(http.StatusInternalServerError, "Unexpected internal server error", gee.H{"traceback": err.Error()})
			return
		}

		ctx.SetHeader("X-RateLimit-Limit", strconv.Itoa(max))
		ctx.SetHeader("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			metrics.QuotaDecisions.WithLabelValues(operation, "rejected").Inc()
			secs := int64(d.RetryAfter(limiter.Now()) / time.Second)
			ctx.SetHeader("Retry-After", strconv.FormatInt(secs, 10))
			ctx.SetHeader("X-RateLimit-Remaining", "0")
			ctx.AbortWithErrorData(http.StatusTooManyRequests, "Too many requests", gee.H{
				"reset": d.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}

		metrics.QuotaDecisions.WithLabelValues(operation, "allowed").Inc()
		ctx.SetHeader("X-RateLimit-Remaining", strconv.Itoa(max-d.Count))
		ctx.Next()
	}
}
