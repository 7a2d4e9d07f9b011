package httpapi

import (
	"log/slog"
	"net/http"

	"safebrowse.local/gee"
	"safebrowse.local/internal/app/safebrowse"
)

// writeError 把任意 error 转成 {message, code, data} 响应
func writeError(ctx *gee.Context, err error) {
	e := safebrowse.AsError(err)
	attrs := []any{
		"request_id", ctx.Req.Header.Get("X-Request-ID"),
		"path", ctx.Path,
		"code", e.Code,
		"err", err,
	}
	if e.Code >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Info("request rejected", attrs...)
	}
	ctx.AbortWithErrorData(e.Code, e.Message, e.Data)
}
