package httpmiddleware

import (
	"net/http"

	"safebrowse.local/gee"
)

// ContentLength 拒绝没有声明 Content-Length 或超过 max 的请求，
// 并用 MaxBytesReader 兜住实际读取的字节数
func ContentLength(max int64) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if ctx.Req.ContentLength < 0 || ctx.Req.ContentLength > max {
			ctx.AbortWithErrorData(http.StatusRequestEntityTooLarge, "Request payload too large", gee.H{
				"max-content-length": max,
			})
			return
		}
		ctx.Req.Body = http.MaxBytesReader(ctx.Writer, ctx.Req.Body, max)
		ctx.Next()
	}
}
