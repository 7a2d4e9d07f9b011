package gee

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
)

// trace 生成 panic 时的调用栈，跳过 runtime 和 Recovery 自身的帧
func trace(message string) string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])

	var str strings.Builder
	str.WriteString(message + "\nTraceback:")
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&str, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return str.String()
}

// Recovery 把 panic 转成结构化 500，data.traceback 带上调用栈方便排查
func Recovery() HandlerFunc {
	return func(ctx *Context) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			stack := trace(fmt.Sprintf("%v", err))
			slog.Error("panic recovered",
				"request_id", ctx.Req.Header.Get("X-Request-ID"),
				"method", ctx.Method,
				"path", ctx.Path,
				"panic", err,
				"stack", stack,
			)
			if ctx.Writer.Written() {
				ctx.Abort()
				return
			}
			ctx.AbortWithErrorData(http.StatusInternalServerError, "Unexpected internal server error", H{"traceback": stack})
		}()
		ctx.Next()
	}
}
