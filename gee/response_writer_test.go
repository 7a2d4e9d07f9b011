package gee

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseWriter_StatusAndSize(t *testing.T) {
	cases := []struct {
		name       string
		write      func(rw *ResponseWriter)
		wantStatus int
		wantSize   int
		written    bool
	}{
		{name: "untouched", write: func(*ResponseWriter) {}, wantStatus: http.StatusOK},
		{name: "write implies 200", write: func(rw *ResponseWriter) { rw.Write([]byte("Polo")) }, wantStatus: http.StatusOK, wantSize: 4, written: true},
		{name: "explicit status", write: func(rw *ResponseWriter) { rw.WriteHeader(http.StatusTooManyRequests) }, wantStatus: http.StatusTooManyRequests, written: true},
		// 第二次 WriteHeader 被忽略，否则 429 之后的 500 会改掉记录的状态
		{name: "first header wins", write: func(rw *ResponseWriter) {
			rw.WriteHeader(http.StatusTooManyRequests)
			rw.WriteHeader(http.StatusInternalServerError)
			rw.Write([]byte("{}"))
		}, wantStatus: http.StatusTooManyRequests, wantSize: 2, written: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rw := NewResponseWriter(rec)
			tc.write(rw)

			if rw.Status() != tc.wantStatus || rw.Size() != tc.wantSize || rw.Written() != tc.written {
				t.Fatalf("got status=%d size=%d written=%v", rw.Status(), rw.Size(), rw.Written())
			}
			if tc.written && rec.Code != tc.wantStatus {
				t.Fatalf("underlying status: got %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

// 中间件在 Next 之后读到的状态和字节数就是请求日志记录的值
func TestResponseWriter_SeenByMiddleware(t *testing.T) {
	e := New()
	var status, size int
	e.Use(func(ctx *Context) {
		ctx.Next()
		status, size = ctx.Writer.Status(), ctx.Writer.Size()
	})
	e.GET("/api/marco", func(ctx *Context) {
		ctx.String(http.StatusOK, "Polo")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/marco", nil))

	if status != http.StatusOK || size != 4 {
		t.Fatalf("got status=%d size=%d", status, size)
	}
}
