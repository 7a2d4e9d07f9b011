package httpmiddleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"safebrowse.local/gee"
	"safebrowse.local/internal/platform/auth"
	"safebrowse.local/internal/platform/ratelimit"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) gee.ErrorResponse {
	t.Helper()
	var resp gee.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestQuota_RejectsAfterMax(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore()).WithClock(func() time.Time { return now })

	r := gee.New()
	r.POST("/api/safebrowse",
		Quota(limiter, "safebrowse", 10),
		func(ctx *gee.Context) { ctx.String(http.StatusOK, "ok") },
	)

	doReq := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/safebrowse", nil)
		req.RemoteAddr = "198.51.100.7:5555"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 10; i++ {
		if rec := doReq(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i, rec.Code)
		}
	}

	rec := doReq()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request: got %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After: got %q, want 60", got)
	}
	resp := decodeError(t, rec)
	if resp.Message != "Too many requests" || resp.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if resp.Data["reset"] != now.Add(time.Minute).Format(time.RFC3339) {
		t.Fatalf("data.reset: got %v", resp.Data["reset"])
	}

	// 窗口结束后恢复
	now = now.Add(time.Minute)
	if rec := doReq(); rec.Code != http.StatusOK {
		t.Fatalf("after window: got %d, want 200", rec.Code)
	}
}

func TestQuota_TokenSubjectIsSeparateClient(t *testing.T) {
	ts, err := auth.NewHS256Service("secret", "safebrowse", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, _ := ts.Sign("partner-1")
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())

	r := gee.New()
	r.Use(AuthOptional(ts))
	r.GET("/api/feed/:provider", Quota(limiter, "feed", 1), func(ctx *gee.Context) {
		ctx.String(http.StatusOK, "%s", ClientID(ctx))
	})

	doReq := func(bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/feed/hot", nil)
		req.RemoteAddr = "203.0.113.9:1000"
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	if rec := doReq(""); rec.Code != http.StatusOK || rec.Body.String() != "ip:203.0.113.9" {
		t.Fatalf("anonymous: got %d %q", rec.Code, rec.Body.String())
	}
	if rec := doReq(tok); rec.Code != http.StatusOK || rec.Body.String() != "sub:partner-1" {
		t.Fatalf("token: got %d %q", rec.Code, rec.Body.String())
	}
	if rec := doReq(""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("anonymous again: got %d, want 429", rec.Code)
	}
	// 无效 token 按 IP 计
	if rec := doReq("garbage"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("bad token: got %d, want 429", rec.Code)
	}
}

func TestQuota_SubjectShapedLikeIPIsSeparate(t *testing.T) {
	ts, err := auth.NewHS256Service("secret", "safebrowse", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, _ := ts.Sign("203.0.113.9")
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())

	r := gee.New()
	r.Use(AuthOptional(ts))
	r.GET("/api/feed/:provider", Quota(limiter, "feed", 1), func(ctx *gee.Context) {
		ctx.String(http.StatusOK, "%s", ClientID(ctx))
	})

	doReq := func(bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/feed/hot", nil)
		req.RemoteAddr = "203.0.113.9:1000"
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	if rec := doReq(""); rec.Code != http.StatusOK {
		t.Fatalf("anonymous: got %d", rec.Code)
	}
	// subject 和 IP 字面相同，但配额互不影响
	if rec := doReq(tok); rec.Code != http.StatusOK || rec.Body.String() != "sub:203.0.113.9" {
		t.Fatalf("token: got %d %q", rec.Code, rec.Body.String())
	}
}

type failingStore struct{}

func (failingStore) Take(context.Context, string, string, int, time.Duration, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("connection refused")
}

func TestQuota_StoreErrorIsStructured500(t *testing.T) {
	handlerRan := false
	r := gee.New()
	r.GET("/t", Quota(ratelimit.NewLimiter(failingStore{}), "t", 5), func(ctx *gee.Context) {
		handlerRan = true
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rec.Code)
	}
	if handlerRan {
		t.Fatal("handler must not run when the quota store fails")
	}
	if resp := decodeError(t, rec); resp.Message != "Unexpected internal server error" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestQuota_NilLimiterPassesThrough(t *testing.T) {
	r := gee.New()
	r.GET("/t", Quota(nil, "t", 1), func(ctx *gee.Context) { ctx.String(http.StatusOK, "ok") })
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d", rec.Code)
		}
	}
}

func TestContentLength(t *testing.T) {
	r := gee.New()
	r.POST("/t", ContentLength(16), func(ctx *gee.Context) {
		body, err := ctx.Body()
		if err != nil {
			ctx.AbortWithError(http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		ctx.String(http.StatusOK, "%d", len(body))
	})

	tests := []struct {
		name    string
		body    string
		declare int64
		want    int
	}{
		{name: "within limit", body: `{"urls":[]}`, declare: -2, want: http.StatusOK},
		{name: "too large", body: strings.Repeat("x", 17), declare: -2, want: http.StatusRequestEntityTooLarge},
		{name: "missing length", body: `{}`, declare: -1, want: http.StatusRequestEntityTooLarge},
		{name: "lying length", body: strings.Repeat("x", 40), declare: 8, want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(tt.body))
			if tt.declare != -2 {
				req.ContentLength = tt.declare
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("got %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(strings.Repeat("x", 17)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	resp := decodeError(t, rec)
	if resp.Message != "Request payload too large" || resp.Data["max-content-length"] != float64(16) {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "direct", remote: "203.0.113.1:80", want: "203.0.113.1"},
		{name: "spoofed xff from public ip", remote: "203.0.113.1:80", headers: map[string]string{"X-Forwarded-For": "1.1.1.1"}, want: "203.0.113.1"},
		{name: "cloudflare via loopback", remote: "127.0.0.1:80", headers: map[string]string{"CF-Connecting-IP": "198.51.100.2"}, want: "198.51.100.2"},
		{name: "xff via private proxy", remote: "10.0.0.5:80", headers: map[string]string{"X-Forwarded-For": "198.51.100.3, 10.0.0.9"}, want: "198.51.100.3"},
		{name: "x-real-ip", remote: "192.168.1.2:80", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, want: "198.51.100.4"},
		{name: "garbage headers", remote: "172.16.0.1:80", headers: map[string]string{"X-Forwarded-For": "nope"}, want: "172.16.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuota_RemainingHeader(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	r := gee.New()
	r.GET("/t", Quota(limiter, "t", 3), func(ctx *gee.Context) { ctx.String(http.StatusOK, "ok") })

	for want := 2; want >= 0; want-- {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t", nil))
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(want) {
			t.Fatalf("remaining: got %q, want %d", got, want)
		}
	}
}
