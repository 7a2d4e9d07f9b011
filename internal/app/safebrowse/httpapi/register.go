package httpapi

import (
	"net/http"

	"safebrowse.local/gee"
	"safebrowse.local/gee/middleware"
	"safebrowse.local/internal/app/safebrowse"
	"safebrowse.local/internal/app/safebrowse/requestlog"
	"safebrowse.local/internal/platform/auth"
	"safebrowse.local/internal/platform/httpmiddleware"
	"safebrowse.local/internal/platform/ratelimit"
)

// Deps 是 HTTP 层需要的全部依赖，由 cmd/api 组装
type Deps struct {
	Service       *safebrowse.Service
	Feeds         *safebrowse.Feeds
	Limiter       *ratelimit.Limiter // nil 表示关闭限流
	Collector     requestlog.Collector
	RequestLogs   RequestLogLister
	InternalToken *auth.InternalToken
	Tokens        auth.TokenService

	SafebrowseQuota  int
	FeedQuota        int
	MaxContentLength int64
}

// NewRouter 装好全局中间件和全部路由。
// AuthOptional 要在 TraceName 之前，span 上才有 client id。
func NewRouter(d Deps) *gee.Engine {
	r := gee.New()
	r.Use(
		gee.Recovery(),
		middleware.ReqID(),
		middleware.AccessLog(),
		RequestLog(d.Collector),
		httpmiddleware.Metrics(),
		httpmiddleware.AuthOptional(d.Tokens),
		httpmiddleware.TraceName(),
	)

	r.GET("/healthz", func(ctx *gee.Context) {
		ctx.String(http.StatusOK, "ok")
	})
	Register(r.Group("/api"), d)
	return r
}

// Register 挂载 /api 下的路由
func Register(api *gee.RouterGroup, d Deps) {
	// 批量查询 10次/分钟
	api.POST("/safebrowse",
		httpmiddleware.ContentLength(d.MaxContentLength),
		httpmiddleware.Quota(d.Limiter, "safebrowse", d.SafebrowseQuota),
		NewLookupHandler(d.Service),
	)
	api.GET("/feed/:provider",
		httpmiddleware.Quota(d.Limiter, "feed", d.FeedQuota),
		NewFeedHandler(d.Feeds),
	)
	api.GET("/_internal/request_log", NewRequestLogHandler(d.RequestLogs, d.InternalToken))
	api.GET("/marco", func(ctx *gee.Context) {
		ctx.String(http.StatusOK, "Polo")
	})
}
