package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sqids/sqids-go"

	"safebrowse.local/gee"
	"safebrowse.local/internal/app/safebrowse/requestlog"
	"safebrowse.local/internal/platform/auth"
	"safebrowse.local/internal/platform/httpmiddleware"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type RequestLogLister interface {
	List(ctx context.Context, limit int, beforeID int64) ([]requestlog.Entry, error)
}

// RequestLog 请求结束后把一条记录交给 collector；collector 自己决定是否丢弃
func RequestLog(c requestlog.Collector) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		start := time.Now()

		ctx.Next()

		clientID := httpmiddleware.ClientID(ctx)
		ctx.Set("client_id", clientID)
		if c == nil {
			return
		}
		c.Collect(requestlog.Entry{
			RequestID:  ctx.Req.Header.Get("X-Request-ID"),
			Method:     ctx.Method,
			Path:       ctx.Path,
			Route:      ctx.RoutePattern,
			ClientID:   clientID,
			Status:     ctx.Writer.Status(),
			LatencyMS:  time.Since(start).Milliseconds(),
			OccurredAt: start.UTC(),
		})
	}
}

type requestLogPage struct {
	Entries    []requestlog.Entry `json:"entries"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// NewRequestLogHandler GET /api/_internal/request_log?token=&limit=&cursor=
// token 不对时返回 404，假装接口不存在
func NewRequestLogHandler(lister RequestLogLister, token *auth.InternalToken) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if lister == nil || !token.Check(ctx.Query("token")) {
			ctx.AbortWithError(http.StatusNotFound, "Not found")
			return
		}

		limit := ctx.QueryInt("limit", defaultPageSize)
		if limit <= 0 {
			limit = defaultPageSize
		}
		limit = min(limit, maxPageSize)

		var before int64
		if raw := ctx.Query("cursor"); raw != "" {
			id, ok := decodeCursor(raw)
			if !ok {
				ctx.AbortWithError(http.StatusBadRequest, "Invalid cursor")
				return
			}
			before = id
		}

		entries, err := lister.List(ctx.Req.Context(), limit, before)
		if err != nil {
			slog.Error("list request log failed", "err", err)
			ctx.AbortWithErrorData(http.StatusInternalServerError, "Unexpected internal server error", gee.H{"traceback": err.Error()})
			return
		}

		page := requestLogPage{Entries: entries}
		if len(entries) == limit {
			page.NextCursor = encodeCursor(entries[len(entries)-1].ID)
		}
		ctx.JSON(http.StatusOK, page)
	}
}

var (
	sq     *sqids.Sqids
	sqOnce sync.Once
)

func getSqids() *sqids.Sqids {
	sqOnce.Do(func() {
		var err error
		sq, err = sqids.New(sqids.Options{
			Alphabet:  "k3G7QAe51FCsiWrNOYBUwM6XzZvdLT4j9JhyHKg2cVbxfERq0mSoI8lDpunPat",
			MinLength: 6,
		})
		if err != nil {
			panic("sqids init failed: " + err.Error())
		}
	})
	return sq
}

// encodeCursor 把 id 编成不透明游标，客户端不需要知道它是自增 id
func encodeCursor(id int64) string {
	s, err := getSqids().Encode([]uint64{uint64(id)})
	if err != nil {
		return ""
	}
	return s
}

func decodeCursor(raw string) (int64, bool) {
	ids := getSqids().Decode(raw)
	if len(ids) != 1 || ids[0] == 0 {
		return 0, false
	}
	// 只接受规范编码，防止同一个 id 有多种写法
	if encodeCursor(int64(ids[0])) != raw {
		return 0, false
	}
	return int64(ids[0]), true
}
