package httpapi

import (
	"errors"
	"net/http"

	"safebrowse.local/gee"
	"safebrowse.local/internal/app/safebrowse"
)

// NewLookupHandler POST /api/safebrowse  body: {"urls": [...]}
func NewLookupHandler(svc *safebrowse.Service) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		body, err := ctx.Body()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(ctx, safebrowse.PayloadTooLarge(tooLarge.Limit))
				return
			}
			writeError(ctx, safebrowse.Validation("Could not read request body", nil))
			return
		}

		urls, err := safebrowse.ParseLookupRequest(body)
		if err != nil {
			writeError(ctx, err)
			return
		}

		report, err := svc.Lookup(ctx.Req.Context(), urls)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, report)
	}
}

// NewFeedHandler GET /api/feed/:provider
func NewFeedHandler(feeds *safebrowse.Feeds) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		out, err := feeds.Provider(ctx.Req.Context(), ctx.Param("provider"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, out)
	}
}
