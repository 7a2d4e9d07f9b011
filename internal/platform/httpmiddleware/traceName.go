package httpmiddleware

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"safebrowse.local/gee"
)

// TraceName 用路由模板重命名 otelhttp 建的 span，并补上 client id
func TraceName() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		route := ctx.RoutePattern
		if route == "" {
			route = "UNMATCHED"
		}
		span := trace.SpanFromContext(ctx.Req.Context())
		span.SetName(ctx.Method + " " + route)
		span.SetAttributes(attribute.String("safebrowse.client_id", ClientID(ctx)))
		ctx.Next()
	}
}
