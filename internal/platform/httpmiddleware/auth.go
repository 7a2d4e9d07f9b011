package httpmiddleware

import (
	"strings"

	"safebrowse.local/gee"
	"safebrowse.local/internal/platform/auth"
)

// parseBearer 解析 Authorization header 中的 Bearer token
// 返回 token 字符串，如果格式不正确返回空字符串
func parseBearer(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}

// AuthOptional 有合法 token 时把 client id 写入请求上下文；
// 没有 token 或 token 无效都直接放行，之后按 IP 计配额
func AuthOptional(ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		token := parseBearer(ctx.Req.Header.Get("Authorization"))
		if token == "" || ts == nil {
			ctx.Next()
			return
		}
		claim, err := ts.Verify(token)
		if err != nil {
			ctx.Next()
			return
		}
		ctx.Req = ctx.Req.WithContext(auth.WithIdentity(ctx.Req.Context(), auth.Identity{
			ClientID: claim.ClientID,
		}))
		ctx.Next()
	}
}

// ClientID 配额和请求日志使用的客户端标识：token subject 优先（sub:），否则客户端 IP（ip:）。
// 两个前缀分开命名空间，subject 写成 IP 也不会占用那个 IP 的配额。
func ClientID(ctx *gee.Context) string {
	if id, ok := auth.GetIdentity(ctx.Req.Context()); ok && id.ClientID != "" {
		return "sub:" + id.ClientID
	}
	return "ip:" + ClientIP(ctx.Req)
}
