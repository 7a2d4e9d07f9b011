package httpmiddleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP 获取“真实客户端 IP”（用于限流/审计/统计）。
//
// 只有当请求来自“可信代理”（如同机 Caddy / 内网 / docker bridge）时，才信任转发头；
// 否则客户端可以伪造 X-Forwarded-For 绕过按 IP 的限流。
func ClientIP(req *http.Request) string {
	remoteHost, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		remoteHost = req.RemoteAddr
	}
	remoteIP := net.ParseIP(remoteHost)
	if remoteIP == nil || !isTrustedProxy(remoteIP) {
		return remoteHost
	}

	// Cloudflare 注入的真实客户端 IP
	if cf := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); net.ParseIP(cf) != nil {
		return cf
	}

	// 第一个 IP 是原始客户端，后面是经过的代理
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if net.ParseIP(first) != nil {
			return first
		}
	}

	if xrip := strings.TrimSpace(req.Header.Get("X-Real-IP")); net.ParseIP(xrip) != nil {
		return xrip
	}

	return remoteHost
}

func isTrustedProxy(ip net.IP) bool {
	// 同机反代
	if ip.IsLoopback() {
		return true
	}
	// RFC1918 私网和 IPv6 ULA (fc00::/7)
	return ip.IsPrivate()
}
