package safebrowse

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// DefaultScheme is prepended to submitted URLs that carry no scheme.
const DefaultScheme = "http"

// Normalize turns a submitted URL into the LookupKeys used for cache and
// threat-list lookups.
//
// Rules:
//   - scheme and host are lowercased, IDN hosts are converted to ASCII,
//     IP literals are canonicalized (IPv6 keeps its brackets),
//     userinfo and fragment are dropped, a missing scheme becomes http://
//   - a URL without a path yields exactly one key: scheme://host
//   - a URL with a path (or query) yields the full form first and then the
//     scheme://host form, so evil.com/a and evil.com/b share the host verdict
//
// Input that cannot be parsed into something with a host is returned trimmed
// and otherwise untouched; it simply never matches anything downstream.
func Normalize(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return []string{s}
	}

	withScheme := s
	if !strings.Contains(s, "://") {
		withScheme = DefaultScheme + "://" + s
	}

	u, err := url.Parse(withScheme)
	if err != nil || u.Hostname() == "" {
		return []string{s}
	}

	base := strings.ToLower(u.Scheme) + "://" + authority(canonicalHost(u.Hostname()), u.Port())

	rest := u.EscapedPath()
	if rest == "/" {
		rest = ""
	}
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	if rest == "" {
		return []string{base}
	}
	return []string{base + rest, base}
}

// authority 重新拼 host[:port]；IPv6 字面量必须带方括号
func authority(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func canonicalHost(hostname string) string {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.String()
	}
	h := strings.TrimSuffix(strings.ToLower(hostname), ".")
	if strings.Contains(h, ":") {
		// 带 zone 的 IPv6，% 在 URL 里要转义
		return strings.ReplaceAll(h, "%", "%25")
	}
	if ascii, err := idna.Lookup.ToASCII(h); err == nil && ascii != "" {
		return ascii
	}
	return h
}

// NormalizeAll normalizes a batch of submitted URLs.
//
// keys is the de-duplicated key list in first-seen order; byOriginal maps each
// submitted string to the keys it produced.
func NormalizeAll(urls []string) (keys []string, byOriginal map[string][]string) {
	seen := make(map[string]struct{}, len(urls)*2)
	byOriginal = make(map[string][]string, len(urls))
	for _, raw := range urls {
		produced := Normalize(raw)
		byOriginal[raw] = produced
		for _, k := range produced {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys, byOriginal
}
