package gee

import (
	"sort"
	"strings"
)

type HandlerFunc func(*Context)

type router struct {
	roots    map[string]*node
	handlers map[string][]HandlerFunc
}

// roots: 每个 method 一棵前缀树
// handlers: key 形如 GET-/api/feed/:provider

func newRouter() *router {
	return &router{
		handlers: make(map[string][]HandlerFunc),
		roots:    make(map[string]*node),
	}
}

func parsePattern(pattern string) []string {
	vs := strings.Split(pattern, "/")

	parts := make([]string, 0)
	for _, item := range vs {
		if item != "" {
			parts = append(parts, item)
			if item[0] == '*' {
				break
			}
		}
	}
	return parts
}

func (r *router) addRoute(method string, pattern string, handlers ...HandlerFunc) {
	if len(handlers) == 0 {
		panic("gee: addRoute requires at least one handler")
	}
	parts := parsePattern(pattern)

	root, ok := r.roots[method]
	if !ok {
		root = &node{}
		r.roots[method] = root
	}
	root.insert(pattern, parts, 0)
	r.handlers[routeKey(method, pattern)] = append([]HandlerFunc(nil), handlers...)
}

func (r *router) getRoute(method string, path string) (*node, map[string]string) {
	searchParts := parsePattern(path)
	params := make(map[string]string)
	root, ok := r.roots[method]

	if !ok {
		return nil, nil
	}

	n := root.search(searchParts, 0)

	if n != nil {
		parts := parsePattern(n.pattern)
		for index, part := range parts {
			if part[0] == ':' {
				params[part[1:]] = searchParts[index]
			}
			if part[0] == '*' && len(part) > 1 {
				params[part[1:]] = strings.Join(searchParts[index:], "/")
				break
			}
		}
		return n, params
	}
	return nil, nil
}

// handle 把路由 handler 接到中间件之后；未命中时按 404/405 处理，
// 这两种情况同样会经过全局中间件（访问日志、指标）
func (r *router) handle(c *Context, e *Engine) {
	n, params := r.getRoute(c.Method, c.Path)
	switch {
	case n != nil:
		c.Params = params
		c.RoutePattern = n.pattern
		c.handlers = append(c.handlers, r.handlers[routeKey(c.Method, n.pattern)]...)
	case len(r.AllowedMethod(c.Path)) > 0:
		c.SetHeader("Allow", strings.Join(r.AllowedMethod(c.Path), ","))
		c.handlers = append(c.handlers, e.noMethod...)
	default:
		c.handlers = append(c.handlers, e.noRoute...)
	}
	c.Next()
}

func routeKey(method, pattern string) string {
	return method + "-" + pattern
}

func (r *router) AllowedMethod(path string) (allow []string) {
	for method := range r.roots {
		n, _ := r.getRoute(method, path)
		if n != nil {
			allow = append(allow, method)
		}
	}
	sort.Strings(allow)
	return allow
}
