package gee

import "io"

// Body 读出完整请求体并缓存，后续中间件/handler 重复调用拿到同一份数据。
// 调用方负责在此之前用 http.MaxBytesReader 之类限制大小。
func (c *Context) Body() ([]byte, error) {
	if c.body != nil {
		return c.body, nil
	}
	if c.Req.Body == nil {
		c.body = []byte{}
		return c.body, nil
	}
	b, err := io.ReadAll(c.Req.Body)
	if err != nil {
		return nil, err
	}
	c.body = b
	return b, nil
}
