package gee

// ErrorResponse 是所有错误响应的统一结构
type ErrorResponse struct {
	Message   string         `json:"message"`
	Code      int            `json:"code"`
	Data      map[string]any `json:"data,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func NewErrorResponse(c *Context, code int, message string, data map[string]any) ErrorResponse {
	return ErrorResponse{
		Message:   message,
		Code:      code,
		Data:      data,
		RequestID: c.Req.Header.Get("X-Request-ID"), //没有就空
	}
}
