package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody 统一错误结构
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	// RetryAfter 秒，仅限流时返回
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteObject 输出JSON对象
func WriteObject(c *gin.Context, status int, obj interface{}) {
	c.JSON(status, obj)
}

// OK 200
func OK(c *gin.Context, obj interface{}) {
	WriteObject(c, http.StatusOK, obj)
}

// WriteError 输出错误
func WriteError(c *gin.Context, status int, body ErrorBody) {
	c.JSON(status, ErrorResponse{Error: body})
}

// Abort 中间件里输出错误并终止后续处理
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}
