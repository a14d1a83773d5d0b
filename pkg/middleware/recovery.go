package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"goim-comment/pkg/httpx"
	"goim-comment/pkg/logger"
)

// Recovery 错误恢复中间件
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error(c.Request.Context(), "Panic recovered",
					logger.F("error", err),
					logger.F("method", c.Request.Method),
					logger.F("path", c.Request.URL.Path))
				httpx.Abort(c, http.StatusInternalServerError, "internal", "unexpected error occurred")
			}
		}()

		c.Next()
	}
}
