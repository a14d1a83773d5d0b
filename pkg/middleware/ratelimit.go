package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-comment/pkg/httpx"
	"goim-comment/pkg/ratelimit"
)

// RateLimit 接口级限流。登录用户按用户ID，匿名按会话标识，都没有时按IP
func RateLimit(limiter *ratelimit.Limiter, logger kratoslog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ratelimit.Actor{
			UserID:       c.GetInt64(ContextUserID),
			AnonymousKey: c.GetString(ContextAnonKey),
			Roles:        c.GetStringSlice(ContextRoles),
		}
		action := ratelimit.ActionAPI
		if actor.UserID <= 0 {
			action = ratelimit.ActionAPIAnonymous
			if actor.AnonymousKey == "" {
				actor.AnonymousKey = "ip:" + c.ClientIP()
			}
		}

		d, err := limiter.Check(c.Request.Context(), actor, action)
		if err != nil {
			// 计数后端故障时放行
			logger.Log(kratoslog.LevelError, "msg", "Rate limit check failed", "action", action, "error", err)
			c.Next()
			return
		}
		if !d.Allowed {
			secs := int64(math.Ceil(d.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpx.ErrorResponse{Error: httpx.ErrorBody{
				Code:       "throttled",
				Message:    "too many requests",
				RetryAfter: secs,
			}})
			return
		}
		c.Next()
	}
}
