package middleware

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	sessionName    = "comment_session"
	anonSessionKey = "anon_id"
)

// Sessions 签名cookie会话，用于给匿名用户分配稳定标识
func Sessions(secret string, secure bool) gin.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(sessionName, store)
}

// AnonymousKey 未登录请求从会话里取匿名标识，没有则生成。需在 Sessions 和 GinAuth 之后
func AnonymousKey(logger kratoslog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetInt64(ContextUserID) > 0 {
			c.Next()
			return
		}
		s := sessions.Default(c)
		id, _ := s.Get(anonSessionKey).(string)
		if id == "" {
			id = uuid.NewString()
			s.Set(anonSessionKey, id)
			if err := s.Save(); err != nil {
				logger.Log(kratoslog.LevelWarn, "msg", "Failed to save anonymous session", "error", err)
			}
		}
		c.Set(ContextAnonKey, "session:"+id)
		c.Next()
	}
}
