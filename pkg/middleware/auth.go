package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-comment/pkg/auth"
	tracecontext "goim-comment/pkg/context"
	"goim-comment/pkg/httpx"
)

// gin.Context 中保存身份信息的键
const (
	ContextUserID   = "userID"
	ContextUsername = "username"
	ContextRoles    = "roles"
	ContextAnonKey  = "anonKey"
)

// AuthMiddleware 认证中间件配置
type AuthMiddleware struct {
	logger kratoslog.Logger
	jwtKey string
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(logger kratoslog.Logger, jwtKey string) *AuthMiddleware {
	return &AuthMiddleware{
		logger: logger,
		jwtKey: jwtKey,
	}
}

// GinAuth 解析 Authorization 头。没有令牌按匿名请求放行，令牌无效返回401
func (am *AuthMiddleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.shouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := am.extractTokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		claims, err := auth.ValidateJWT(token, am.jwtKey)
		if err != nil {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Invalid token", "error", err, "path", c.Request.URL.Path)
			httpx.Abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRoles, claims.Roles)
		c.Request = c.Request.WithContext(tracecontext.WithUserID(c.Request.Context(), claims.UserID))

		am.logger.Log(kratoslog.LevelDebug, "msg", "User authenticated", "userID", claims.UserID, "path", c.Request.URL.Path)
		c.Next()
	}
}

// RequireUser 要求已登录
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetInt64(ContextUserID) <= 0 {
			httpx.Abort(c, http.StatusUnauthorized, "unauthorized", "sign in required")
			return
		}
		c.Next()
	}
}

// RequireRole 要求拥有任一角色
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetInt64(ContextUserID) <= 0 {
			httpx.Abort(c, http.StatusUnauthorized, "unauthorized", "sign in required")
			return
		}
		for _, have := range c.GetStringSlice(ContextRoles) {
			for _, want := range roles {
				if have == want {
					c.Next()
					return
				}
			}
		}
		httpx.Abort(c, http.StatusForbidden, "forbidden", "permission denied")
	}
}

// extractTokenFromHeader 支持 "Bearer token" 和直接的 "token"
func (am *AuthMiddleware) extractTokenFromHeader(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return authHeader
}

func (am *AuthMiddleware) shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/health",
		"/metrics",
	}
	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}
