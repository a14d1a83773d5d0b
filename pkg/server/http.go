package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-comment/pkg/config"
)

// HealthCheck 健康检查项，返回错误时 /health 输出 503
type HealthCheck func(ctx context.Context) error

// NewGinEngine 创建Gin引擎，中间件由调用方添加
func NewGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return gin.New()
}

// HTTPServer HTTP服务器接口
type HTTPServer interface {
	GetEngine() *gin.Engine
	RegisterRoutes(registerFunc func(*gin.Engine))
	AddHealthCheck(name string, check HealthCheck)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServerWrapper Gin HTTP服务器包装器
type HTTPServerWrapper struct {
	engine  *gin.Engine
	server  *http.Server
	network string
	checks  map[string]HealthCheck
	logger  kratoslog.Logger
}

// NewHTTPServerWrapper 创建HTTP服务器包装器
func NewHTTPServerWrapper(c config.ListenConfig, logger kratoslog.Logger) *HTTPServerWrapper {
	engine := NewGinEngine()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	network := c.Network
	if network == "" {
		network = "tcp"
	}

	w := &HTTPServerWrapper{
		engine:  engine,
		network: network,
		checks:  make(map[string]HealthCheck),
		logger:  logger,
		server: &http.Server{
			Addr:              c.Addr,
			Handler:           engine,
			ReadHeaderTimeout: timeout,
			ReadTimeout:       timeout,
			// websocket 长连接不设写超时
			IdleTimeout: 2 * timeout,
		},
	}
	engine.GET("/health", w.health)
	return w
}

func (w *HTTPServerWrapper) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(w.checks))
	for name, check := range w.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
		"time":   time.Now().Unix(),
	})
}

// GetEngine 获取Gin引擎
func (w *HTTPServerWrapper) GetEngine() *gin.Engine {
	return w.engine
}

// RegisterRoutes 注册路由
func (w *HTTPServerWrapper) RegisterRoutes(registerFunc func(*gin.Engine)) {
	registerFunc(w.engine)
}

// AddHealthCheck 注册健康检查，需在启动前调用
func (w *HTTPServerWrapper) AddHealthCheck(name string, check HealthCheck) {
	w.checks[name] = check
}

// Start 监听端口并阻塞，正常关闭时返回nil
func (w *HTTPServerWrapper) Start(ctx context.Context) error {
	lis, err := net.Listen(w.network, w.server.Addr)
	if err != nil {
		return err
	}
	w.logger.Log(kratoslog.LevelInfo, "msg", "HTTP server starting", "addr", lis.Addr().String())
	if err := w.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止服务器
func (w *HTTPServerWrapper) Stop(ctx context.Context) error {
	w.logger.Log(kratoslog.LevelInfo, "msg", "HTTP server stopping")
	return w.server.Shutdown(ctx)
}
