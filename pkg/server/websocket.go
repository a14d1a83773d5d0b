package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
)

// WebSocketHandler WebSocket处理器接口，HandleConnection 返回后连接被关闭
type WebSocketHandler interface {
	HandleConnection(conn *websocket.Conn, r *http.Request)
}

// WebSocketHandlerFunc WebSocket处理器函数类型
type WebSocketHandlerFunc func(conn *websocket.Conn, r *http.Request)

// HandleConnection WebSocketHandler接口实现
func (f WebSocketHandlerFunc) HandleConnection(conn *websocket.Conn, r *http.Request) {
	f(conn, r)
}

// WebSocketServerWrapper 在Gin引擎上挂载 websocket 路由
type WebSocketServerWrapper struct {
	engine   *gin.Engine
	upgrader websocket.Upgrader
	handlers map[string]WebSocketHandler
	logger   kratoslog.Logger
	mu       sync.RWMutex
}

// NewWebSocketServerWrapper 创建WebSocket服务器包装器。origins 为空或含 "*" 时不校验来源
func NewWebSocketServerWrapper(engine *gin.Engine, origins []string, logger kratoslog.Logger) *WebSocketServerWrapper {
	return &WebSocketServerWrapper{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		handlers: make(map[string]WebSocketHandler),
		logger:   logger,
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// RegisterHandler 注册路由，middlewares 在升级前执行（如鉴权）
func (ws *WebSocketServerWrapper) RegisterHandler(path string, handler WebSocketHandler, middlewares ...gin.HandlerFunc) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.handlers[path] = handler
	chain := append(append([]gin.HandlerFunc(nil), middlewares...), func(c *gin.Context) {
		ws.handleWebSocket(c, handler)
	})
	ws.engine.GET(path, chain...)
}

// Paths 已注册的路径
func (ws *WebSocketServerWrapper) Paths() []string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	paths := make([]string, 0, len(ws.handlers))
	for p := range ws.handlers {
		paths = append(paths, p)
	}
	return paths
}

func (ws *WebSocketServerWrapper) handleWebSocket(c *gin.Context, handler WebSocketHandler) {
	conn, err := ws.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ws.logger.Log(kratoslog.LevelWarn, "msg", "WebSocket upgrade failed", "path", c.Request.URL.Path, "error", err)
		return
	}
	defer conn.Close()

	handler.HandleConnection(conn, c.Request)
}
