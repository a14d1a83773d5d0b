package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"goim-comment/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

type client struct {
	send chan []byte
}

// Hub 审核员实时推送：每个 websocket 连接收到全部审核事件
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  logger.Logger
}

// NewHub 创建推送中心
func NewHub(log logger.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), logger: log}
}

// Deliver 实现 Sink。发送缓冲已满的连接会被跳过，不阻塞 worker
func (h *Hub) Deliver(ctx context.Context, ev Event) error {
	data, err := MarshalJSON(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn(ctx, "Moderator feed client too slow, skipping event", logger.F("event_id", ev.ID))
		}
	}
	return nil
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// HandleConnection 阻塞直到连接关闭
func (h *Hub) HandleConnection(conn *websocket.Conn, r *http.Request) {
	c := &client{send: make(chan []byte, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	h.logger.Info(r.Context(), "Moderator feed connected", logger.F("remote", r.RemoteAddr))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
