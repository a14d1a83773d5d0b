package handler

import (
	"goim-comment/apps/comment-service/internal/notify"
	"goim-comment/pkg/middleware"
	"goim-comment/pkg/server"
)

// FeedPath 审核员实时事件流
const FeedPath = "/api/v1/comment/moderation/feed"

// RegisterFeed 把通知中心挂到 websocket 路由，仅审核员可连接
func RegisterFeed(ws *server.WebSocketServerWrapper, hub *notify.Hub, moderatorRoles []string) {
	ws.RegisterHandler(FeedPath, hub,
		middleware.RequireRole(moderatorRoles...))
}
