package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"

	"goim-comment/apps/comment-service/bootstrap"
	"goim-comment/apps/comment-service/handler"
	"goim-comment/pkg/config"
	"goim-comment/pkg/lifecycle"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/middleware"
	"goim-comment/pkg/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("COMMENT_CONFIG"))
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	// 创建应用程序
	app, err := server.NewApplication(ctx, cfg, log)
	if err != nil {
		log.Fatal(ctx, "Failed to create application", logger.F("error", err.Error()))
	}

	// 组装评论引擎
	comps, err := bootstrap.Build(ctx, app)
	if err != nil {
		_ = app.Close(ctx)
		log.Fatal(ctx, "Failed to build comment engine", logger.F("error", err.Error()))
	}

	// 启用HTTP和gRPC服务器
	app.EnableHTTP()
	app.EnableGRPC()

	httpHandler := handler.NewHTTPHandler(comps.Service, nil, log)
	apiLimit := middleware.RateLimit(comps.Limiter, app.GetKratosLogger())

	// 注册HTTP路由与审核员实时推送
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		httpHandler.RegisterRoutes(engine, apiLimit)
		ws := server.NewWebSocketServerWrapper(engine, cfg.Server.CORSOrigins, app.GetKratosLogger())
		handler.RegisterFeed(ws, comps.Hub, cfg.Comments.ModeratorRoles)
	})

	// 通知分发在服务器之后停止，排空队列
	app.AddHook(lifecycle.Hook{
		Name:     "notify-dispatcher",
		Priority: 50,
		OnStop: func(ctx context.Context) error {
			return comps.Dispatcher.Stop(ctx)
		},
	})

	if err := app.Run(); err != nil {
		log.Fatal(ctx, "Application exited with error", logger.F("error", err.Error()))
	}
}
