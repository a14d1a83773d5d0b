package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"

	"goim-comment/pkg/config"
	"goim-comment/pkg/database"
	"goim-comment/pkg/kafka"
	"goim-comment/pkg/lifecycle"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/middleware"
	"goim-comment/pkg/redis"
	"goim-comment/pkg/telemetry"
)

// Application 应用程序框架：按配置连接基础设施、管理服务器与生命周期
type Application struct {
	config         *config.Config
	logger         kratoslog.Logger
	originalLogger logger.Logger
	serverManager  *ServerManager
	lifecycle      *lifecycle.LifecycleManager

	// 基础设施组件，未启用时为 nil
	mongoDB       *database.MongoDB
	postgreSQL    *database.PostgreSQL
	redisClient   *redis.RedisClient
	kafkaProducer *kafka.Producer
	elasticSearch *database.ElasticSearch

	authMiddleware    *middleware.AuthMiddleware
	loggingMiddleware *middleware.LoggingMiddleware
	otelMiddleware    *middleware.OTelMiddleware

	httpRouteRegister   func(*gin.Engine)
	grpcServiceRegister func(*grpc.Server)
}

// NewApplication 创建应用程序并连接已启用的基础设施
func NewApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (*Application, error) {
	kratosLogger := kratoslog.With(logger.NewKratosLogger(log),
		"service.name", cfg.App.Name,
		"service.version", cfg.App.Version,
	)

	app := &Application{
		config:            cfg,
		logger:            kratosLogger,
		originalLogger:    log,
		serverManager:     NewServerManager(cfg.Server, kratosLogger),
		lifecycle:         lifecycle.NewLifecycleManager(kratosLogger),
		authMiddleware:    middleware.NewAuthMiddleware(kratosLogger, cfg.App.JWTSecret),
		loggingMiddleware: middleware.NewLoggingMiddleware(kratosLogger),
		otelMiddleware:    middleware.NewOTelMiddleware(cfg.App.Name),
	}

	if err := app.initTelemetry(); err != nil {
		return nil, err
	}
	if err := app.initInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (app *Application) initTelemetry() error {
	tc := app.config.Telemetry
	if !tc.Enabled {
		return nil
	}
	cfg := telemetry.DefaultConfig(app.config.App.Name)
	cfg.ServiceVersion = app.config.App.Version
	cfg.Environment = tc.Environment
	cfg.ExporterType = tc.Exporter
	cfg.SampleRate = tc.SampleRate
	if err := telemetry.InitGlobal(cfg); err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	return nil
}

// initInfrastructure 只连接配置中启用的组件
func (app *Application) initInfrastructure(ctx context.Context) error {
	cfg := app.config

	if cfg.Storage.Driver == "postgres" {
		pg, err := database.NewPostgreSQL(cfg.Database.PostgreSQL.DSN, cfg.Database.PostgreSQL.DBName)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		app.postgreSQL = pg
		app.logger.Log(kratoslog.LevelInfo, "msg", "PostgreSQL connected", "db", cfg.Database.PostgreSQL.DBName)
	}

	if cfg.Database.MongoDB.Enabled {
		mongoDB, err := database.NewMongoDB(ctx, cfg.Database.MongoDB.URI, cfg.Database.MongoDB.DBName)
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		app.mongoDB = mongoDB
		app.logger.Log(kratoslog.LevelInfo, "msg", "MongoDB connected", "db", cfg.Database.MongoDB.DBName)
	}

	if cfg.Redis.Enabled {
		rc := redis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		app.redisClient = rc
		app.logger.Log(kratoslog.LevelInfo, "msg", "Redis connected", "addr", cfg.Redis.Addr)
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.InitProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("failed to connect to Kafka: %w", err)
		}
		app.kafkaProducer = producer
		app.logger.Log(kratoslog.LevelInfo, "msg", "Kafka producer ready", "brokers", cfg.Kafka.Brokers)
	}

	if cfg.Elasticsearch.Enabled {
		es, err := database.NewElasticSearch(ctx, database.ElasticSearchConfig{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		}, app.originalLogger)
		if err != nil {
			return err
		}
		app.elasticSearch = es
	}
	return nil
}

// EnableHTTP 启用HTTP服务器并挂载通用中间件
func (app *Application) EnableHTTP() HTTPServer {
	httpServer := app.serverManager.EnableHTTP()

	httpServer.RegisterRoutes(func(engine *gin.Engine) {
		engine.Use(middleware.Recovery(app.originalLogger))
		engine.Use(app.otelMiddleware.GinMiddleware())
		engine.Use(app.loggingMiddleware.GinLogging())
		engine.Use(middleware.CORS(app.config.Server.CORSOrigins))
		engine.Use(middleware.Sessions(app.config.App.SessionSecret, false))
		engine.Use(app.authMiddleware.GinAuth())
		engine.Use(middleware.AnonymousKey(app.logger))
		engine.Use(app.otelMiddleware.GinContext())
	})

	if app.postgreSQL != nil {
		httpServer.AddHealthCheck("postgres", app.postgreSQL.Health)
	}
	if app.redisClient != nil {
		httpServer.AddHealthCheck("redis", app.redisClient.Ping)
	}
	return httpServer
}

// EnableGRPC 启用gRPC服务器
func (app *Application) EnableGRPC() GRPCServer {
	return app.serverManager.EnableGRPC(
		grpc.ChainUnaryInterceptor(app.loggingMiddleware.GRPCRecovery(), app.loggingMiddleware.GRPCLogging()),
		grpc.ChainStreamInterceptor(app.loggingMiddleware.GRPCStreamLogging()),
	)
}

// RegisterHTTPRoutes 注册HTTP路由
func (app *Application) RegisterHTTPRoutes(registerFunc func(*gin.Engine)) {
	app.httpRouteRegister = registerFunc
}

// RegisterGRPCService 注册gRPC服务
func (app *Application) RegisterGRPCService(registerFunc func(*grpc.Server)) {
	app.grpcServiceRegister = registerFunc
}

// AddHook 注册业务生命周期钩子
func (app *Application) AddHook(hook lifecycle.Hook) {
	app.lifecycle.AddHook(hook)
}

// GetMongoDB 获取MongoDB连接
func (app *Application) GetMongoDB() *database.MongoDB {
	return app.mongoDB
}

// GetRedisClient 获取Redis客户端
func (app *Application) GetRedisClient() *redis.RedisClient {
	return app.redisClient
}

// GetKafkaProducer 获取Kafka生产者
func (app *Application) GetKafkaProducer() *kafka.Producer {
	return app.kafkaProducer
}

// GetPostgreSQL 获取PostgreSQL连接
func (app *Application) GetPostgreSQL() *database.PostgreSQL {
	return app.postgreSQL
}

// GetElasticSearch 获取ElasticSearch连接
func (app *Application) GetElasticSearch() *database.ElasticSearch {
	return app.elasticSearch
}

// GetLogger 获取业务日志器
func (app *Application) GetLogger() logger.Logger {
	return app.originalLogger
}

// GetKratosLogger 获取Kratos日志器
func (app *Application) GetKratosLogger() kratoslog.Logger {
	return app.logger
}

// GetConfig 获取配置
func (app *Application) GetConfig() *config.Config {
	return app.config
}

// Run 启动所有钩子并阻塞到收到信号或服务器异常退出
func (app *Application) Run() error {
	app.registerLifecycleHooks()

	if err := app.lifecycle.Start(); err != nil {
		_ = app.lifecycle.Stop()
		return fmt.Errorf("failed to start lifecycle: %w", err)
	}

	go func() {
		select {
		case err := <-app.serverManager.Errors():
			app.logger.Log(kratoslog.LevelError, "msg", "Server exited, shutting down", "error", err)
			_ = app.lifecycle.Stop()
		case <-app.lifecycle.Done():
		}
	}()

	app.lifecycle.Wait()
	return nil
}

func (app *Application) registerLifecycleHooks() {
	if app.httpRouteRegister != nil {
		if err := app.serverManager.RegisterHTTPRoutes(app.httpRouteRegister); err != nil {
			app.logger.Log(kratoslog.LevelWarn, "msg", "HTTP routes not registered", "error", err)
		}
	}
	if app.grpcServiceRegister != nil {
		if err := app.serverManager.RegisterGRPCService(app.grpcServiceRegister); err != nil {
			app.logger.Log(kratoslog.LevelWarn, "msg", "gRPC services not registered", "error", err)
		}
	}

	// 基础设施最先启动、最后关闭
	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     "infrastructure",
		Priority: 0,
		OnStop: func(ctx context.Context) error {
			app.closeInfrastructure()
			return telemetry.ShutdownGlobal(ctx)
		},
	})

	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     "servers",
		Priority: 100,
		OnStart: func(ctx context.Context) error {
			if gs := app.serverManager.GetGRPCServer(); gs != nil {
				gs.SetServing("", true)
			}
			return app.serverManager.StartAll(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return app.serverManager.StopAll(ctx)
		},
	})
}

// Close 不经过 Run 直接释放基础设施，供命令行工具使用
func (app *Application) Close(ctx context.Context) error {
	app.closeInfrastructure()
	return telemetry.ShutdownGlobal(ctx)
}

func (app *Application) closeInfrastructure() {
	var errs []error
	if app.kafkaProducer != nil {
		errs = append(errs, app.kafkaProducer.Close())
	}
	if app.redisClient != nil {
		errs = append(errs, app.redisClient.Close())
	}
	if app.mongoDB != nil {
		errs = append(errs, app.mongoDB.Close())
	}
	if app.postgreSQL != nil {
		errs = append(errs, app.postgreSQL.Close())
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Log(kratoslog.LevelError, "msg", "Failed to close infrastructure", "error", err)
	}
}
