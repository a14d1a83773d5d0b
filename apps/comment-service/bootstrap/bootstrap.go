package bootstrap

import (
	"context"
	"fmt"
	"time"

	"goim-comment/apps/comment-service/dao"
	"goim-comment/apps/comment-service/internal/banning"
	"goim-comment/apps/comment-service/internal/classifier"
	"goim-comment/apps/comment-service/internal/notify"
	"goim-comment/apps/comment-service/service"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/ratelimit"
	"goim-comment/pkg/server"
	"goim-comment/pkg/snowflake"
)

const (
	banLockTTL     = 5 * time.Second
	countCacheSize = 4096
)

// Components 组装好的评论引擎
type Components struct {
	Service    *service.Service
	Limiter    *ratelimit.Limiter
	Dispatcher *notify.Dispatcher
	Hub        *notify.Hub
	Store      dao.Store
}

// Build 按应用已连接的基础设施组装存储、分类器、限流、通知和服务
func Build(ctx context.Context, app *server.Application) (*Components, error) {
	cfg := app.GetConfig()
	log := app.GetLogger()
	settings := service.SettingsFromConfig(&cfg.Comments)

	store, err := buildStore(ctx, app)
	if err != nil {
		return nil, err
	}

	limiterStore := ratelimit.Store(ratelimit.NewMemoryStore())
	locker := banning.Locker(banning.NewMemoryLocker())
	if rc := app.GetRedisClient(); rc != nil {
		limiterStore = ratelimit.NewRedisStore(rc.GetClient())
		locker = banning.NewRedisLocker(rc.GetClient(), banLockTTL)
	}
	limiter := ratelimit.New(limiterStore,
		service.RateRulesFromConfig(&cfg.Comments, &cfg.API),
		cfg.Comments.ExemptRoles)

	var detectors []classifier.Detector
	if url := cfg.Comments.Spam.DetectorURL; url != "" {
		detectors = append(detectors, classifier.NewHTTPDetector(url, cfg.Comments.Spam.DetectorTimeout))
	}
	cls, err := classifier.New(classifier.Config{
		SpamWords:       settings.SpamWords,
		SpamAction:      settings.SpamAction,
		ProfanityWords:  settings.ProfanityWords,
		ProfanityAction: settings.ProfanityAction,
		DetectorTimeout: cfg.Comments.Spam.DetectorTimeout,
	}, log, detectors...)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	ids, err := snowflake.NewSnowflake(cfg.App.MachineID)
	if err != nil {
		return nil, err
	}

	dispatcher, hub := buildDispatcher(app)

	var archiver service.Archiver
	if oc := cfg.ObjectStorage; oc.Enabled {
		client, err := dao.NewMinioClient(oc.Endpoint, oc.AccessKey, oc.SecretKey, oc.UseSSL)
		if err != nil {
			return nil, err
		}
		a, err := dao.NewMinioArchiver(ctx, client, oc.Bucket)
		if err != nil {
			return nil, err
		}
		archiver = a
	}

	svc, err := service.NewService(settings, service.Deps{
		Store:      store,
		Classifier: cls,
		Limiter:    limiter,
		Locker:     locker,
		Emitter:    dispatcher,
		IDs:        ids,
		Logger:     log,
		Archiver:   archiver,
		CacheSize:  countCacheSize,
		CacheTTL:   cfg.Comments.CacheTimeout,
	})
	if err != nil {
		_ = dispatcher.Stop(ctx)
		return nil, err
	}

	return &Components{
		Service:    svc,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Hub:        hub,
		Store:      store,
	}, nil
}

func buildStore(ctx context.Context, app *server.Application) (dao.Store, error) {
	log := app.GetLogger()

	var store dao.Store
	if pg := app.GetPostgreSQL(); pg != nil {
		if err := pg.AutoMigrate(dao.Models()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		store = dao.NewCommentDAO(pg)
	} else {
		log.Warn(ctx, "Using in-memory store, data is lost on restart")
		store = dao.NewMemoryStore()
	}

	if mongoDB := app.GetMongoDB(); mongoDB != nil {
		logs, err := dao.NewMongoLogStore(ctx, mongoDB)
		if err != nil {
			return nil, err
		}
		store = dao.WithLogStore(store, logs)
	}
	return store, nil
}

// buildDispatcher 日志与实时推送总是订阅，外部投递受 notify.enabled 控制
func buildDispatcher(app *server.Application) (*notify.Dispatcher, *notify.Hub) {
	cfg := app.GetConfig()
	log := app.GetLogger()

	d := notify.NewDispatcher(notify.Config{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
	}, log, nil)
	d.SubscribeAll(notify.NewLogSink(log))

	hub := notify.NewHub(log)
	d.SubscribeAll(hub)

	if !cfg.Notify.Enabled {
		return d, hub
	}
	if p := app.GetKafkaProducer(); p != nil {
		d.SubscribeAll(notify.NewKafkaSink(p, cfg.Kafka.Topic))
	}
	if rc := app.GetRedisClient(); rc != nil && cfg.Notify.RedisChannel != "" {
		d.SubscribeAll(notify.NewRedisSink(rc.GetClient(), cfg.Notify.RedisChannel))
	}
	if es := app.GetElasticSearch(); es != nil {
		d.SubscribeAll(notify.NewElasticsearchSink(es.GetClient(), cfg.Elasticsearch.Index))
	}
	log.Info(context.Background(), "Notification sinks ready", logger.F("workers", cfg.Notify.Workers))
	return d, hub
}
