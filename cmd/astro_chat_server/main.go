package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"astro_chat_server/internal/config"
	dao "astro_chat_server/internal/dao/mysql"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/internal/gateway/websocket"
	"astro_chat_server/internal/handler"
	"astro_chat_server/internal/https_server"
	"astro_chat_server/internal/infrastructure/audit"
	"astro_chat_server/internal/infrastructure/logger"
	"astro_chat_server/internal/infrastructure/mq"
	"astro_chat_server/internal/infrastructure/sms"
	"astro_chat_server/internal/service"
	"astro_chat_server/internal/service/relay"
	"astro_chat_server/pkg/util/jwt"
	"astro_chat_server/pkg/util/snowflake"
)

const shutdownTimeout = 15 * time.Second

func main() {
	conf := config.GetConfig()

	if err := logger.Init(&conf.LogConfig, conf.Mode); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	zap.L().Info("logger ready", zap.String("mode", conf.Mode), zap.String("instance", conf.InstanceID))

	jwt.Init(conf.JWTConfig.Secret, conf.JWTConfig.AccessTokenExpiry, conf.JWTConfig.RefreshTokenExpiry)
	snowflake.Init(conf.MachineID)
	if err := handler.InitTrans("en"); err != nil {
		zap.L().Fatal("init validator translations", zap.Error(err))
	}

	repos, db := dao.Init()
	zap.L().Info("mysql ready")

	// Without a redis host everything cache related stays in memory,
	// which is only usable for a single instance.
	var (
		redisClient *goredis.Client
		cache       myredis.AsyncCacheService
		closeCache  = func(context.Context) error { return nil }
	)
	if conf.RedisConfig.Host != "" {
		client, redisCache := myredis.Init()
		redisClient, cache, closeCache = client, redisCache, redisCache.Close
		zap.L().Info("redis ready")
	} else {
		cache = myredis.NewMemoryCache()
		zap.L().Warn("redis host empty, using in-memory cache")
	}

	smsService, err := sms.Init(cache)
	if err != nil {
		zap.L().Fatal("init sms service", zap.Error(err))
	}

	auditPublisher := audit.NewPublisher(conf.RabbitMQConfig.URL, conf.Exchange)
	zap.L().Info("audit publisher ready", zap.String("mode", audit.Mode(auditPublisher)))

	services := service.NewServices(service.Deps{
		Repos:       repos,
		Cache:       cache,
		Sms:         smsService,
		IsAdmin:     conf.IsAdminPhone,
		UploadDir:   conf.StaticFilePath,
		UploadURL:   conf.PublicBaseURL,
		UploadLimit: conf.MaxUploadMB << 20,
	})

	opts := relay.Options{
		InstanceID:   conf.InstanceID,
		AppName:      conf.AppName,
		Messages:     repos.Message,
		Recorder:     services.Call,
		Audit:        auditPublisher,
		Cache:        cache,
		PendingLimit: conf.PendingLimit,
	}
	var broker *mq.KafkaBroker
	if conf.MessageMode == "kafka" {
		if redisClient == nil {
			zap.L().Fatal("kafka message mode needs redis for presence")
		}
		broker = mq.NewKafkaBroker(conf.KafkaConfig, conf.InstanceID)
		if err := broker.CreateTopic(); err != nil {
			zap.L().Fatal("create relay topic", zap.Error(err))
		}
		opts.Broker = broker
		opts.Presence = myredis.NewPresence(redisClient, conf.InstanceID, time.Duration(conf.PresenceTTL)*time.Second)
	}
	r := relay.New(opts)
	zap.L().Info("relay ready", zap.String("messageMode", conf.MessageMode))

	relayCtx, stopRelay := context.WithCancel(context.Background())
	go func() {
		if err := r.Start(relayCtx); err != nil {
			zap.L().Error("relay consumer stopped", zap.Error(err))
		}
	}()

	gateway := websocket.NewGateway(r, conf.RelayConfig)
	handlers := handler.NewHandlers(services, r, gateway, conf.RTCConfig.ICEServers)
	engine := https_server.Init(handlers, conf)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port),
		Handler: engine,
	}
	go func() {
		zap.L().Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("http server", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"astro-chat-server": func(ctx context.Context) error {
				zap.L().Info("shutting down")
				var errs []error
				// stop accepting upgrades before closing the live connections
				errs = append(errs, srv.Shutdown(ctx))
				stopRelay()
				errs = append(errs, r.Close(ctx))
				if broker != nil {
					errs = append(errs, broker.Close())
				}
				errs = append(errs, closeCache(ctx))
				if redisClient != nil {
					errs = append(errs, redisClient.Close())
				}
				errs = append(errs, auditPublisher.Close())
				if sqlDB, err := db.DB(); err == nil {
					errs = append(errs, sqlDB.Close())
				}
				_ = zap.L().Sync()
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	zap.L().Info("server stopped", zap.Int("exitCode", exitCode))
	os.Exit(exitCode)
}
