package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"upscale-go/internal/config"
	"upscale-go/internal/handlers/apiserver"
	"upscale-go/internal/imgtypes"
	appKafka "upscale-go/internal/kafka"
	"upscale-go/internal/logger"
	"upscale-go/internal/middleware"
	appRedis "upscale-go/internal/redis" // Alias for the internal redis package
	"upscale-go/internal/services"
	"upscale-go/internal/storage"
	"upscale-go/internal/upscaler"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gorilla/handlers"
	redisDriver "github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config/config.yaml or ./config.yaml)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.AppName, cfg.LogLevel)
	ctx := context.Background()
	logger.Info(ctx, "API 服务器配置加载成功", logger.Fields{"version": cfg.AppVersion})

	// 2. 初始化本地存储
	store, err := storage.NewLocalArtifactStore(cfg.Storage)
	if err != nil {
		fatal(ctx, "无法初始化本地存储", err)
	}
	logger.Info(ctx, "本地存储初始化成功", logger.Fields{
		"upload_dir": store.UploadDir(),
		"output_dir": store.OutputDir(),
	})

	// 3. 远程超分服务 (没有 API key 时只做本地处理)
	var remote imgtypes.RemoteUpscaler
	if cfg.RemoteEnabled() {
		remote = upscaler.NewClient(cfg.Upscaler)
		logger.Info(ctx, "远程超分服务已启用", logger.Fields{"endpoint": cfg.Upscaler.Endpoint})
	} else {
		logger.Warn(ctx, "未配置 API key，使用本地滤镜处理")
	}

	// 4. 初始化 Redis 结果缓存 (可选，只用于远程路径)
	var (
		resultCache imgtypes.ResultCache
		redisClient *redisDriver.Client
	)
	if cfg.Redis.Enabled {
		redisClient = redisDriver.NewClient(&redisDriver.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			fatal(ctx, "无法连接到 Redis", err)
		}
		resultCache = appRedis.NewRedisResultCache(redisClient, cfg.Redis.ResultTTL)
		logger.Info(ctx, "成功连接到 Redis", logger.Fields{"addr": cfg.Redis.Addr})
	}

	// 5. 初始化 Kafka Producer (可选)
	var (
		events      imgtypes.EventPublisher
		kfkProducer appKafka.MessageProducer
	)
	if cfg.Kafka.Enabled {
		kfkProducer, err = appKafka.NewConfluentKafkaProducer(cfg.Kafka)
		if err != nil {
			fatal(ctx, "无法创建 Kafka 生产者", err)
		}
		events = appKafka.NewUpscaleEventPublisher(kfkProducer, cfg.Kafka.UpscaleEventsTopic, cfg.Kafka.PublishTimeout)
		logger.Info(ctx, "Kafka 生产者初始化成功", logger.Fields{
			"brokers": cfg.Kafka.Brokers,
			"topic":   cfg.Kafka.UpscaleEventsTopic,
		})
	}

	// 6. 初始化 Service 和路由
	upscaleService := services.NewUpscaleService(store, remote, resultCache, events,
		services.WithMaxImagePixels(cfg.Storage.MaxImagePixels))
	r := apiserver.NewRouter(cfg, upscaleService, store)

	// 7. 中间件: 请求日志 -> panic 恢复 -> CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	var handler http.Handler = r
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.RecoveryLogger{}),
		handlers.PrintRecoveryStack(false),
	)(handler)
	handler = handlers.CORS(corsOptions...)(handler)
	handler = middleware.RequestLogging(handler)

	// 8. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.APIServer.ReadTimeout,
		WriteTimeout: cfg.APIServer.WriteTimeout,
		IdleTimeout:  cfg.APIServer.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "API 服务器启动", logger.Fields{"addr": serverAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(ctx, "API 服务器启动失败", err)
		}
	}()

	// 9. 优雅关闭: 先停止接收请求，再刷出 Kafka 消息，最后关闭 Redis
	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.APIServer.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"upscale-api": func(ctx context.Context) error {
				logger.Info(ctx, "收到关闭信号，正在关闭 API 服务器")
				shutdownErr := srv.Shutdown(ctx)
				if kfkProducer != nil {
					kfkProducer.Close()
				}
				if redisClient != nil {
					if err := redisClient.Close(); err != nil {
						logger.Error(ctx, "关闭 Redis 连接失败", err)
					}
				}
				return shutdownErr
			},
		},
	)

	exitCode := <-wait
	logger.Info(ctx, "API 服务器已关闭", logger.Fields{"exit_code": exitCode})
	os.Exit(exitCode)
}

func fatal(ctx context.Context, msg string, err error) {
	logger.Error(ctx, msg, err)
	os.Exit(1)
}
