package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeduel/internal/common/cache"
	"codeduel/internal/common/db"
	"codeduel/internal/common/http/middleware"
	"codeduel/internal/common/mq"
	"codeduel/internal/common/storage"
	"codeduel/internal/execution/sandbox"
	execservice "codeduel/internal/execution/service"
	"codeduel/internal/hub"
	"codeduel/internal/identity"
	"codeduel/internal/match/controller"
	"codeduel/internal/match/repository"
	"codeduel/internal/match/service"
	"codeduel/internal/matchmaking"
	"codeduel/internal/metrics"
	"codeduel/internal/state"
	"codeduel/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	zredis "github.com/zeromicro/go-zero/core/stores/redis"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/duel-server.yaml"
	defaultEnvPath    = ".env"
	adminRole         = "admin"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", defaultEnvPath, "Optional dotenv file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "duel server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	bootCtx := context.Background()
	metrics.Init()

	database, err := db.Open(appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() { _ = database.Close() }()

	redisClient, err := cache.NewRedisClient(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	redisCache, err := cache.NewRedisCacheWithClient(redisClient)
	if err != nil {
		return fmt.Errorf("init redis cache failed: %w", err)
	}
	defer func() { _ = redisCache.Close() }()

	store := state.NewStore(redisCache)
	queue := matchmaking.NewQueue(store, appCfg.Matchmaking)
	manager := service.NewManager(service.Deps{
		DB:       database,
		Matches:  repository.NewMatchRepository(database),
		Players:  repository.NewPlayerRepository(database),
		Problems: repository.NewProblemRepository(database, redisCache),
		Store:    store,
		Queue:    queue,
	}, appCfg.Match)

	jobQueue, err := buildJobQueue(appCfg.Queue, redisClient)
	if err != nil {
		return fmt.Errorf("init execution queue failed: %w", err)
	}
	defer func() { _ = jobQueue.Close() }()

	archive, err := buildArchive(bootCtx, appCfg.MinIO)
	if err != nil {
		return fmt.Errorf("init source archive failed: %w", err)
	}

	admission, err := zredis.NewRedis(zredis.RedisConf{
		Host: appCfg.Redis.Addr,
		Type: zredis.NodeType,
		Pass: appCfg.Redis.Password,
	})
	if err != nil {
		return fmt.Errorf("init admission limiter failed: %w", err)
	}
	limiter := execservice.NewTokenLimiter(admission, appCfg.Limiter.Key, appCfg.Execution.RatePerSecond, appCfg.Limiter.Burst)

	deps := execservice.Deps{
		Queue:    jobQueue,
		Executor: sandbox.NewPiston(appCfg.Sandbox),
		Limiter:  limiter,
	}
	if archive != nil {
		deps.Archive = archive
	}
	pipeline := execservice.NewPipeline(deps, appCfg.Execution)

	authenticator := identity.NewAuthenticator(
		identity.NewJWTVerifier(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer),
		manager,
	)

	ctx, stop := signal.NotifyContext(bootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := hub.New(ctx, hub.Deps{
		Auth:    authenticator,
		Store:   store,
		Queue:   queue,
		Matches: manager,
		Exec:    pipeline,
	}, appCfg.Hub)

	if err := pipeline.Start(ctx); err != nil {
		return fmt.Errorf("subscribe execution jobs failed: %w", err)
	}
	if err := jobQueue.Start(); err != nil {
		return fmt.Errorf("start execution queue failed: %w", err)
	}

	workers := make(chan struct{}, 2)
	go func() {
		manager.Run(ctx)
		workers <- struct{}{}
	}()
	go func() {
		sessions.Run(ctx)
		workers <- struct{}{}
	}()

	httpServer := buildHTTPServer(appCfg, authenticator, manager, sessions, store, database)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(bootCtx, "duel server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("queue_driver", appCfg.Queue.Driver),
		)
		errCh <- httpServer.Serve(listener)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server stopped: %w", err)
		}
	case <-ctx.Done():
		logger.Info(bootCtx, "shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(bootCtx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(bootCtx, "http server shutdown failed", zap.Error(err))
	}
	sessions.Shutdown()
	if err := jobQueue.Stop(); err != nil {
		logger.Warn(bootCtx, "stop execution queue failed", zap.Error(err))
	}
	for range 2 {
		select {
		case <-workers:
		case <-shutdownCtx.Done():
			logger.Warn(bootCtx, "background workers did not stop in time")
			return serveErr
		}
	}
	logger.Info(bootCtx, "duel server stopped")
	return serveErr
}

func buildJobQueue(cfg QueueConfig, client *redis.Client) (mq.MessageQueue, error) {
	switch cfg.Driver {
	case queueDriverKafka:
		return mq.NewKafkaQueue(cfg.Kafka)
	case queueDriverMemory:
		return mq.NewMemoryQueue(cfg.MemoryBuffer), nil
	default:
		return mq.NewRedisStreamQueue(client, cfg.RedisStream)
	}
}

// buildArchive returns nil when archiving is disabled.
func buildArchive(ctx context.Context, cfg storage.MinIOConfig) (*storage.SourceArchive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	objects, err := storage.NewMinIOStorage(cfg)
	if err != nil {
		return nil, err
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := objects.EnsureBucket(ensureCtx, cfg.Bucket); err != nil {
		return nil, err
	}
	return storage.NewSourceArchive(objects, cfg.Bucket), nil
}

func buildHTTPServer(cfg *AppConfig, auth middleware.Authenticator, manager *service.Manager, sessions *hub.Hub, store, database controller.Pinger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(middleware.AccessLogMiddleware())

	health := controller.NewHealthController(store, database)
	router.GET("/health", health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", sessions.Handle)

	api := router.Group("/api/v1")
	controller.NewMatchController(manager).Register(api,
		middleware.AuthMiddleware(auth),
		middleware.AuthMiddleware(auth, adminRole),
	)

	return &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
}
