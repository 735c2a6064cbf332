package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iam/internal/database"
	"iam/internal/handlers"
	"iam/internal/middleware"
	"iam/internal/repository"
	"iam/internal/router"
	"iam/internal/services"
	"iam/pkg/cache"
	"iam/pkg/config"
	"iam/pkg/idgen"
	"iam/pkg/jwt"
	"iam/pkg/logger"
	"iam/pkg/queue"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logger.GetLogger()
	appLogger.Info("Starting identity service...")

	tokenTTL, err := time.ParseDuration(cfg.JWT.TokenDuration)
	if err != nil {
		appLogger.Fatalf("Invalid JWT_TOKEN_DURATION %q: %v", cfg.JWT.TokenDuration, err)
	}

	// 初始化数据库
	db, err := database.Connect(cfg.Database, cfg.Server.Mode)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
	}()

	if err := database.Migrate(db, appLogger); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.Redis)
	if err != nil {
		appLogger.Fatalf("Failed to connect redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	ids, err := idgen.NewSnowflake(cfg.Snowflake.Node)
	if err != nil {
		appLogger.Fatalf("Failed to initialize id generator: %v", err)
	}
	codes, err := services.NewCodeAllocator(cfg.Code)
	if err != nil {
		appLogger.Fatalf("Invalid code format: %v", err)
	}

	// 组装服务
	redisCache := cache.NewRedisCache(redisClient)
	hasher := services.BcryptHasher{Cost: bcrypt.DefaultCost}
	jwtManager := jwt.NewJWTManager(cfg.JWT.SecretKey, tokenTTL)

	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)

	cacheSync := services.NewCacheSynchronizer(redisCache)
	engine := services.NewUpsertEngine(userRepo, codes, cacheSync, ids, hasher, cfg.Upsert, appLogger)
	lookup := services.NewLookupService(userRepo, redisCache, cfg.Cache.TTL, appLogger)
	manage := services.NewManageService(userRepo, engine, cacheSync, hasher, cfg.Upsert.DefaultPassword, appLogger)
	personal := services.NewUserService(userRepo, engine, lookup, cacheSync, hasher, appLogger)
	groups := services.NewGroupService(groupRepo, codes, ids, appLogger)
	auth := services.NewAuthService(userRepo, lookup, redisCache, jwtManager, hasher, tokenTTL)

	broker := queue.NewRedisBroker(redisClient, queue.Options{
		Prefix:     cfg.Redis.Prefix,
		WorkQueue:  cfg.Queue.WorkQueue,
		DelayQueue: cfg.Queue.DelayQueue,
		DelayTTL:   cfg.Queue.DelayTTL,
	})
	pipeline := services.NewIngestionPipeline(broker, engine, cfg.Queue, appLogger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := pipeline.Start(ctx); err != nil {
		appLogger.Fatalf("Failed to start ingestion pipeline: %v", err)
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	sqlDB, err := db.DB()
	if err != nil {
		appLogger.Fatalf("Failed to get sql.DB: %v", err)
	}
	r := router.SetupRouter(router.Handlers{
		Auth:   handlers.NewAuthHandler(auth),
		User:   handlers.NewUserHandler(personal),
		Manage: handlers.NewManageHandler(manage),
		Group:  handlers.NewGroupHandler(groups),
		Lookup: handlers.NewLookupHandler(lookup),
		Ingest: handlers.NewIngestHandler(pipeline),
		System: handlers.NewSystemHandler(map[string]handlers.HealthCheck{
			"database": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		AuthMW:   middleware.NewAuthMiddleware(jwtManager, cfg.JWT.HeaderName),
		CORS:     cfg.CORS,
		Log:      appLogger,
		ServeLog: cfg.Server.Mode == gin.DebugMode,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	pipeline.Stop()
	appLogger.Info("Server exited")
}
