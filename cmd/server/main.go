// Package main runs the marketplace HTTP API with the realtime map feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mapmarket/backend/config"
	"github.com/mapmarket/backend/internal/ads"
	"github.com/mapmarket/backend/internal/analytics"
	"github.com/mapmarket/backend/internal/auth"
	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/metrics"
	"github.com/mapmarket/backend/internal/middleware"
	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/internal/realtime"
	"github.com/mapmarket/backend/internal/users"
	"github.com/mapmarket/backend/internal/worker"
	"github.com/mapmarket/backend/pkg/database"
	"github.com/mapmarket/backend/pkg/queue"
	"github.com/mapmarket/backend/pkg/redis"
	"github.com/mapmarket/backend/pkg/response"
	"github.com/mapmarket/backend/pkg/storage"
	"github.com/mapmarket/backend/pkg/tracing"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	shutdownTracing, err := tracing.Init(cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, logger)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	metrics.Init()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Image uploads stay disabled (503) without a usable bucket.
	var (
		objects ads.ObjectStore
		jobs    ads.JobQueue
	)
	if cfg.AWS.Region != "" && cfg.AWS.ImagesBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Endpoint:             cfg.AWS.Endpoint,
			ImagesBucket:         cfg.AWS.ImagesBucket,
			PublicBaseURL:        cfg.AWS.PublicBaseURL,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			objects = s3Client
			jobs = queue.NewQueue(rdb.Client, logger)
		}
	}

	codec, err := ads.NewShareCodec(cfg.Lifecycle.ShareCodeAlphabet)
	if err != nil {
		logger.Fatal("share codes", zap.Error(err))
	}

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	feed := realtime.NewFeed(hub)

	manager := lifecycle.NewManager(ads.NewLifecycleStore(pool, codec), lifecycle.SystemClock{}, logger)
	manager.SetSweepBatch(cfg.Lifecycle.SweepBatch)
	manager.SetNotifier(feed)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	defaults := models.NewUserPolicy(cfg.Lifecycle.DefaultMaxActiveAds, cfg.Lifecycle.DefaultAdActiveDays)

	// Auth and users
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, defaults, logger)
	userHandler := users.NewHandler(authRepo, logger)

	// Ads, moderation and images
	adRepo := ads.NewRepository(pool, codec)
	adHandler := ads.NewHandler(adRepo, manager, codec, objects, jobs, ads.Options{
		MaxUploadBytes: int64(cfg.Images.MaxUploadMB) << 20,
		MaxImagesPerAd: cfg.Images.MaxPerAd,
	}, logger)
	adHandler.SetNotifier(feed)

	// View events
	analyticsHandler := analytics.NewHandler(analytics.NewRepository(pool), adRepo, cfg.Server.IPHashSalt, logger)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	limiter := middleware.RateLimit(rdb.Client, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger)

	// Health and metrics
	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Error: "database unavailable"})
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET(cfg.Telemetry.MetricsPath, gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	authGroup.Use(limiter)
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public browse; a valid token lets owners and admins see their hidden ads.
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.GET("/ads/map", adHandler.Map)
		public.GET("/ads/:id", adHandler.Get)
		public.GET("/a/:code", adHandler.GetByShareCode)
		public.POST("/ads/:id/view", limiter, analyticsHandler.RecordView)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/me", userHandler.Me)
		api.GET("/me/ads", adHandler.ListMine)

		api.POST("/ads", adHandler.Create)
		api.PATCH("/ads/:id", adHandler.Update)
		api.DELETE("/ads/:id", adHandler.Delete)
		api.POST("/ads/:id/activate", adHandler.Activate)
		api.POST("/ads/:id/deactivate", adHandler.Deactivate)
		api.POST("/ads/:id/images", adHandler.UploadImage)
		api.DELETE("/ads/:id/images/:imageId", adHandler.DeleteImage)
		api.GET("/ads/:id/views", analyticsHandler.Views)
	}

	// Moderation (admin only)
	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireAdmin())
	{
		admin.GET("/users", userHandler.List)
		admin.PATCH("/users/:id/policy", userHandler.UpdatePolicy)

		admin.GET("/ads", adHandler.ModerationQueue)
		admin.POST("/ads/:id/approve", adHandler.Approve)
		admin.POST("/ads/:id/reject", adHandler.Reject)
		admin.POST("/ads/:id/restate", adHandler.Restate)
		admin.POST("/ads/:id/activate", adHandler.Activate)
		admin.POST("/ads/:id/deactivate", adHandler.Deactivate)
		admin.POST("/sweep", adHandler.Sweep)
	}

	// Realtime map feed (public, read-only)
	router.GET("/ws", realtime.ServeWs(hub, logger, strings.Split(cfg.Server.CORSAllowedOrigins, ",")))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, cfg.Telemetry.ServiceName),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background expiry sweep (normally run by cmd/worker)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Lifecycle.SweeperInServer {
		sweeper := worker.NewSweeper(manager, rdb.Client, cfg.Lifecycle.SweepInterval, cfg.Lifecycle.SweepLockTTL, logger)
		go sweeper.Run(workerCtx)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
