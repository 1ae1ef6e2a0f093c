// Package main runs the background worker: ad expiry sweeps and image variant jobs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mapmarket/backend/config"
	"github.com/mapmarket/backend/internal/ads"
	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/metrics"
	"github.com/mapmarket/backend/internal/realtime"
	"github.com/mapmarket/backend/internal/worker"
	"github.com/mapmarket/backend/pkg/database"
	"github.com/mapmarket/backend/pkg/queue"
	"github.com/mapmarket/backend/pkg/redis"
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

	shutdownTracing, err := tracing.Init(cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName+"-worker", logger)
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
		logger.Fatal("s3", zap.Error(err))
	}

	codec, err := ads.NewShareCodec(cfg.Lifecycle.ShareCodeAlphabet)
	if err != nil {
		logger.Fatal("share codes", zap.Error(err))
	}

	// Expiry events go out through Redis to the API instances' map viewers.
	hub := realtime.NewHub(logger, realtime.NewRedisPubSub(rdb.Client, logger), nil)
	manager := lifecycle.NewManager(ads.NewLifecycleStore(pool, codec), lifecycle.SystemClock{}, logger)
	manager.SetSweepBatch(cfg.Lifecycle.SweepBatch)
	manager.SetNotifier(realtime.NewFeed(hub))

	sweeper := worker.NewSweeper(manager, rdb.Client, cfg.Lifecycle.SweepInterval, cfg.Lifecycle.SweepLockTTL, logger)
	processor := worker.NewImageProcessor(ads.NewRepository(pool, codec), s3Client, queue.NewQueue(rdb.Client, logger), worker.ImageOptions{
		Widths:  cfg.Images.VariantWidths,
		Quality: cfg.Images.WebPQuality,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sweeper.Run(workerCtx) }()
	go func() { defer wg.Done(); processor.Run(workerCtx) }()

	mux := http.NewServeMux()
	mux.Handle(cfg.Telemetry.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	metricsSrv := &http.Server{Addr: ":" + cfg.Telemetry.WorkerPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener", zap.Error(err))
		}
	}()
	logger.Info("worker started", zap.String("metrics_port", cfg.Telemetry.WorkerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
