// Package main runs the background job worker (summary archive to S3, best-time forecasts).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livecart/backend/config"
	"github.com/livecart/backend/internal/forecast"
	"github.com/livecart/backend/internal/streams"
	"github.com/livecart/backend/internal/worker"
	"github.com/livecart/backend/pkg/database"
	"github.com/livecart/backend/pkg/queue"
	"github.com/livecart/backend/pkg/redis"
	"github.com/livecart/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var objects worker.ObjectStore
	if cfg.AWS.SummaryBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			SummaryBucket:   cfg.AWS.SummaryBucket,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		objects = s3Client
	} else {
		logger.Warn("AWS_S3_SUMMARY_BUCKET not set, summaries will not be archived")
	}

	clock := clockwork.NewRealClock()
	streamRepo := streams.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	forecastService := forecast.NewService(streamRepo, forecast.NewRedisCache(rdb.Client), clock, logger)
	processor := worker.NewProcessor(worker.Deps{
		Source:    jobQueue,
		Streams:   streamRepo,
		Objects:   objects,
		Forecasts: forecastService,
		Scheduler: jobQueue,
		Clock:     clock,
		Logger:    logger,
	})

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go worker.ScheduleForecasts(workerCtx, clock, cfg.Worker.ForecastInterval,
		func(ctx context.Context) ([]uuid.UUID, error) {
			return streamRepo.RecentSellers(ctx, clock.Now().Add(-cfg.Worker.ForecastLookback))
		}, jobQueue, logger)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
