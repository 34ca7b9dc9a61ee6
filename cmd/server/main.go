// Package main runs the live-commerce HTTP server with the WebSocket gateway and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livecart/backend/config"
	"github.com/livecart/backend/internal/analytics"
	"github.com/livecart/backend/internal/auth"
	"github.com/livecart/backend/internal/forecast"
	"github.com/livecart/backend/internal/middleware"
	"github.com/livecart/backend/internal/orders"
	"github.com/livecart/backend/internal/polls"
	"github.com/livecart/backend/internal/questions"
	"github.com/livecart/backend/internal/realtime"
	"github.com/livecart/backend/internal/sessionlog"
	"github.com/livecart/backend/internal/streams"
	"github.com/livecart/backend/pkg/database"
	"github.com/livecart/backend/pkg/queue"
	"github.com/livecart/backend/pkg/redis"
	"github.com/livecart/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	authRepo := auth.NewRepository(pool)
	streamRepo := streams.NewRepository(pool)
	orderRepo := orders.NewRepository(pool)
	sessionLogRepo := sessionlog.NewRepository(pool)

	engine := analytics.NewEngine(analytics.Options{
		Windows: analytics.Windows{
			ViewerSeries:     cfg.Analytics.ViewerWindow,
			EngagementSeries: cfg.Analytics.EngagementWindow,
			Sales:            cfg.Analytics.SalesWindow,
			TrendBuckets:     cfg.Analytics.TrendBuckets,
			TrendBucketWidth: cfg.Analytics.TrendBucketWidth,
		},
		SampleInterval: cfg.Analytics.SampleInterval,
		IdleTimeout:    cfg.Analytics.IdleTimeout,
		Logger:         logger,
		Broadcaster:    hub,
		Orders:         orderRepo,
		Summaries:      streamRepo,
		Archiver:       jobQueue,
		Departures:     sessionLogRepo,
	})

	pollService := polls.NewService(polls.NewRepository(pool), streamRepo, hub, nil, logger)
	questionService := questions.NewService(questions.NewRepository(pool), streamRepo, authRepo, hub, nil, logger)
	forecastService := forecast.NewService(streamRepo, forecast.NewRedisCache(rdb.Client), nil, logger)

	gateway := realtime.NewRouter(realtime.RouterDeps{
		Hub:       hub,
		Engine:    engine,
		Polls:     pollService,
		Questions: questionService,
		Orders:    orderRepo,
		Streams:   streamRepo,
		Logger:    logger,
	})

	analyticsHandler := analytics.NewHandler(engine, streamRepo, logger, pollService, questionService)
	pollHandler := polls.NewHandler(pollService)
	questionHandler := questions.NewHandler(questionService)
	orderHandler := orders.NewHandler(orderRepo, streamRepo)
	sessionLogHandler := sessionlog.NewHandler(sessionLogRepo, streamRepo)
	forecastHandler := forecast.NewHandler(forecastService)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "active_streams": engine.ActiveStreams()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Live analytics (stream owner)
		api.GET("/streams/:id/analytics", analyticsHandler.GetMetrics)
		api.GET("/streams/:id/heatmap", analyticsHandler.GetHeatmap)
		api.GET("/streams/:id/retention", analyticsHandler.GetRetention)
		api.POST("/streams/:id/end", analyticsHandler.End)
		api.GET("/streams/:id/orders", orderHandler.ListByStream)
		api.GET("/streams/:id/attendees", sessionLogHandler.GetAttendees)

		// Questions
		api.GET("/streams/:id/questions", questionHandler.ListByStream)
		api.POST("/streams/:id/questions", questionHandler.Create)
		api.POST("/questions/:id/upvote", questionHandler.Upvote)
		api.POST("/questions/:id/answer", middleware.RequireSeller(), questionHandler.Answer)

		// Polls
		api.GET("/streams/:id/polls", pollHandler.List)
		api.POST("/streams/:id/polls", middleware.RequireSeller(), pollHandler.Create)
		api.POST("/polls/:id/vote", pollHandler.Vote)
		api.POST("/polls/:id/close", middleware.RequireSeller(), pollHandler.Close)

		// Forecast
		api.GET("/sellers/:id/best-time", middleware.RequireSeller(), forecastHandler.BestTime)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, gateway, jwtService, realtime.ClientConfig{
		MessagesPerSecond: cfg.Gateway.MessagesPerSecond,
		Burst:             cfg.Gateway.Burst,
		SendBuffer:        cfg.Gateway.SendBuffer,
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	engine.Close()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
