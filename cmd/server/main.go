// Package main runs the live presence and ranking HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bidli/backend/config"
	"github.com/bidli/backend/internal/auth"
	"github.com/bidli/backend/internal/boosts"
	"github.com/bidli/backend/internal/content"
	"github.com/bidli/backend/internal/leaderboard"
	"github.com/bidli/backend/internal/livestreams"
	"github.com/bidli/backend/internal/middleware"
	"github.com/bidli/backend/internal/presence"
	"github.com/bidli/backend/internal/ranking"
	"github.com/bidli/backend/internal/realtime"
	"github.com/bidli/backend/pkg/database"
	"github.com/bidli/backend/pkg/queue"
	"github.com/bidli/backend/pkg/redis"
	"github.com/bidli/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.Pool(), logger)
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

	clock := clockwork.NewRealClock()
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Ranking
	liveRepo := livestreams.NewRepository(pool)
	contentRepo := content.NewRepository(pool)
	boostRepo := boosts.NewRepository(pool)
	rankingSvc := ranking.NewService(ranking.NewEngine(clock), boostRepo, leaderboard.NewIndex(rdb.Client), logger)
	rankingSvc.Register(ranking.TypeLiveStream, liveRepo)
	rankingSvc.Register(ranking.TypePost, contentRepo)
	rankingSvc.Register(ranking.TypeProfile, contentRepo)
	rankingHandler := ranking.NewHandler(rankingSvc, cfg.Ranking.LeaderboardLimit, logger)

	var refresher presence.Refresher = rankingSvc
	if cfg.Ranking.RefreshMode == config.RefreshModeQueue {
		refresher = queue.NewQueue(rdb.Client, logger)
		logger.Info("ranking refresh delegated to worker queue")
	}

	// Presence
	store := presence.NewBreakerStore(liveRepo, presence.BreakerConfig{
		FailureThreshold: cfg.Presence.BreakerFailures,
		OpenTimeout:      cfg.Presence.BreakerOpen,
	}, logger)
	tracker := presence.NewTracker(store, refresher, clock, presence.Config{
		Expiry:         cfg.Presence.Expiry,
		PersistTimeout: cfg.Presence.PersistTimeout,
	}, logger)
	defer tracker.Close()
	presenceHandler := presence.NewHandler(tracker, logger)

	// Realtime viewer counts
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	tracker.SetCountChangeHandler(hub.PublishViewerCount)
	tracker.SetEndHandler(hub.PublishEnded)
	upgrader := realtime.NewUpgrader(cfg.Server.AllowedOrigins())

	liveHandler := livestreams.NewHandler(liveRepo, tracker, rankingSvc, logger)
	boostHandler := boosts.NewHandler(boostRepo, rankingSvc, clock, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := middleware.JWT(jwtService)
	optionalAuth := middleware.OptionalJWT(jwtService)
	sellerOrAdmin := middleware.RequireRole(auth.RoleSeller, auth.RoleAdmin)

	// Live rooms: anonymous viewers identify with viewer_id
	live := router.Group("/live")
	{
		live.GET("/:id", optionalAuth, liveHandler.Get)
		live.PATCH("/:id/status", requireAuth, sellerOrAdmin, liveHandler.SetStatus)
		live.POST("/:id/join", optionalAuth, presenceHandler.Join)
		live.POST("/:id/leave", optionalAuth, presenceHandler.Leave)
		live.GET("/:id/viewers", presenceHandler.Stats)
		live.POST("/:id/cleanup", requireAuth, sellerOrAdmin, presenceHandler.Cleanup)
	}

	// WebSocket (token or viewer_id in query)
	router.GET("/ws/live/:id", realtime.ServeWs(hub, tracker, jwtService, upgrader, logger))

	// Rankings
	rankings := router.Group("/rankings")
	{
		rankings.POST("/score", rankingHandler.Score)
		rankings.POST("/leaderboard", rankingHandler.Leaderboard)
		rankings.GET("/:type/top", rankingHandler.Top)
		rankings.POST("/:type/:id/refresh", requireAuth, middleware.RequireRole(auth.RoleAdmin), rankingHandler.Refresh)
	}

	// Boost campaigns
	boostGroup := router.Group("/boosts")
	boostGroup.Use(requireAuth, sellerOrAdmin)
	{
		boostGroup.POST("", boostHandler.Create)
		boostGroup.PATCH("/:id/status", boostHandler.SetStatus)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("refresh_mode", cfg.Ranking.RefreshMode))
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
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
