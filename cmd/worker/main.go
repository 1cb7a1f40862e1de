// Package main runs the background ranking refresh worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bidli/backend/config"
	"github.com/bidli/backend/internal/boosts"
	"github.com/bidli/backend/internal/content"
	"github.com/bidli/backend/internal/leaderboard"
	"github.com/bidli/backend/internal/livestreams"
	"github.com/bidli/backend/internal/ranking"
	"github.com/bidli/backend/internal/worker"
	"github.com/bidli/backend/pkg/database"
	"github.com/bidli/backend/pkg/queue"
	"github.com/bidli/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	liveRepo := livestreams.NewRepository(pool)
	contentRepo := content.NewRepository(pool)
	clock := clockwork.NewRealClock()
	boostRepo := boosts.NewRepository(pool)
	index := leaderboard.NewIndex(rdb.Client)
	rankingSvc := ranking.NewService(ranking.NewEngine(clock), boostRepo, index, logger)
	rankingSvc.Register(ranking.TypeLiveStream, liveRepo)
	rankingSvc.Register(ranking.TypePost, contentRepo)
	rankingSvc.Register(ranking.TypeProfile, contentRepo)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewRankingProcessor(rankingSvc, jobQueue, queue.RetryBackoff, logger)
	rescorer := worker.NewRescorer(index, boostRepo, jobQueue, clock, cfg.Ranking.RescoreInterval, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		rescorer.Run(workerCtx)
	}()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
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
