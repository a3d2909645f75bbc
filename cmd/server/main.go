package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skillversus/duel-backend/internal/config"
	"github.com/skillversus/duel-backend/internal/content"
	"github.com/skillversus/duel-backend/internal/httpapi"
	"github.com/skillversus/duel-backend/internal/hub"
	"github.com/skillversus/duel-backend/internal/judge"
	"github.com/skillversus/duel-backend/internal/leaderboard"
	"github.com/skillversus/duel-backend/internal/session"
	"github.com/skillversus/duel-backend/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks []session.ResultSink

	var repo *storage.Repo
	if cfg.DatabaseURL != "" {
		repo, err = storage.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("opening postgres", zap.Error(err))
		}
		sinks = append(sinks, repo)
	} else {
		logger.Warn("DATABASE_URL not set, duel results will not be persisted")
	}

	var board *leaderboard.Board
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("pinging redis", zap.Error(err))
		}
		board = leaderboard.New(rdb, leaderboard.Bounds{
			Leaderboard: cfg.LeaderboardStaleness,
			Submissions: cfg.SubmissionStaleness,
			Status:      cfg.StatusStaleness,
		})
		sinks = append(sinks, board)
	} else {
		logger.Warn("REDIS_ADDR not set, leaderboard disabled")
	}

	h := hub.NewHub(ctx, hub.Options{
		Logger:           logger,
		Content:          content.Static{},
		Sinks:            sinks,
		MaxSessions:      cfg.MaxSessions,
		DefaultTimeLimit: cfg.DefaultTimeLimit,
		ReadyCountdown:   cfg.ReadyCountdown,
		FocusGrace:       cfg.FocusGrace,
		IdleTimeout:      cfg.IdleTimeout,
		ResultLinger:     cfg.ResultLinger,
	})

	handler := httpapi.SetupRoutes(h, board, repo, judge.NewHTTPClient(cfg.JudgeURL), logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
