package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cryptobot/internal/app"
	"cryptobot/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadMarketFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for the standalone worker")
		os.Exit(1)
	}
	market, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("market init failed", "err", err)
		os.Exit(1)
	}
	defer market.Close()

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("WORKER_RUN_ONCE")), "true")
	if runOnce {
		if _, err := market.Walker.Tick(ctx); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	go market.ServeMetrics(ctx, cfg.MetricsAddr)
	market.Walker.Ready()
	if err := market.Walker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
