package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptobot/internal/api"
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
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	market, err := app.New(ctx, cfg.MarketConfig, logger)
	if err != nil {
		logger.Error("market init failed", "err", err)
		os.Exit(1)
	}
	defer market.Close()

	go market.ServeMetrics(ctx, cfg.MetricsAddr)
	if cfg.RunWalker {
		go func() {
			if err := market.Walker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("price walker stopped", "err", err)
			}
		}()
	}

	server := api.New(logger, market.Registry, market.Ledger, market.Engine, cfg.AdminToken)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("cryptobot api listening", "addr", cfg.Addr)
	market.Walker.Ready()
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
