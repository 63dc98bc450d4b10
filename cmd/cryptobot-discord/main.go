package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cryptobot/internal/app"
	"cryptobot/internal/bot"
	"cryptobot/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadBotFromEnv()
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

	// Prices only start moving once Discord reports the bot ready.
	if cfg.RunWalker {
		go func() {
			if err := market.Walker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("price walker stopped", "err", err)
			}
		}()
	}

	handler := bot.NewHandler(market.Registry, market.Ledger, market.Engine, logger)
	b, err := bot.New(cfg.DiscordToken, cfg.GuildID, handler, market.Walker.Ready, logger)
	if err != nil {
		logger.Error("bot init failed", "err", err)
		os.Exit(1)
	}
	if err := b.Run(ctx); err != nil {
		logger.Error("bot failed", "err", err)
		os.Exit(1)
	}
	logger.Info("bot shutdown")
}
