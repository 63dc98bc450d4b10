// Package app assembles the market engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cryptobot/internal/config"
	"cryptobot/internal/events"
	"cryptobot/internal/ledger"
	"cryptobot/internal/market"
	"cryptobot/internal/metrics"
	"cryptobot/internal/store/memory"
	"cryptobot/internal/store/postgres"
	"cryptobot/internal/trade"
	"cryptobot/internal/walker"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Registry *market.Registry
	Ledger   market.LedgerStore
	Engine   *trade.Engine
	Walker   *walker.Walker
	Metrics  *metrics.Metrics

	log     *slog.Logger
	closers []func()
}

type stores interface {
	market.AssetStore
	market.HistoryStore
	market.TickStore
	market.LedgerStore
}

func New(ctx context.Context, cfg config.MarketConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{log: logger, Metrics: metrics.New()}

	var st stores
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolOptions{LockTimeout: cfg.DBLockTimeout})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		pg := postgres.New(pool, cfg.StartingBalance)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		st = pg
		logger.Info("using postgres store")
	} else {
		st = memory.New(cfg.StartingBalance)
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	a.Ledger = st
	if cfg.LedgerAPIURL != "" {
		a.Ledger = ledger.NewClient(cfg.LedgerAPIURL, cfg.LedgerAPIKey, cfg.StartingBalance)
		logger.Info("using remote ledger", "url", cfg.LedgerAPIURL)
	}

	var locks trade.Locker = trade.NewMemoryLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		locks = trade.NewRedisLocker(client, cfg.LockTTL)
		logger.Info("using redis user locks", "ttl", cfg.LockTTL.String())
	}

	var fanout events.Fanout
	if cfg.NATSURL != "" {
		p, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		fanout = append(fanout, p)
		logger.Info("publishing ticks to nats", "subject", events.TickSubject)
	}
	if len(cfg.KafkaBrokers) > 0 {
		p := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		a.closers = append(a.closers, func() { _ = p.Close() })
		fanout = append(fanout, p)
		logger.Info("publishing ticks to kafka", "topic", cfg.KafkaTopic)
	}
	var pub walker.Publisher
	if len(fanout) > 0 {
		pub = fanout
	}

	a.Registry = market.NewRegistry(st, st, logger)
	a.Engine = trade.NewEngine(a.Registry, a.Ledger, locks, logger, a.Metrics)
	w, err := walker.New(st, cfg.TickEvery, logger, walker.Options{Publisher: pub, Observer: a.Metrics})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Walker = w
	return a, nil
}

// ServeMetrics blocks serving /metrics on addr until ctx is done.
func (a *App) ServeMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error("metrics server failed", "err", err)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
