package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type MarketConfig struct {
	TickEvery       time.Duration
	StartingBalance int64
	DatabaseURL     string
	DBLockTimeout   time.Duration
	RedisURL        string
	LockTTL         time.Duration
	NATSURL         string
	KafkaBrokers    []string
	KafkaTopic      string
	LedgerAPIURL    string
	LedgerAPIKey    string
	MetricsAddr     string
	LogLevel        slog.Level
}

type APIConfig struct {
	MarketConfig
	Addr       string
	AdminToken string
	RunWalker  bool
}

type BotConfig struct {
	MarketConfig
	DiscordToken string
	GuildID      string
	RunWalker    bool
}

type CLIConfig struct {
	APIBaseURL string
	AdminToken string
}

// LoadDotEnv copies a local .env file into the process environment. Variables that
// are already set win, and a missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Default metrics listeners per binary, so api, worker and bot can share a host.
const (
	DefaultAPIMetricsAddr    = ":9090"
	DefaultWorkerMetricsAddr = ":9091"
	DefaultBotMetricsAddr    = ":9092"
)

// LoadMarketFromEnv loads the settings shared by every binary, with the worker's
// metrics default.
func LoadMarketFromEnv() (MarketConfig, error) {
	return loadMarket(DefaultWorkerMetricsAddr)
}

func loadMarket(metricsAddr string) (MarketConfig, error) {
	cfg := MarketConfig{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBLockTimeout: envDurationDefault("DB_LOCK_TIMEOUT", 5*time.Second),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		LockTTL:       envDurationDefault("LOCK_TTL", 10*time.Second),
		NATSURL:       strings.TrimSpace(os.Getenv("NATS_URL")),
		KafkaBrokers:  envList("KAFKA_BROKERS"),
		KafkaTopic:    envDefault("KAFKA_TOPIC", "market_ticks"),
		LedgerAPIURL:  strings.TrimRight(strings.TrimSpace(os.Getenv("LEDGER_API_URL")), "/"),
		LedgerAPIKey:  strings.TrimSpace(os.Getenv("LEDGER_API_KEY")),
		MetricsAddr:   envDefault("METRICS_ADDR", metricsAddr),
		LogLevel:      envLevelDefault("LOG_LEVEL", slog.LevelInfo),
	}
	if strings.EqualFold(cfg.MetricsAddr, "off") {
		cfg.MetricsAddr = ""
	}

	every, err := tickInterval(os.Getenv("TICK_INTERVAL_SECONDS"))
	if err != nil {
		return cfg, err
	}
	cfg.TickEvery = every

	balance, err := startingBalance(os.Getenv("STARTING_BALANCE"))
	if err != nil {
		return cfg, err
	}
	cfg.StartingBalance = balance

	if cfg.DBLockTimeout <= 0 {
		return cfg, fmt.Errorf("DB_LOCK_TIMEOUT must be > 0")
	}

	if cfg.LedgerAPIURL != "" && cfg.LedgerAPIKey == "" {
		return cfg, fmt.Errorf("LEDGER_API_KEY is required when LEDGER_API_URL is set")
	}
	return cfg, nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	market, err := loadMarket(DefaultAPIMetricsAddr)
	cfg := APIConfig{
		MarketConfig: market,
		Addr:         listenAddr(),
		AdminToken:   strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		RunWalker:    envBoolDefault("API_RUN_WALKER", true),
	}
	if err != nil {
		return cfg, err
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("ADMIN_TOKEN is required")
	}
	return cfg, nil
}

func LoadBotFromEnv() (BotConfig, error) {
	market, err := loadMarket(DefaultBotMetricsAddr)
	cfg := BotConfig{
		MarketConfig: market,
		DiscordToken: strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		GuildID:      strings.TrimSpace(os.Getenv("DISCORD_GUILD_ID")),
		RunWalker:    envBoolDefault("BOT_RUN_WALKER", true),
	}
	if err != nil {
		return cfg, err
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CBX_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("CBX_ADMIN_TOKEN")),
	}
}

func tickInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Minute, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("TICK_INTERVAL_SECONDS must be a number, got %q", raw)
	}
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 {
		return 0, fmt.Errorf("TICK_INTERVAL_SECONDS must be > 0, got %q", raw)
	}
	return d, nil
}

func startingBalance(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1000, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("STARTING_BALANCE must be an integer, got %q", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("STARTING_BALANCE must be >= 0, got %d", v)
	}
	return v, nil
}

func listenAddr() string {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
		return addr
	}
	return envDefault("API_ADDR", ":8080")
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
