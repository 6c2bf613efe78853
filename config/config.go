package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// Trading constants shared by sizing and aggregation. These are not
// tunable at runtime; they encode exchange minimums and the copy
// strategy's fixed ratios.
const (
	// DefaultScalingRatio is our size as a fraction of the whale's.
	DefaultScalingRatio = 0.02
	// MinCashValue is the exchange's minimum order notional in USD.
	MinCashValue = 1.01
	// MinShareCount is the exchange's minimum order size in shares.
	MinShareCount = 5.0
	// MinWhaleSharesToCopy filters out whale dust before sizing.
	MinWhaleSharesToCopy = 10.0
	// ResubmitPriceIncrement is the chase bump between attempts.
	ResubmitPriceIncrement = 0.01
	// MaxResubmitPriceBuffer caps how far the chase can move the price
	// above the initial limit.
	MaxResubmitPriceBuffer = 0.01
)

// RiskGuardConfig tunes the circuit breaker.
type RiskGuardConfig struct {
	LargeTradeShares   float64
	ConsecutiveTrigger int
	SequenceWindow     time.Duration
	MinDepthBeyondUSD  float64
	TripDuration       time.Duration
}

// AggregationConfig tunes the time-windowed batcher.
type AggregationConfig struct {
	Window        time.Duration
	BypassShares  float64
	MaxPendingUSD float64
	MinTrades     int
}

// Config is the full engine configuration, loaded from the
// environment once at startup.
type Config struct {
	PrivateKeyPresent bool
	ClobBaseURL       string
	GammaBaseURL      string
	PolygonWSURL      string
	TradersPath       string
	DBDriver          string // "sqlite" or "postgres"
	DBPath            string
	PostgresDSN       string
	HTTPPort          int

	GTDExpiryLive    time.Duration
	GTDExpiryDefault time.Duration
	FlushInterval    time.Duration
	HeartbeatEvery   time.Duration
	ShutdownGrace    time.Duration

	RiskGuard   RiskGuardConfig
	Aggregation AggregationConfig

	DryRun bool
}

// Load reads configuration from the environment, applying defaults
// and validating ranges. Call godotenv.Load first if a .env file is
// expected.
func Load() (*Config, error) {
	cfg := &Config{
		ClobBaseURL:  envString("CLOB_BASE_URL", "https://clob.polymarket.com"),
		GammaBaseURL: envString("GAMMA_BASE_URL", "https://gamma-api.polymarket.com"),
		PolygonWSURL: envString("POLYGON_WS_URL", "wss://polygon-rpc.com"),
		TradersPath:  envString("TRADERS_CONFIG", "traders.json"),
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBPath:       envString("DB_PATH", "data/trades.db"),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		DryRun:       envBool("DRY_RUN", false),
	}

	cfg.PrivateKeyPresent = os.Getenv("PRIVATE_KEY") != ""

	var err error
	if cfg.HTTPPort, err = envInt("HTTP_PORT", 8080); err != nil {
		return nil, err
	}

	if cfg.GTDExpiryLive, err = envSeconds("GTD_EXPIRY_LIVE_SECS", 61); err != nil {
		return nil, err
	}
	if cfg.GTDExpiryDefault, err = envSeconds("GTD_EXPIRY_SECS", 1800); err != nil {
		return nil, err
	}
	if cfg.FlushInterval, err = envMillis("FLUSH_INTERVAL_MS", 100); err != nil {
		return nil, err
	}
	if cfg.HeartbeatEvery, err = envSeconds("HEARTBEAT_SECS", 60); err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace, err = envSeconds("SHUTDOWN_GRACE_SECS", 10); err != nil {
		return nil, err
	}

	if cfg.RiskGuard, err = loadRiskGuard(); err != nil {
		return nil, err
	}
	if cfg.Aggregation, err = loadAggregation(); err != nil {
		return nil, err
	}

	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return nil, &models.ConfigError{Field: "DB_DRIVER", Err: fmt.Errorf("must be sqlite or postgres, got %q", cfg.DBDriver)}
	}
	if cfg.DBDriver == "postgres" && cfg.PostgresDSN == "" {
		return nil, &models.ConfigError{Field: "POSTGRES_DSN", Err: fmt.Errorf("required when DB_DRIVER=postgres")}
	}

	return cfg, nil
}

func loadRiskGuard() (RiskGuardConfig, error) {
	rg := RiskGuardConfig{}
	var err error
	if rg.LargeTradeShares, err = envFloat("RISK_LARGE_TRADE_SHARES", 1500); err != nil {
		return rg, err
	}
	if rg.ConsecutiveTrigger, err = envInt("RISK_CONSECUTIVE_TRIGGER", 2); err != nil {
		return rg, err
	}
	if rg.SequenceWindow, err = envSeconds("RISK_SEQUENCE_WINDOW_SECS", 30); err != nil {
		return rg, err
	}
	if rg.MinDepthBeyondUSD, err = envFloat("RISK_MIN_DEPTH_USD", 200); err != nil {
		return rg, err
	}
	if rg.TripDuration, err = envSeconds("RISK_TRIP_DURATION_SECS", 120); err != nil {
		return rg, err
	}
	if rg.LargeTradeShares <= 0 {
		return rg, &models.ConfigError{Field: "RISK_LARGE_TRADE_SHARES", Err: fmt.Errorf("must be positive")}
	}
	if rg.ConsecutiveTrigger < 1 {
		return rg, &models.ConfigError{Field: "RISK_CONSECUTIVE_TRIGGER", Err: fmt.Errorf("must be >= 1")}
	}
	return rg, nil
}

func loadAggregation() (AggregationConfig, error) {
	ag := AggregationConfig{}
	var err error
	if ag.Window, err = envMillis("AGG_WINDOW_MS", 800); err != nil {
		return ag, err
	}
	if ag.BypassShares, err = envFloat("AGG_BYPASS_SHARES", 4000); err != nil {
		return ag, err
	}
	if ag.MaxPendingUSD, err = envFloat("AGG_MAX_PENDING_USD", 500); err != nil {
		return ag, err
	}
	if ag.MinTrades, err = envInt("AGG_MIN_TRADES", 2); err != nil {
		return ag, err
	}
	if ag.Window <= 0 {
		return ag, &models.ConfigError{Field: "AGG_WINDOW_MS", Err: fmt.Errorf("must be positive")}
	}
	if ag.MinTrades < 1 {
		return ag, &models.ConfigError{Field: "AGG_MIN_TRADES", Err: fmt.Errorf("must be >= 1")}
	}
	return ag, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "TRUE" || v == "yes"
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &models.ConfigError{Field: key, Err: err}
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &models.ConfigError{Field: key, Err: err}
	}
	return f, nil
}

func envSeconds(key string, def int) (time.Duration, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &models.ConfigError{Field: key, Err: fmt.Errorf("must not be negative")}
	}
	return time.Duration(n) * time.Second, nil
}

func envMillis(key string, def int) (time.Duration, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &models.ConfigError{Field: key, Err: fmt.Errorf("must not be negative")}
	}
	return time.Duration(n) * time.Millisecond, nil
}
