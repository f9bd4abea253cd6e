package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Market data simulation
	Symbols        []string
	FeedStartPrice float64
	FeedStepPct    float64 // random-walk step as a fraction of price
	FeedIntervalMs int

	// Execution monitor
	SweepIntervalMs int
	QuoteTimeoutMs  int
	QuoteTTLMs      int     // price cache freshness window
	QuoteRateLimit  float64 // gateway lookups per second
	QuoteBurst      int
	CommissionRate  float64 // decimal, e.g. 0.001 = 10 bps per fill
	ReferencePrice  string  // "last" (tick price) or "mid"

	// Validator defaults when a recommendation omits stop/target
	DefaultStopPct  float64 // e.g. 0.05 = stop 5% from entry
	RewardRiskRatio float64 // take-profit distance as multiple of stop distance

	// Daily lifecycle
	CalendarPath     string
	RetentionDays    int
	RunScheduler     bool // fire calendar events from an in-process ticker
	HourlyIntervalMs int

	// Seed portfolio for fresh databases
	SeedPortfolioID string
	SeedInitialCash float64
	SeedRiskTol     string
	SeedMaxPosPct   float64
	SeedDayTrading  bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/execution.db"),
		Symbols:          splitAndTrim(getEnv("SYMBOLS", "AAPL,MSFT,GOOG")),
		FeedStartPrice:   getEnvFloat("FEED_START_PRICE", 150.0),
		FeedStepPct:      getEnvFloat("FEED_STEP_PCT", 0.002),
		FeedIntervalMs:   getEnvInt("FEED_INTERVAL_MS", 1000),
		SweepIntervalMs:  getEnvInt("SWEEP_INTERVAL_MS", 2000),
		QuoteTimeoutMs:   getEnvInt("QUOTE_TIMEOUT_MS", 500),
		QuoteTTLMs:       getEnvInt("QUOTE_TTL_MS", 1500),
		QuoteRateLimit:   getEnvFloat("QUOTE_RATE_LIMIT", 50),
		QuoteBurst:       getEnvInt("QUOTE_BURST", 100),
		CommissionRate:   getEnvFloat("COMMISSION_RATE", 0),
		ReferencePrice:   strings.ToLower(getEnv("REFERENCE_PRICE", "last")),
		DefaultStopPct:   getEnvFloat("DEFAULT_STOP_PCT", 0.05),
		RewardRiskRatio:  getEnvFloat("REWARD_RISK_RATIO", 2.0),
		CalendarPath:     getEnv("CALENDAR_PATH", "./calendar.yaml"),
		RetentionDays:    getEnvInt("RETENTION_DAYS", 90),
		RunScheduler:     getEnv("RUN_SCHEDULER", "true") == "true",
		HourlyIntervalMs: getEnvInt("HOURLY_INTERVAL_MS", 3600000),
		SeedPortfolioID:  getEnv("SEED_PORTFOLIO_ID", "default"),
		SeedInitialCash:  getEnvFloat("SEED_INITIAL_CASH", 10000.0),
		SeedRiskTol:      getEnv("SEED_RISK_TOLERANCE", "MEDIUM"),
		SeedMaxPosPct:    getEnvFloat("SEED_MAX_POSITION_PCT", 0.20),
		SeedDayTrading:   getEnv("SEED_DAY_TRADING", "false") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
