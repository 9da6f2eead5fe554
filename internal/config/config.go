package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantevo/vortexbot/internal/market"
)

// Stream is one (symbol, timeframe) pair from the auto-start matrix.
type Stream struct {
	Symbol    string
	Timeframe string
}

// Config holds all configuration for the platform.
type Config struct {
	// Broker
	APIKey        string
	APISecret     string
	Testnet       bool
	BrokerBaseURL string
	BrokerWSURL   string

	// Persistence
	DataDir    string
	ArchiveDSN string

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Observability
	MetricsAddr string
	Debug       bool

	// Auto-start matrix
	Streams []Stream

	// Trading
	Leverage                   int
	MaxPositionValue           decimal.Decimal
	RiskPerTrade               decimal.Decimal
	StopLossPct                float64
	TakeProfitPct              float64
	MinConfidence              float64
	MinReversalConfidence      float64
	ReversalCooldownMinutes    float64
	ProtectProfitablePositions bool
	NeverReverseInProfit       bool
	MinLossBeforeReversal      float64
	TradingEnabled             bool

	// Feed health
	FeedStaleAfter time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:    os.Getenv("BINANCE_API_KEY"),
		APISecret: os.Getenv("BINANCE_API_SECRET"),
		Testnet:   getEnvBool("TESTNET", true),

		DataDir:    getEnv("DATA_DIR", "data"),
		ArchiveDSN: os.Getenv("ARCHIVE_DSN"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		MetricsAddr: os.Getenv("METRICS_ADDR"),
		Debug:       getEnvBool("DEBUG", false),

		Leverage:                   getEnvInt("LEVERAGE", 1),
		MaxPositionValue:           getEnvDecimal("MAX_POSITION_VALUE", decimal.NewFromInt(1000)),
		RiskPerTrade:               getEnvDecimal("RISK_PER_TRADE", decimal.NewFromFloat(0.01)),
		StopLossPct:                getEnvFloat("STOP_LOSS_PCT", 1.0),
		TakeProfitPct:              getEnvFloat("TAKE_PROFIT_PCT", 1.0),
		MinConfidence:              getEnvFloat("MIN_CONFIDENCE", 0.62),
		MinReversalConfidence:      getEnvFloat("MIN_REVERSAL_CONFIDENCE", 0.70),
		ReversalCooldownMinutes:    getEnvFloat("REVERSAL_COOLDOWN_MINUTES", 25),
		ProtectProfitablePositions: getEnvBool("PROTECT_PROFITABLE_POSITIONS", true),
		NeverReverseInProfit:       getEnvBool("NEVER_REVERSE_IN_PROFIT", true),
		MinLossBeforeReversal:      getEnvFloat("MIN_LOSS_BEFORE_REVERSAL", 0.3),
		TradingEnabled:             getEnvBool("TRADING_ENABLED", true),

		FeedStaleAfter: getEnvDuration("FEED_STALE_AFTER", 120*time.Second),
	}

	// Base URLs default from the testnet flag; explicit env wins.
	if cfg.Testnet {
		cfg.BrokerBaseURL = getEnv("BROKER_BASE_URL", "https://testnet.binancefuture.com")
		cfg.BrokerWSURL = getEnv("BROKER_WS_URL", "wss://stream.binancefuture.com/ws")
	} else {
		cfg.BrokerBaseURL = getEnv("BROKER_BASE_URL", "https://fapi.binance.com")
		cfg.BrokerWSURL = getEnv("BROKER_WS_URL", "wss://fstream.binance.com/ws")
	}

	streams, err := ParseStreams(getEnv("STREAMS", "BTCUSDT:1m"))
	if err != nil {
		return nil, err
	}
	cfg.Streams = streams

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("BINANCE_API_KEY is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("BINANCE_API_SECRET is required")
	}

	return cfg, nil
}

// ParseStreams parses the auto-start matrix, e.g. "BTCUSDT:1m,ETHUSDT:5m".
func ParseStreams(s string) ([]Stream, error) {
	var streams []Stream
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid stream %q (want SYMBOL:INTERVAL)", part)
		}
		symbol := strings.ToUpper(strings.TrimSpace(fields[0]))
		interval := strings.TrimSpace(fields[1])
		if symbol == "" {
			return nil, fmt.Errorf("invalid stream %q: empty symbol", part)
		}
		if !market.ValidInterval(interval) {
			return nil, fmt.Errorf("invalid stream %q: unsupported interval %q", part, interval)
		}
		streams = append(streams, Stream{Symbol: symbol, Timeframe: interval})
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("STREAMS is empty")
	}
	return streams, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
