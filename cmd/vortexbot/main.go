// Vortexbot - real-time market signal and execution platform.
//
// Pipeline per stream (symbol × timeframe):
// 1. Stream closed klines from Binance USDⓈ-M futures
// 2. Topology engine: rotation field, energy, vortex detection
// 3. Predictive engine: Monte-Carlo breakout/collapse probabilities + IFI
// 4. Signal fusion: LONG / SHORT / NEUTRAL with confidence
// 5. Execution manager: sizing, protective orders, reversal guard
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantevo/vortexbot/internal/archive"
	"github.com/quantevo/vortexbot/internal/binance"
	"github.com/quantevo/vortexbot/internal/config"
	"github.com/quantevo/vortexbot/internal/events"
	"github.com/quantevo/vortexbot/internal/metrics"
	"github.com/quantevo/vortexbot/internal/notify"
	"github.com/quantevo/vortexbot/internal/orchestrator"
	"github.com/quantevo/vortexbot/internal/runner"
	"github.com/quantevo/vortexbot/internal/trading"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Bool("testnet", cfg.Testnet).
		Bool("trading_enabled", cfg.TradingEnabled).
		Int("streams", len(cfg.Streams)).
		Msg("🌀 Vortexbot starting...")

	// ====== CORE COMPONENTS ======

	// 1. Event loggers - JSONL source of truth
	signalLog, err := events.NewSignalLogger(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open signal log")
	}
	tradeLog, err := events.NewTradeLogger(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade log")
	}

	// 2. Optional relational archive
	var store *archive.Archive
	if cfg.ArchiveDSN != "" {
		store, err = archive.New(cfg.ArchiveDSN)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Archive unavailable, continuing without it")
			store = nil
		}
	}

	// 3. Optional Telegram notifier
	notifier, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram unavailable, continuing without it")
		notifier = nil
	}
	notifier.Start()

	// 4. Optional Prometheus endpoint
	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr)
	}

	// 5. Shared broker client
	broker := binance.NewClient(binance.ClientConfig{
		BaseURL:   cfg.BrokerBaseURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	if err := broker.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect broker")
	}

	// 6. Orchestrator with the per-stream factory
	orch := orchestrator.New(func(symbol, timeframe string) orchestrator.Stream {
		tcfg := trading.DefaultTradingConfig(symbol, timeframe)
		tcfg.Leverage = cfg.Leverage
		tcfg.MaxPositionValue = cfg.MaxPositionValue
		tcfg.RiskPerTrade = cfg.RiskPerTrade
		tcfg.StopLossPct = cfg.StopLossPct
		tcfg.TakeProfitPct = cfg.TakeProfitPct
		tcfg.MinConfidence = cfg.MinConfidence
		tcfg.MinReversalConfidence = cfg.MinReversalConfidence
		tcfg.ReversalCooldownMinutes = cfg.ReversalCooldownMinutes
		tcfg.ProtectProfitablePositions = cfg.ProtectProfitablePositions
		tcfg.NeverReverseInProfit = cfg.NeverReverseInProfit
		tcfg.MinLossBeforeReversal = cfg.MinLossBeforeReversal
		tcfg.TradingEnabled = cfg.TradingEnabled

		manager := trading.NewManager(tcfg, broker, tradeLog)
		if notifier != nil {
			manager.SetNotifier(notifier)
		}
		if store != nil {
			manager.SetArchiver(store)
		}

		feed := binance.NewKlineFeed(cfg.BrokerWSURL, symbol, timeframe)
		r := runner.NewStreamRunner(symbol, timeframe, feed, broker, manager, signalLog)
		r.SetFeedStaleAfter(cfg.FeedStaleAfter)
		if store != nil {
			r.SetArchiver(store)
		}
		return r
	})

	// ====== START ======
	started := orch.StartAll(cfg.Streams)
	if started == 0 {
		log.Fatal().Msg("No streams started")
	}
	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	notifier.NotifyStatus(orch.Statuses())
	orch.StopAll()
	notifier.Stop()

	stats := tradeLog.Stats("")
	log.Info().
		Int("trades", stats.AllTime.Closed).
		Float64("pnl", stats.AllTime.TotalPnL).
		Float64("win_rate", stats.AllTime.WinRate).
		Msg("👋 Goodbye!")
}
