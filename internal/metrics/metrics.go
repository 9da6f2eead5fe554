// Package metrics exposes the platform's Prometheus metrics.
//
//   - vortex_bars_processed_total{symbol,timeframe} – closed bars handled
//   - vortex_signals_total{symbol,timeframe,type}   – signals by type
//   - vortex_decisions_total{decision}              – executed/ignored/blocked
//   - vortex_trades_total{result}                   – trades by result (open|win|loss)
//   - vortex_open_positions{symbol}                 – 1 while a position is open
//   - vortex_equity_usd                             – last known wallet balance
//   - vortex_feed_reconnects_total{symbol,timeframe} – feed reconnect attempts
//   - vortex_feed_lag_dropped_total{symbol,timeframe} – bars dropped by the lag queue
//
// Everything is registered in init() and served at /metrics by Serve.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	BarsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_bars_processed_total",
			Help: "Closed bars handled per stream",
		},
		[]string{"symbol", "timeframe"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_signals_total",
			Help: "Signals emitted by type",
		},
		[]string{"symbol", "timeframe", "type"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_decisions_total",
			Help: "Signal decisions taken",
		},
		[]string{"decision"},
	)

	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_trades_total",
			Help: "Trades by result",
		},
		[]string{"result"}, // open|win|loss
	)

	OpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vortex_open_positions",
			Help: "1 while a position is open for the symbol",
		},
		[]string{"symbol"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vortex_equity_usd",
			Help: "Last known wallet balance in USD",
		},
	)

	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_feed_reconnects_total",
			Help: "Feed reconnect attempts",
		},
		[]string{"symbol", "timeframe"},
	)

	FeedLagDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_feed_lag_dropped_total",
			Help: "Closed bars dropped because the handler lagged",
		},
		[]string{"symbol", "timeframe"},
	)
)

func init() {
	prometheus.MustRegister(BarsProcessed, Signals, Decisions, Trades)
	prometheus.MustRegister(OpenPositions, Equity)
	prometheus.MustRegister(FeedReconnects, FeedLagDropped)
}

// Serve starts the /metrics endpoint on addr and returns the server so the
// caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("📊 Metrics server started")
	return srv
}
