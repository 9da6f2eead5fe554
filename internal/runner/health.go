package runner

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantevo/vortexbot/internal/binance"
)

const healthCheckInterval = 30 * time.Second

// HealthMonitor watches one stream's feed and the shared broker. A feed is
// healthy while CONNECTED and its last frame is fresher than staleAfter;
// otherwise the socket is forced closed so the reconnect loop recovers. A
// broker that fails its ping gets a reconnect attempt.
type HealthMonitor struct {
	symbol     string
	feed       Feed
	broker     Broker
	staleAfter time.Duration
	interval   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewHealthMonitor creates a monitor for one stream.
func NewHealthMonitor(symbol string, feed Feed, broker Broker, staleAfter time.Duration) *HealthMonitor {
	return &HealthMonitor{
		symbol:     symbol,
		feed:       feed,
		broker:     broker,
		staleAfter: staleAfter,
		interval:   healthCheckInterval,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic check.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.loop()
}

// Stop halts the monitor.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.check()
		}
	}
}

// check runs one health pass. Never panics; all failures are logged and
// handed to the recovery paths.
func (h *HealthMonitor) check() {
	h.checkFeed()
	h.checkBroker()
}

func (h *HealthMonitor) checkFeed() {
	state := h.feed.State()
	age := time.Since(h.feed.LastMessageTime())

	switch {
	case state == binance.FeedConnected && age <= h.staleAfter:
		// healthy
	case state == binance.FeedConnected:
		log.Warn().
			Str("symbol", h.symbol).
			Dur("silent_for", age).
			Msg("🩺 Feed stale, forcing reconnect")
		h.feed.ForceDisconnect()
	default:
		log.Warn().
			Str("symbol", h.symbol).
			Str("state", string(state)).
			Msg("🩺 Feed not connected, reconnect loop active")
	}
}

func (h *HealthMonitor) checkBroker() {
	if err := h.broker.Ping(); err == nil {
		return
	}
	log.Warn().Str("symbol", h.symbol).Msg("🩺 Broker ping failed, reconnecting")
	if err := h.broker.Connect(); err != nil {
		log.Error().Err(err).Str("symbol", h.symbol).Msg("broker reconnect failed")
	}
}
