// Package notify pushes trade lifecycle alerts to Telegram. The notifier is
// optional: a zero-config bot becomes a no-op so callers never nil-check.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/quantevo/vortexbot/internal/events"
	"github.com/quantevo/vortexbot/internal/runner"
)

const sendQueueSize = 64

// TelegramNotifier delivers alerts to one chat. Sends are queued and
// delivered by a single goroutine so callers never block on Telegram.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64

	mu      sync.Mutex
	running bool
	queue   chan string
	stopCh  chan struct{}
}

// NewTelegramNotifier connects the bot. Returns (nil, nil) when token or
// chatID is unset, which callers treat as "notifications disabled".
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram notifications disabled")
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	n := &TelegramNotifier{
		api:    api,
		chatID: chatID,
		queue:  make(chan string, sendQueueSize),
		stopCh: make(chan struct{}),
	}
	log.Info().Str("bot", api.Self.UserName).Msg("📱 Telegram notifier connected")
	return n, nil
}

// Start launches the send loop.
func (n *TelegramNotifier) Start() {
	if n == nil {
		return
	}
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.mu.Unlock()

	go n.sendLoop()
}

// Stop drains nothing and halts the send loop.
func (n *TelegramNotifier) Stop() {
	if n == nil {
		return
	}
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	close(n.stopCh)
}

func (n *TelegramNotifier) sendLoop() {
	for {
		select {
		case <-n.stopCh:
			return
		case text := <-n.queue:
			msg := tgbotapi.NewMessage(n.chatID, text)
			msg.ParseMode = "Markdown"
			if _, err := n.api.Send(msg); err != nil {
				log.Warn().Err(err).Msg("telegram send failed")
			}
		}
	}
}

// enqueue drops the message when the queue is full rather than blocking the
// trading path.
func (n *TelegramNotifier) enqueue(text string) {
	if n == nil {
		return
	}
	select {
	case n.queue <- text:
	default:
		log.Warn().Msg("telegram queue full, alert dropped")
	}
}

// NotifyTradeOpened alerts on a new position.
func (n *TelegramNotifier) NotifyTradeOpened(ev events.TradeEvent) {
	emoji := "🟢"
	if ev.Side == events.SideSell {
		emoji = "🔴"
	}
	n.enqueue(fmt.Sprintf(
		"%s *%s %s* `%s`\nQty: `%.6g`\nEntry: `%.6g`\nReason: %s",
		emoji, ev.Side, ev.Action, ev.Symbol, ev.Qty, ev.EntryPrice, ev.Reason,
	))
}

// NotifyTradeClosed alerts on a closed position with its PnL.
func (n *TelegramNotifier) NotifyTradeClosed(ev events.TradeEvent) {
	emoji := "💰"
	if ev.PnL < 0 {
		emoji = "🛑"
	}
	n.enqueue(fmt.Sprintf(
		"%s *%s* `%s`\nEntry: `%.6g` → Exit: `%.6g`\nPnL: `%+.4f`\nReason: %s",
		emoji, ev.Action, ev.Symbol, ev.EntryPrice, ev.ExitPrice, ev.PnL, ev.Reason,
	))
}

// NotifyStatus pushes a platform status summary across all streams.
func (n *TelegramNotifier) NotifyStatus(statuses []runner.Status) {
	if n == nil || len(statuses) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("📊 *Platform status*\n")
	for _, st := range statuses {
		fmt.Fprintf(&b, "`%s %s` %s bars=%d signals=%d trades=%d pnl=%s\n",
			st.Symbol, st.Timeframe, string(st.FeedState),
			st.BarsProcessed, st.SignalsGenerated, st.TradesExecuted,
			st.Stats.TotalPnL.StringFixed(2),
		)
	}
	fmt.Fprintf(&b, "_%s_", time.Now().UTC().Format(time.RFC3339))
	n.enqueue(b.String())
}
