package alerts

import (
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/paperquant/trading-agent/internal/observ"
)

// Notifier receives end-of-cycle digests. Sends are fire-and-forget: a
// notification failure must never fail a trading cycle.
type Notifier interface {
	Send(text string)
}

// Noop drops every message; used when Telegram is not configured.
type Noop struct{}

// Send implements Notifier.
func (Noop) Send(string) {}

// Telegram delivers digests to a single chat via the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramFromEnv wires the notifier from TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID. Either missing yields a Noop.
func NewTelegramFromEnv() Notifier {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	rawChat := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || rawChat == "" {
		observ.Logger.Debug().Msg("telegram not configured, digests disabled")
		return Noop{}
	}
	chatID, err := strconv.ParseInt(rawChat, 10, 64)
	if err != nil {
		observ.Logger.Warn().Str("chat_id", rawChat).Msg("TELEGRAM_CHAT_ID is not numeric, digests disabled")
		return Noop{}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		observ.Logger.Warn().Err(err).Msg("telegram bot init failed, digests disabled")
		return Noop{}
	}
	return &Telegram{bot: bot, chatID: chatID}
}

// Send posts text to the configured chat, logging failures.
func (t *Telegram) Send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		observ.Logger.Warn().Err(err).Msg("telegram send failed")
		return
	}
	observ.IncCounter("alerts_sent_total", map[string]string{"channel": "telegram"})
}
