// Package notify delivers operational alerts over Telegram. Delivery is
// best-effort: a failed send is logged and dropped, never retried in a way
// that could block the trading path.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Telegram sends alerts to a fixed chat. The zero-value (unconfigured) sink
// is a no-op.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *logrus.Logger
}

// NewTelegram connects the bot. An empty token returns a disabled sink
// rather than an error so dry runs need no credentials.
func NewTelegram(token string, chatID int64, logger *logrus.Logger) (*Telegram, error) {
	t := &Telegram{chatID: chatID, logger: logger}
	if token == "" || chatID == 0 {
		logger.Info("telegram alerts disabled")
		return t, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	logger.WithField("bot", bot.Self.UserName).Info("telegram alerts enabled")
	return t, nil
}

// Info sends a routine update.
func (t *Telegram) Info(msg string) {
	t.send(msg)
}

// Critical sends a manual-intervention alert.
func (t *Telegram) Critical(msg string) {
	t.send("🚨 " + msg)
}

func (t *Telegram) send(msg string) {
	if t.bot == nil {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, msg)); err != nil {
		t.logger.WithError(err).Warn("telegram send failed")
	}
}
