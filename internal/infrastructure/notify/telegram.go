// Package notify provides the delivery channel implementations behind the
// emergency communication service.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
)

// TelegramChannel delivers messages through the Telegram Bot API. The
// recipient string is a chat ID.
type TelegramChannel struct {
	bot     *tgbotapi.BotAPI
	logger  *zap.Logger
	healthy atomic.Bool
}

func NewTelegramChannel(botToken string, logger *zap.Logger) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c := &TelegramChannel{bot: bot, logger: logger}
	c.healthy.Store(true)
	return c, nil
}

func (c *TelegramChannel) Type() domain.ChannelType { return domain.ChannelTelegram }

func (c *TelegramChannel) Send(ctx context.Context, message, recipient string, urgency domain.Urgency) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", recipient, err)
	}

	if urgency == domain.UrgencyCritical {
		message = "⚠️ " + message
	}
	msg := tgbotapi.NewMessage(chatID, message)

	done := make(chan error, 1)
	go func() { _, sendErr := c.bot.Send(msg); done <- sendErr }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			c.healthy.Store(false)
			return fmt.Errorf("telegram send: %w", err)
		}
		c.healthy.Store(true)
		return nil
	}
}

// IsAvailable reflects the outcome of the most recent send or self-check.
func (c *TelegramChannel) IsAvailable() bool {
	return c.healthy.Load()
}
