package adminbot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/logger"
)

// reply sends text to chatID through the outbound throttler (§6a's "bot
// pacing"), logging rather than propagating a failed send — a dropped status
// message should never take down the command handler that produced it.
func (b *Bot) reply(chatID int64, text string) {
	err := b.throttler.Do(context.Background(), func() error {
		_, sendErr := b.api.SendMessage(chatID, text, nil)
		return sendErr
	})
	if err != nil {
		logger.Sink(logger.SinkError).Warn("adminbot: send message", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func (b *Bot) replyf(chatID int64, format string, args ...interface{}) {
	b.reply(chatID, fmt.Sprintf(format, args...))
}

func (b *Bot) requireOperator(chatID int64) bool {
	if b.store.IsOperator(chatID) {
		return true
	}
	b.reply(chatID, "Not authorized.")
	return false
}

func (b *Bot) requirePrimary(chatID int64) bool {
	if b.store.IsPrimary(chatID) {
		return true
	}
	b.reply(chatID, "Only the primary operator can do that.")
	return false
}

func (b *Bot) accountExists(accountID string) bool {
	_, ok := b.store.Account(accountID)
	return ok
}
