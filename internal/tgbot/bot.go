package tgbot

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI the bots use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var _ Sender = (*tgbotapi.BotAPI)(nil)

type Observer interface {
	ObserveCommand(bot, command string)
	ObserveBroadcast(sent, failed int)
}

type nopObserver struct{}

func (nopObserver) ObserveCommand(string, string) {}
func (nopObserver) ObserveBroadcast(int, int)     {}

// UpdateHandler handles one incoming update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// Poll feeds updates to h until ctx ends or the channel closes. Handler
// errors are logged and do not stop the loop.
func Poll(ctx context.Context, updates <-chan tgbotapi.Update, h UpdateHandler, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := h.HandleUpdate(ctx, update); err != nil {
				logger.Error("handle update failed", "update_id", update.UpdateID, "err", err)
			}
		}
	}
}

// StartPolling opens a long-polling update channel on bot.
func StartPolling(bot *tgbotapi.BotAPI, timeoutSeconds int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSeconds
	return bot.GetUpdatesChan(u)
}

func reply(sender Sender, chatID int64, text string) error {
	_, err := sender.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
