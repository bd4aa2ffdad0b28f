package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/types"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends each event as an HTML message. Sends run in the
// background; Wait blocks until they finish.
type Telegram struct {
	bot    sender
	chatID int64
	now    func() time.Time
	wg     sync.WaitGroup
}

var _ interfaces.Notifier = (*Telegram)(nil)

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "Telegram notifications enabled", "account", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID, now: time.Now}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev types.Event) {
	text := Format(ev, t.now())
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		msg := tgbotapi.NewMessage(t.chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := t.bot.Send(msg); err != nil {
			logger.Warn(ctx, "Failed to send Telegram message", "event", ev.Kind.String(), "error", err)
		}
	}()
}

// Wait blocks until in-flight messages are sent.
func (t *Telegram) Wait() {
	t.wg.Wait()
}
