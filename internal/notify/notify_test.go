package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atr-trading-bot/internal/types"
)

var at = time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)

func TestFormatTradeOpened(t *testing.T) {
	msg := Format(types.Event{
		Kind:       types.EventTradeOpened,
		Symbol:     "EURUSD",
		Direction:  types.Long,
		Volume:     1,
		Price:      1.1001,
		StopLoss:   1.0991,
		TakeProfit: 1.1021,
	}, at)

	assert.Contains(t, msg, "Trade Opened")
	assert.Contains(t, msg, "<b>Action:</b> BUY")
	assert.Contains(t, msg, "<b>Lot:</b> 1.00")
	assert.Contains(t, msg, "<b>SL:</b> 1.09910")
	assert.Contains(t, msg, "<b>Time:</b> 2024-03-04 10:30:00")
}

func TestFormatTradeClosedLoss(t *testing.T) {
	msg := Format(types.Event{Kind: types.EventTradeClosed, Symbol: "EURUSD", Profit: -12.5, Message: "Trailing stop hit"}, at)

	assert.Contains(t, msg, "❌")
	assert.Contains(t, msg, "$-12.50")
	assert.Contains(t, msg, "<b>Reason:</b> Trailing stop hit")
}

func TestFormatEscapesMessages(t *testing.T) {
	msg := Format(types.Event{Kind: types.EventError, Message: "bad <tag> & more"}, at)
	assert.Contains(t, msg, "bad &lt;tag&gt; &amp; more")
}

func TestFormatCircuitBreaker(t *testing.T) {
	msg := Format(types.Event{Kind: types.EventCircuitBreaker, Drawdown: 3.01}, at)
	assert.Contains(t, msg, "CIRCUIT BREAKER")
	assert.Contains(t, msg, "3.01%")
}

type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramSendsHTML(t *testing.T) {
	bot := &fakeBot{}
	tg := &Telegram{bot: bot, chatID: 42, now: func() time.Time { return at }}

	tg.Notify(context.Background(), types.Event{Kind: types.EventStarted, Message: "Trading [EURUSD]"})
	tg.Wait()

	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "HTML", bot.sent[0].ParseMode)
	assert.Contains(t, bot.sent[0].Text, "Trading Bot Started")
}

func TestTelegramSendFailureIsSwallowed(t *testing.T) {
	bot := &fakeBot{err: errors.New("429 too many requests")}
	tg := &Telegram{bot: bot, chatID: 42, now: time.Now}

	tg.Notify(context.Background(), types.Event{Kind: types.EventError, Message: "x"})
	tg.Wait()
	assert.Len(t, bot.sent, 1)
}

func TestNewTelegramNeedsCredentials(t *testing.T) {
	_, err := NewTelegram("", 1)
	assert.Error(t, err)
	_, err = NewTelegram("token", 0)
	assert.Error(t, err)
}

type counter struct{ n int }

func (c *counter) Notify(ctx context.Context, ev types.Event) { c.n++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &counter{}, &counter{}
	Multi{a, nil, b, Log{}}.Notify(context.Background(), types.Event{Kind: types.EventStopped})
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
