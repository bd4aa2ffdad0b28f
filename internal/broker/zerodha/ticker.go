package zerodha

import (
	"context"
	"fmt"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"atr-trading-bot/internal/logger"
)

// tickerStream feeds websocket ticks of the mapped instruments into the
// candle cache.
type tickerStream struct {
	ticker *kiteticker.Ticker
	mapper *instrumentMapper
	cache  *candleCache
}

func newTickerStream(apiKey, accessToken string, mapper *instrumentMapper, cache *candleCache) *tickerStream {
	return &tickerStream{
		ticker: kiteticker.New(apiKey, accessToken),
		mapper: mapper,
		cache:  cache,
	}
}

// start connects the websocket in the background and subscribes once the
// connection is up.
func (ts *tickerStream) start(ctx context.Context) {
	ts.ticker.OnConnect(ts.onConnect)
	ts.ticker.OnError(ts.onError)
	ts.ticker.OnClose(ts.onClose)
	ts.ticker.OnReconnect(ts.onReconnect)
	ts.ticker.OnNoReconnect(ts.onNoReconnect)
	ts.ticker.OnTick(ts.onTick)
	ts.ticker.OnOrderUpdate(ts.onOrderUpdate)

	go func() {
		logger.Info(ctx, "Starting Kite ticker", "instruments", ts.mapper.size())
		ts.ticker.Serve()
	}()
}

func (ts *tickerStream) stop(ctx context.Context) {
	logger.Info(ctx, "Stopping Kite ticker")
	ts.ticker.Stop()
}

func (ts *tickerStream) subscribe() error {
	tokens := ts.mapper.tokens()
	if len(tokens) == 0 {
		return nil
	}
	if err := ts.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe to instruments: %w", err)
	}
	if err := ts.ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
		return fmt.Errorf("failed to set ticker mode: %w", err)
	}
	return nil
}

func (ts *tickerStream) onConnect() {
	ctx := context.Background()
	logger.Info(ctx, "Kite ticker connected")
	if err := ts.subscribe(); err != nil {
		logger.ErrorWithErr(ctx, "Kite ticker subscription failed", err)
	}
}

func (ts *tickerStream) onError(err error) {
	logger.ErrorWithErr(context.Background(), "Kite ticker error", err)
}

func (ts *tickerStream) onClose(code int, reason string) {
	logger.Warn(context.Background(), "Kite ticker closed", "code", code, "reason", reason)
}

func (ts *tickerStream) onReconnect(attempt int, delay time.Duration) {
	logger.Info(context.Background(), "Kite ticker reconnecting", "attempt", attempt, "delay", delay)
}

func (ts *tickerStream) onNoReconnect(attempt int) {
	logger.Warn(context.Background(), "Kite ticker gave up reconnecting", "attempts", attempt)
}

func (ts *tickerStream) onTick(tick models.Tick) {
	symbol := ts.mapper.symbol(tick.InstrumentToken)
	if symbol == "" {
		return
	}
	at := tick.Timestamp.Time
	if at.IsZero() {
		at = time.Now()
	}
	ts.cache.addTick(symbol, at, tick.LastPrice, float64(tick.VolumeTraded))
}

func (ts *tickerStream) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order update received",
		"order_id", order.OrderID,
		"status", order.Status,
		"symbol", order.TradingSymbol,
	)
}
