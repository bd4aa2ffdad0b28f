package interfaces

import (
	"context"

	"atr-trading-bot/internal/types"
)

// Strategy is the signal capability injected into the trading loop.
type Strategy interface {
	GenerateSignal(ctx context.Context, symbol string, series []types.Bar) (types.TradeSignal, bool)
	OnTick(ctx context.Context, symbol string, tick types.Tick) (types.TradeSignal, bool)
	ShouldExit(ctx context.Context, symbol string, price float64, dir types.Direction) (types.TradeSignal, bool)
}

// MarketDataProvider keeps per-symbol bars with indicators.
type MarketDataProvider interface {
	Refresh(ctx context.Context, symbol string) error
	LatestSnapshot(symbol string) (types.MarketSnapshot, bool)
	Series(symbol string, n int) []types.Bar
}

// Notifier delivers operator events. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, ev types.Event)
}
