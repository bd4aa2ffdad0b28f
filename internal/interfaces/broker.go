package interfaces

import (
	"context"

	"atr-trading-bot/internal/types"
)

// Gateway is the venue API the engine trades through. Every call returns a
// fresh snapshot; implementations must not hand out shared mutable state.
type Gateway interface {
	AccountInfo(ctx context.Context) (types.AccountSnapshot, error)
	SymbolInfo(ctx context.Context, symbol string) (types.SymbolMetadata, error)
	Tick(ctx context.Context, symbol string) (types.Tick, error)
	// Positions lists open positions for symbol, or all of them when symbol is "".
	Positions(ctx context.Context, symbol string) ([]types.Position, error)
	PositionsTotal(ctx context.Context) (int, error)
	// OrderSend returns an error only when the request could not be
	// delivered; venue refusals are reported through the outcome.
	OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error)
	SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error)
}

// Session manages the venue connection lifecycle.
type Session interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Disconnect(ctx context.Context)
	Connected(ctx context.Context) bool
}

// CandleSource supplies raw OHLC history.
type CandleSource interface {
	RecentCandles(ctx context.Context, symbol string, n int) ([]types.Candle, error)
}
