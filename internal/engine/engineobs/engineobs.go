package engineobs

import (
	"context"
	"time"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/trace"
	"atr-trading-bot/internal/types"
)

type observableStrategy struct {
	strategy interfaces.Strategy
}

var _ interfaces.Strategy = (*observableStrategy)(nil)

func Wrap(s interfaces.Strategy) interfaces.Strategy {
	return &observableStrategy{
		strategy: s,
	}
}

func (s *observableStrategy) GenerateSignal(ctx context.Context, symbol string, series []types.Bar) (types.TradeSignal, bool) {
	ctx, span := trace.StartSpan(ctx, "strategy.GenerateSignal")
	defer span.End()

	start := time.Now()
	sig, ok := s.strategy.GenerateSignal(ctx, symbol, series)
	if !ok {
		logger.DebugSkip(ctx, 1, "No signal",
			"symbol", symbol,
			"bars", len(series),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return sig, false
	}

	logger.InfoSkip(ctx, 1, "Strategy produced signal",
		"symbol", symbol,
		"kind", sig.Kind.String(),
		"price", sig.Price,
		"confidence", sig.Confidence,
		"reason", sig.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sig, true
}

func (s *observableStrategy) OnTick(ctx context.Context, symbol string, tick types.Tick) (types.TradeSignal, bool) {
	sig, ok := s.strategy.OnTick(ctx, symbol, tick)
	if ok {
		logger.InfoSkip(ctx, 1, "Tick hook produced signal", "symbol", symbol, "kind", sig.Kind.String(), "reason", sig.Reason)
	}
	return sig, ok
}

func (s *observableStrategy) ShouldExit(ctx context.Context, symbol string, price float64, dir types.Direction) (types.TradeSignal, bool) {
	ctx, span := trace.StartSpan(ctx, "strategy.ShouldExit")
	defer span.End()

	sig, ok := s.strategy.ShouldExit(ctx, symbol, price, dir)
	if ok {
		logger.InfoSkip(ctx, 1, "Strategy requested exit",
			"symbol", symbol,
			"direction", dir.String(),
			"price", price,
			"reason", sig.Reason,
		)
	}
	return sig, ok
}
