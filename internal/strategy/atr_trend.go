// Package strategy holds the signal generators the trading loop can run.
package strategy

import (
	"context"
	"fmt"
	"math"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/types"
)

// SymbolInfoSource supplies the price precision used to round levels.
type SymbolInfoSource interface {
	SymbolInfo(ctx context.Context, symbol string) (types.SymbolMetadata, error)
}

type ATRTrendConfig struct {
	ATRMultiplier  float64
	RSIOversold    float64
	RSIOverbought  float64
	MinBars        int
	SignalStrength float64
}

func DefaultATRTrendConfig() ATRTrendConfig {
	return ATRTrendConfig{
		ATRMultiplier:  2.0,
		RSIOversold:    30,
		RSIOverbought:  70,
		MinBars:        200,
		SignalStrength: 0.8,
	}
}

// ATRTrend buys pullbacks in an uptrend and sells rallies in a downtrend.
// The trend is close against EMA; the pullback is a fresh RSI cross into
// oversold (overbought for sells). Exits are left to the trailing stop.
type ATRTrend struct {
	cfg  ATRTrendConfig
	info SymbolInfoSource
}

var _ interfaces.Strategy = (*ATRTrend)(nil)

func NewATRTrend(cfg ATRTrendConfig, info SymbolInfoSource) *ATRTrend {
	return &ATRTrend{cfg: cfg, info: info}
}

func (s *ATRTrend) GenerateSignal(ctx context.Context, symbol string, series []types.Bar) (types.TradeSignal, bool) {
	if len(series) < 2 || len(series) < s.cfg.MinBars {
		logger.Debug(ctx, "Insufficient bars for signal", "symbol", symbol, "bars", len(series), "required", s.cfg.MinBars)
		return types.TradeSignal{}, false
	}

	cur, prev := series[len(series)-1], series[len(series)-2]
	if !usable(cur.EMA) || !usable(cur.RSI) || !usable(cur.ATR) || math.IsNaN(prev.RSI) {
		logger.Debug(ctx, "Indicators not ready", "symbol", symbol)
		return types.TradeSignal{}, false
	}

	var kind types.SignalKind
	switch {
	case cur.Close > cur.EMA && cur.RSI < s.cfg.RSIOversold && prev.RSI >= s.cfg.RSIOversold:
		kind = types.SignalBuy
	case cur.Close < cur.EMA && cur.RSI > s.cfg.RSIOverbought && prev.RSI <= s.cfg.RSIOverbought:
		kind = types.SignalSell
	default:
		return types.TradeSignal{}, false
	}

	meta, err := s.info.SymbolInfo(ctx, symbol)
	if err != nil {
		logger.Warn(ctx, "Symbol info unavailable, skipping signal", "symbol", symbol, "error", err)
		return types.TradeSignal{}, false
	}

	risk := cur.ATR * s.cfg.ATRMultiplier
	sl, tp := cur.Close-risk, cur.Close+2*risk
	reason := fmt.Sprintf("Uptrend pullback | Price: %.5f > EMA: %.5f | RSI: %.1f", cur.Close, cur.EMA, cur.RSI)
	if kind == types.SignalSell {
		sl, tp = cur.Close+risk, cur.Close-2*risk
		reason = fmt.Sprintf("Downtrend pullback | Price: %.5f < EMA: %.5f | RSI: %.1f", cur.Close, cur.EMA, cur.RSI)
	}

	sig, err := types.NewTradeSignal(symbol, kind, cur.Close, meta.RoundPrice(sl), meta.RoundPrice(tp), reason, s.cfg.SignalStrength)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build signal", err, "symbol", symbol)
		return types.TradeSignal{}, false
	}
	return sig, true
}

// OnTick has no tick-level logic; stops are tracked by the engine.
func (s *ATRTrend) OnTick(ctx context.Context, symbol string, tick types.Tick) (types.TradeSignal, bool) {
	return types.TradeSignal{}, false
}

func (s *ATRTrend) ShouldExit(ctx context.Context, symbol string, price float64, dir types.Direction) (types.TradeSignal, bool) {
	return types.TradeSignal{}, false
}

func usable(v float64) bool {
	return !math.IsNaN(v) && v != 0
}
