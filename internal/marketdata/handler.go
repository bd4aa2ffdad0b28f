// Package marketdata keeps a bounded per-symbol candle buffer and the
// indicator series derived from it.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/ta"
	"atr-trading-bot/internal/types"
)

var ErrNoData = errors.New("no market data")

const (
	DefaultBufferSize = 1000
	// incrementalFetch covers the in-progress bar plus a missed close.
	incrementalFetch = 3
)

type Config struct {
	BufferSize int
	ATRPeriod  int
	EMAPeriod  int
	RSIPeriod  int
}

type Handler struct {
	src interfaces.CandleSource
	cfg Config

	mu   sync.RWMutex
	bars map[string][]types.Bar
}

var _ interfaces.MarketDataProvider = (*Handler)(nil)

func NewHandler(src interfaces.CandleSource, cfg Config) *Handler {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Handler{src: src, cfg: cfg, bars: map[string][]types.Bar{}}
}

// Refresh loads the full buffer on first use and merges the newest candles
// afterwards. When the newest candles no longer overlap the buffer, bars
// were missed and the whole buffer is reloaded. Indicators are recomputed
// over the whole buffer.
func (h *Handler) Refresh(ctx context.Context, symbol string) error {
	h.mu.RLock()
	have := len(h.bars[symbol])
	var newest int64
	if have > 0 {
		newest = h.bars[symbol][have-1].Ts
	}
	h.mu.RUnlock()

	n := incrementalFetch
	if have == 0 {
		n = h.cfg.BufferSize
	}
	candles, err := h.src.RecentCandles(ctx, symbol, n)
	if err != nil {
		return fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		if have == 0 {
			return fmt.Errorf("%s: %w", symbol, ErrNoData)
		}
		logger.Warn(ctx, "No new candles", "symbol", symbol)
		return nil
	}

	reload := have > 0 && oldest(candles) > newest
	if reload {
		logger.Warn(ctx, "Candle gap detected, reloading buffer",
			"symbol", symbol,
			"buffered_until", newest,
			"fetched_from", oldest(candles),
		)
		candles, err = h.src.RecentCandles(ctx, symbol, h.cfg.BufferSize)
		if err != nil {
			return fmt.Errorf("reload candles for %s: %w", symbol, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var base []types.Candle
	if !reload {
		base = candlesOf(h.bars[symbol])
	}
	merged := merge(base, candles)
	if len(merged) > h.cfg.BufferSize {
		merged = merged[len(merged)-h.cfg.BufferSize:]
	}
	h.bars[symbol] = h.withIndicators(merged)

	logger.Debug(ctx, "Market data refreshed",
		"symbol", symbol,
		"fetched", len(candles),
		"buffered", len(merged),
		"reloaded", reload,
	)
	return nil
}

// LatestSnapshot returns the newest bar. ok is false until the first
// successful Refresh.
func (h *Handler) LatestSnapshot(symbol string) (types.MarketSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bars := h.bars[symbol]
	if len(bars) == 0 {
		return types.MarketSnapshot{}, false
	}
	b := bars[len(bars)-1]
	return types.MarketSnapshot{
		Time:  time.Unix(b.Ts, 0).UTC(),
		Close: b.Close,
		ATR:   b.ATR,
		EMA:   b.EMA,
		RSI:   b.RSI,
	}, true
}

// Series returns a copy of the last n bars, all of them when n <= 0.
func (h *Handler) Series(symbol string, n int) []types.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bars := h.bars[symbol]
	if n > 0 && n < len(bars) {
		bars = bars[len(bars)-n:]
	}
	return append([]types.Bar(nil), bars...)
}

func (h *Handler) withIndicators(cs []types.Candle) []types.Bar {
	highs := make([]float64, len(cs))
	lows := make([]float64, len(cs))
	closes := make([]float64, len(cs))
	for i, c := range cs {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	atr := ta.ATR(highs, lows, closes, h.cfg.ATRPeriod)
	ema := ta.EMA(closes, h.cfg.EMAPeriod)
	rsi := ta.RSI(closes, h.cfg.RSIPeriod)

	bars := make([]types.Bar, len(cs))
	for i, c := range cs {
		bars[i] = types.Bar{Candle: c, ATR: atr[i], EMA: ema[i], RSI: rsi[i]}
	}
	return bars
}

func oldest(cs []types.Candle) int64 {
	ts := cs[0].Ts
	for _, c := range cs[1:] {
		ts = min(ts, c.Ts)
	}
	return ts
}

func candlesOf(bars []types.Bar) []types.Candle {
	out := make([]types.Candle, len(bars))
	for i, b := range bars {
		out[i] = b.Candle
	}
	return out
}

// merge folds incoming candles into base by timestamp. A candle with the
// timestamp of an existing one replaces it; base stays sorted.
func merge(base, incoming []types.Candle) []types.Candle {
	in := append([]types.Candle(nil), incoming...)
	sort.Slice(in, func(i, j int) bool { return in[i].Ts < in[j].Ts })

	for _, c := range in {
		n := len(base)
		switch {
		case n == 0 || c.Ts > base[n-1].Ts:
			base = append(base, c)
		case c.Ts == base[n-1].Ts:
			base[n-1] = c
		default:
			i := sort.Search(n, func(i int) bool { return base[i].Ts >= c.Ts })
			if i < n && base[i].Ts == c.Ts {
				base[i] = c
			}
		}
	}
	return base
}
