package engine

import (
	"math"
	"sort"
	"sync"

	"atr-trading-bot/internal/types"
)

const trailingStopReason = "Trailing stop hit"

type trailingStop struct {
	direction types.Direction
	level     float64
}

// TrailingStopTracker keeps one ATR-based stop per symbol. A stop only ever
// moves in the position's favor.
type TrailingStopTracker struct {
	mu         sync.Mutex
	multiplier float64
	stops      map[string]trailingStop
}

func NewTrailingStopTracker(atrMultiplier float64) *TrailingStopTracker {
	return &TrailingStopTracker{
		multiplier: atrMultiplier,
		stops:      map[string]trailingStop{},
	}
}

// Update tightens the stop for symbol from the latest price and ATR and
// returns the stop now in force. A direction change reseeds the stop.
func (t *TrailingStopTracker) Update(symbol string, dir types.Direction, price, atr float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.stops[symbol]
	if math.IsNaN(atr) || atr <= 0 || math.IsNaN(price) {
		return cur.level, ok
	}

	candidate := price - atr*t.multiplier
	if dir == types.Short {
		candidate = price + atr*t.multiplier
	}

	if !ok || cur.direction != dir {
		t.stops[symbol] = trailingStop{direction: dir, level: candidate}
		return candidate, true
	}
	if (dir == types.Long && candidate > cur.level) || (dir == types.Short && candidate < cur.level) {
		cur.level = candidate
		t.stops[symbol] = cur
	}
	return cur.level, true
}

// ShouldExit reports a close signal when price has crossed the stop.
func (t *TrailingStopTracker) ShouldExit(symbol string, price float64, dir types.Direction) (types.TradeSignal, bool) {
	t.mu.Lock()
	st, ok := t.stops[symbol]
	t.mu.Unlock()
	if !ok || st.direction != dir {
		return types.TradeSignal{}, false
	}

	hit := price <= st.level
	if dir == types.Short {
		hit = price >= st.level
	}
	if !hit {
		return types.TradeSignal{}, false
	}
	return types.TradeSignal{
		Symbol:     symbol,
		Kind:       types.ExitKind(dir),
		Price:      price,
		Reason:     trailingStopReason,
		Confidence: 1,
	}, true
}

func (t *TrailingStopTracker) Remove(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stops, symbol)
}

// Stop returns the current level for symbol.
func (t *TrailingStopTracker) Stop(symbol string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.stops[symbol]
	return st.level, ok
}

// Symbols lists tracked symbols in sorted order.
func (t *TrailingStopTracker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.stops))
	for s := range t.stops {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
