package zerodha

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"atr-trading-bot/internal/types"
)

var errNoCandles = errors.New("no candles available")

// candleCache folds streamed ticks into fixed-period candles per symbol.
type candleCache struct {
	buffers map[string]*candleBuffer
	period  int64
	maxSize int
	mu      sync.RWMutex
}

type candleBuffer struct {
	candles []types.Candle
	// lastVolume is the cumulative day volume of the previous tick.
	lastVolume float64
}

func newCandleCache(period time.Duration, maxSize int) *candleCache {
	secs := int64(period / time.Second)
	if secs <= 0 {
		secs = 60
	}
	return &candleCache{
		buffers: make(map[string]*candleBuffer),
		period:  secs,
		maxSize: maxSize,
	}
}

func (cc *candleCache) bufferLocked(symbol string) *candleBuffer {
	b, ok := cc.buffers[symbol]
	if !ok {
		b = &candleBuffer{}
		cc.buffers[symbol] = b
	}
	return b
}

// addTick updates the candle of the tick's period. Ticks older than the
// newest candle are dropped.
func (cc *candleCache) addTick(symbol string, at time.Time, price, cumVolume float64) {
	if price <= 0 {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()

	b := cc.bufferLocked(symbol)
	delta := 0.0
	if b.lastVolume > 0 && cumVolume >= b.lastVolume {
		delta = cumVolume - b.lastVolume
	}
	b.lastVolume = cumVolume

	bucket := at.Unix() / cc.period * cc.period
	if n := len(b.candles); n > 0 {
		last := &b.candles[n-1]
		switch {
		case last.Ts == bucket:
			last.High = max(last.High, price)
			last.Low = min(last.Low, price)
			last.Close = price
			last.Vol += delta
			return
		case last.Ts > bucket:
			return
		}
	}
	b.candles = append(b.candles, types.Candle{Ts: bucket, Open: price, High: price, Low: price, Close: price, Vol: delta})
	cc.trimLocked(b)
}

// seed merges historical candles under the streamed ones; for a period
// present in both the streamed candle wins.
func (cc *candleCache) seed(symbol string, history []types.Candle) {
	if len(history) == 0 {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()

	b := cc.bufferLocked(symbol)
	merged := make([]types.Candle, 0, len(history)+len(b.candles))
	i := 0
	for _, h := range history {
		for i < len(b.candles) && b.candles[i].Ts < h.Ts {
			merged = append(merged, b.candles[i])
			i++
		}
		if i < len(b.candles) && b.candles[i].Ts == h.Ts {
			continue
		}
		merged = append(merged, h)
	}
	merged = append(merged, b.candles[i:]...)
	b.candles = merged
	cc.trimLocked(b)
}

func (cc *candleCache) trimLocked(b *candleBuffer) {
	if cc.maxSize > 0 && len(b.candles) > cc.maxSize {
		b.candles = append([]types.Candle(nil), b.candles[len(b.candles)-cc.maxSize:]...)
	}
}

func (cc *candleCache) count(symbol string) int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	if b, ok := cc.buffers[symbol]; ok {
		return len(b.candles)
	}
	return 0
}

// getRecent returns a copy of the last n candles.
func (cc *candleCache) getRecent(symbol string, n int) ([]types.Candle, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	b, ok := cc.buffers[symbol]
	if !ok || len(b.candles) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, errNoCandles)
	}
	if n <= 0 || n > len(b.candles) {
		n = len(b.candles)
	}
	return append([]types.Candle(nil), b.candles[len(b.candles)-n:]...), nil
}
