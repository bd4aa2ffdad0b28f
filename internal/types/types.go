package types

import (
	"math"
	"time"
)

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Bar is a candle with the indicator values computed at its close.
type Bar struct {
	Candle
	ATR, EMA, RSI float64
}

// MarketSnapshot is the latest bar of a symbol reduced to what the engine reads.
type MarketSnapshot struct {
	Time  time.Time
	Close float64
	ATR   float64
	EMA   float64
	RSI   float64
}

// SymbolMetadata is a read-only copy of the venue's contract description.
// Volumes are in lots, prices in quote currency.
type SymbolMetadata struct {
	Symbol      string
	Point       float64
	Digits      int
	VolumeMin   float64
	VolumeMax   float64
	VolumeStep  float64
	TickValue   float64
	FillingMode int
	Visible     bool
}

// RoundPrice rounds p to the symbol's quoted precision.
func (m SymbolMetadata) RoundPrice(p float64) float64 {
	pow := math.Pow(10, float64(m.Digits))
	return math.Round(p*pow) / pow
}

type AccountSnapshot struct {
	Balance     float64
	Equity      float64
	Margin      float64
	FreeMargin  float64
	MarginLevel float64
}

type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// SpreadPoints returns the bid/ask spread expressed in points.
func (t Tick) SpreadPoints(point float64) float64 {
	if point <= 0 {
		return math.Inf(1)
	}
	return (t.Ask - t.Bid) / point
}

type Position struct {
	Ticket     uint64
	Symbol     string
	Direction  Direction
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
}

// DailyRiskState is the per-calendar-day drawdown bookkeeping.
type DailyRiskState struct {
	Day                  time.Time
	StartingBalance      float64
	PeakBalance          float64
	CircuitBreakerActive bool
}

// RiskMetrics is a read-only snapshot for dashboards and notifications.
type RiskMetrics struct {
	Day                  string  `json:"day"`
	StartingBalance      float64 `json:"starting_balance"`
	PeakBalance          float64 `json:"peak_balance"`
	CurrentBalance       float64 `json:"current_balance"`
	DailyDrawdownPercent float64 `json:"daily_drawdown_pct"`
	PeakDrawdownPercent  float64 `json:"peak_drawdown_pct"`
	CircuitBreakerActive bool    `json:"circuit_breaker_active"`
	OpenPositions        int     `json:"open_positions"`
	MaxPositions         int     `json:"max_positions"`
	FreeMargin           float64 `json:"free_margin"`
	MarginLevel          float64 `json:"margin_level"`
}
