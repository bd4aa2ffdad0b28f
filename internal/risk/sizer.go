package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"atr-trading-bot/internal/types"
)

// Sizer converts a fixed percentage of balance at risk into a lot size.
type Sizer struct {
	RiskPerTradePercent float64
}

func NewSizer(riskPerTradePercent float64) Sizer {
	return Sizer{RiskPerTradePercent: riskPerTradePercent}
}

// Size returns the volume for sig, or 0 when the stop distance or tick
// value make sizing meaningless. A non-zero result always lies within the
// symbol's volume bounds on a VolumeStep multiple.
func (s Sizer) Size(sig types.TradeSignal, acct types.AccountSnapshot, meta types.SymbolMetadata) float64 {
	if meta.Point <= 0 || meta.TickValue <= 0 || acct.Balance <= 0 || s.RiskPerTradePercent <= 0 {
		return 0
	}
	slPoints := math.Abs(sig.Price-sig.StopLoss) / meta.Point
	if slPoints == 0 {
		return 0
	}

	riskAmount := acct.Balance * s.RiskPerTradePercent / 100
	volume := riskAmount / (slPoints * meta.TickValue)
	if math.IsNaN(volume) || math.IsInf(volume, 0) {
		return 0
	}

	volume = math.Max(meta.VolumeMin, math.Min(volume, meta.VolumeMax))
	return snapVolume(volume, meta)
}

func snapVolume(volume float64, meta types.SymbolMetadata) float64 {
	if meta.VolumeStep <= 0 {
		return volume
	}
	step := decimal.NewFromFloat(meta.VolumeStep)
	lo := decimal.NewFromFloat(meta.VolumeMin)
	hi := decimal.NewFromFloat(meta.VolumeMax)

	v := decimal.NewFromFloat(volume).Div(step).Round(0).Mul(step)
	if v.GreaterThan(hi) {
		v = v.Sub(step)
	}
	if v.LessThan(lo) {
		v = v.Add(step)
	}
	f, _ := v.Float64()
	return math.Max(f, 0)
}
