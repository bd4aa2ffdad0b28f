package risk

import (
	"context"
	"fmt"
	"time"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/metrics"
	"atr-trading-bot/internal/types"
)

// Rule names the gate check that produced a verdict.
type Rule string

const (
	RuleNone              Rule = ""
	RuleCircuitBreaker    Rule = "circuit_breaker"
	RuleFreeMargin        Rule = "free_margin"
	RuleExistingPosition  Rule = "existing_position"
	RuleMaxPositions      Rule = "max_positions"
	RuleSymbolUnavailable Rule = "symbol_unavailable"
	RuleSpread            Rule = "spread"
	RuleTradingHours      Rule = "trading_hours"
	RuleDataUnavailable   Rule = "data_unavailable"
)

type Verdict struct {
	Accepted bool
	Rule     Rule
	Symbol   string
	Reason   string
}

func accept(symbol, reason string) Verdict {
	return Verdict{Accepted: true, Symbol: symbol, Reason: reason}
}

func reject(symbol string, rule Rule, format string, args ...any) Verdict {
	return Verdict{Rule: rule, Symbol: symbol, Reason: fmt.Sprintf(format, args...)}
}

type Limits struct {
	MinFreeMarginPercent float64
	MaxSpreadPoints      float64
	MaxPositions         int
	TradingStartHour     int
	TradingEndHour       int
}

// BreakerState is the read side of the drawdown monitor.
type BreakerState interface {
	Active() bool
}

// Gate applies the pre-trade checks in a fixed order; the first failing
// check decides. Every data lookup that fails rejects the signal.
type Gate struct {
	gw      interfaces.Gateway
	breaker BreakerState
	limits  Limits
	loc     *time.Location
	metrics *metrics.Metrics
}

type GateOption func(*Gate)

func WithGateLocation(loc *time.Location) GateOption {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

func WithGateMetrics(m *metrics.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

func NewGate(gw interfaces.Gateway, breaker BreakerState, limits Limits, opts ...GateOption) *Gate {
	g := &Gate{gw: gw, breaker: breaker, limits: limits, loc: time.UTC}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gate) Validate(ctx context.Context, sig types.TradeSignal, now time.Time) Verdict {
	v := g.evaluate(ctx, sig, now)
	if v.Accepted {
		logger.Debug(ctx, "Signal passed risk checks", "symbol", sig.Symbol, "kind", sig.Kind.String())
		return v
	}
	g.metrics.SignalRejected(sig.Symbol, string(v.Rule))
	logger.Risk(ctx, sig.Symbol, "signal_rejected",
		"kind", sig.Kind.String(),
		"rule", string(v.Rule),
		"reason", v.Reason,
	)
	return v
}

func (g *Gate) evaluate(ctx context.Context, sig types.TradeSignal, now time.Time) Verdict {
	sym := sig.Symbol

	// Flattening is always allowed, even with the breaker tripped.
	if sig.IsExit() {
		return accept(sym, "exit signal")
	}
	if g.breaker != nil && g.breaker.Active() {
		return reject(sym, RuleCircuitBreaker, "Circuit breaker active - trading halted")
	}

	acct, err := g.gw.AccountInfo(ctx)
	if err != nil {
		return reject(sym, RuleDataUnavailable, "Failed to get account info: %v", err)
	}
	if acct.Balance <= 0 {
		return reject(sym, RuleFreeMargin, "Non-positive balance %.2f", acct.Balance)
	}
	freePct := acct.FreeMargin / acct.Balance * 100
	if freePct < g.limits.MinFreeMarginPercent {
		return reject(sym, RuleFreeMargin, "Insufficient free margin: %.1f%% < %.1f%%", freePct, g.limits.MinFreeMarginPercent)
	}

	existing, err := g.gw.Positions(ctx, sym)
	if err != nil {
		return reject(sym, RuleDataUnavailable, "Failed to get positions for %s: %v", sym, err)
	}
	if len(existing) > 0 {
		return reject(sym, RuleExistingPosition, "Position already exists for %s (ticket %d)", sym, existing[0].Ticket)
	}

	total, err := g.gw.PositionsTotal(ctx)
	if err != nil {
		return reject(sym, RuleDataUnavailable, "Failed to count positions: %v", err)
	}
	if total >= g.limits.MaxPositions {
		return reject(sym, RuleMaxPositions, "Maximum positions reached: %d/%d", total, g.limits.MaxPositions)
	}

	meta, err := g.gw.SymbolInfo(ctx, sym)
	if err != nil {
		return reject(sym, RuleSymbolUnavailable, "Symbol %s not found: %v", sym, err)
	}
	if !meta.Visible {
		ok, err := g.gw.SymbolSelect(ctx, sym, true)
		if err != nil || !ok {
			return reject(sym, RuleSymbolUnavailable, "Failed to select symbol %s", sym)
		}
	}

	tick, err := g.gw.Tick(ctx, sym)
	if err != nil {
		return reject(sym, RuleDataUnavailable, "Failed to get tick for %s: %v", sym, err)
	}
	spread := tick.SpreadPoints(meta.Point)
	if spread > g.limits.MaxSpreadPoints {
		return reject(sym, RuleSpread, "Spread too high: %.1f > %.1f points", spread, g.limits.MaxSpreadPoints)
	}

	hour := now.In(g.loc).Hour()
	if !InTradingHours(hour, g.limits.TradingStartHour, g.limits.TradingEndHour) {
		return reject(sym, RuleTradingHours, "Outside trading hours: %d not in [%d, %d)", hour, g.limits.TradingStartHour, g.limits.TradingEndHour)
	}

	return accept(sym, "All checks passed")
}

// InTradingHours reports whether hour lies in [start, end). A start after
// end describes a window that wraps past midnight.
func InTradingHours(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
