package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"atr-trading-bot/internal/broker/brokertest"
	"atr-trading-bot/internal/types"
)

type breaker bool

func (b breaker) Active() bool { return bool(b) }

var noon = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func defaultLimits() Limits {
	return Limits{MinFreeMarginPercent: 20, MaxSpreadPoints: 20, MaxPositions: 3, TradingStartHour: 0, TradingEndHour: 24}
}

func healthyGateway() *brokertest.Gateway {
	gw := brokertest.New()
	gw.Account = types.AccountSnapshot{Balance: 10000, FreeMargin: 9000}
	gw.Symbols["EURUSD"] = brokertest.EURUSD()
	gw.Ticks["EURUSD"] = types.Tick{Symbol: "EURUSD", Bid: 1.10000, Ask: 1.10010}
	return gw
}

func buy() types.TradeSignal {
	return types.TradeSignal{Symbol: "EURUSD", Kind: types.SignalBuy, Price: 1.1001, StopLoss: 1.0991}
}

func TestGateAcceptsHealthySignal(t *testing.T) {
	v := NewGate(healthyGateway(), breaker(false), defaultLimits()).Validate(context.Background(), buy(), noon)
	assert.True(t, v.Accepted, v.Reason)
}

func TestGateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(gw *brokertest.Gateway, l *Limits)
		breaker bool
		rule    Rule
	}{
		{"breaker", nil, true, RuleCircuitBreaker},
		{"account error", func(gw *brokertest.Gateway, _ *Limits) { gw.AccountErr = errors.New("down") }, false, RuleDataUnavailable},
		{"low free margin", func(gw *brokertest.Gateway, _ *Limits) { gw.Account.FreeMargin = 1000 }, false, RuleFreeMargin},
		{"max positions", func(gw *brokertest.Gateway, _ *Limits) {
			gw.Open = []types.Position{{Ticket: 1, Symbol: "A"}, {Ticket: 2, Symbol: "B"}, {Ticket: 3, Symbol: "C"}}
		}, false, RuleMaxPositions},
		{"hidden symbol", func(gw *brokertest.Gateway, _ *Limits) {
			m := gw.Symbols["EURUSD"]
			m.Visible = false
			gw.Symbols["EURUSD"] = m
			gw.SelectOK = false
		}, false, RuleSymbolUnavailable},
		{"unknown symbol", func(gw *brokertest.Gateway, _ *Limits) { delete(gw.Symbols, "EURUSD") }, false, RuleSymbolUnavailable},
		{"wide spread", func(gw *brokertest.Gateway, _ *Limits) {
			gw.Ticks["EURUSD"] = types.Tick{Bid: 1.10000, Ask: 1.10050}
		}, false, RuleSpread},
		{"tick error", func(gw *brokertest.Gateway, _ *Limits) { gw.TickErr = errors.New("stale") }, false, RuleDataUnavailable},
		{"outside hours", func(_ *brokertest.Gateway, l *Limits) { l.TradingStartHour, l.TradingEndHour = 8, 12 }, false, RuleTradingHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := healthyGateway()
			limits := defaultLimits()
			if tt.mutate != nil {
				tt.mutate(gw, &limits)
			}
			v := NewGate(gw, breaker(tt.breaker), limits).Validate(context.Background(), buy(), noon)
			assert.False(t, v.Accepted)
			assert.Equal(t, tt.rule, v.Rule, v.Reason)
		})
	}
}

func TestGateOnePositionPerSymbol(t *testing.T) {
	gw := healthyGateway()
	gw.Open = []types.Position{{Ticket: 777, Symbol: "EURUSD", Direction: types.Long, Volume: 0.1}}

	v := NewGate(gw, breaker(false), defaultLimits()).Validate(context.Background(), buy(), noon)
	assert.False(t, v.Accepted)
	assert.Equal(t, RuleExistingPosition, v.Rule)
	assert.Contains(t, v.Reason, "777")
	assert.Contains(t, v.Reason, "EURUSD")
}

func TestGateExitBypassesEverything(t *testing.T) {
	gw := healthyGateway()
	gw.AccountErr = errors.New("down")
	gw.TickErr = errors.New("down")

	exit := types.TradeSignal{Symbol: "EURUSD", Kind: types.SignalCloseBuy}
	v := NewGate(gw, breaker(true), defaultLimits()).Validate(context.Background(), exit, noon)
	assert.True(t, v.Accepted)
}

func TestGateBreakerWinsOverOtherFailures(t *testing.T) {
	gw := healthyGateway()
	gw.Account.FreeMargin = 0
	v := NewGate(gw, breaker(true), defaultLimits()).Validate(context.Background(), buy(), noon)
	assert.Equal(t, RuleCircuitBreaker, v.Rule)
}

func TestGateSelectsHiddenSymbol(t *testing.T) {
	gw := healthyGateway()
	m := gw.Symbols["EURUSD"]
	m.Visible = false
	gw.Symbols["EURUSD"] = m

	v := NewGate(gw, breaker(false), defaultLimits()).Validate(context.Background(), buy(), noon)
	assert.True(t, v.Accepted, v.Reason)
	assert.Equal(t, []string{"EURUSD"}, gw.Selected)
}

func TestInTradingHours(t *testing.T) {
	assert.True(t, InTradingHours(0, 0, 24))
	assert.True(t, InTradingHours(23, 0, 24))
	assert.False(t, InTradingHours(12, 8, 12))
	assert.True(t, InTradingHours(8, 8, 12))
	assert.True(t, InTradingHours(23, 22, 6))
	assert.True(t, InTradingHours(3, 22, 6))
	assert.False(t, InTradingHours(12, 22, 6))
}
