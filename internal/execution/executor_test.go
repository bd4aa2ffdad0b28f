package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atr-trading-bot/internal/broker/brokertest"
	"atr-trading-bot/internal/tradelog"
	"atr-trading-bot/internal/types"
)

type memJournal struct {
	entries []tradelog.Entry
}

func (m *memJournal) Append(e tradelog.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

type fixture struct {
	gw      *brokertest.Gateway
	journal *memJournal
	sleeps  []time.Duration
	exec    *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{gw: brokertest.New(), journal: &memJournal{}}
	f.gw.Symbols["EURUSD"] = brokertest.EURUSD()
	f.gw.Ticks["EURUSD"] = types.Tick{Symbol: "EURUSD", Bid: 1.10000, Ask: 1.10002}

	cfg := DefaultConfig()
	cfg.ClosePacing = 0
	f.exec = New(f.gw, cfg,
		WithJournal(f.journal),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
	)
	return f
}

func buySignal(t *testing.T) types.TradeSignal {
	t.Helper()
	sig, err := types.NewTradeSignal("EURUSD", types.SignalBuy, 1.10002, 1.09, 1.12, "test entry", 0.8)
	require.NoError(t, err)
	return sig
}

func requote() types.OrderOutcome {
	return types.Requoted{Reply: types.Reply{Code: types.RetcodeRequote, Comment: "Requote"}}
}

func TestExecuteFillsFirstAttempt(t *testing.T) {
	f := newFixture(t)

	out := f.exec.Execute(context.Background(), buySignal(t), 0.5)

	filled, ok := out.(types.Filled)
	require.True(t, ok, "got %s", types.Describe(out))
	assert.Equal(t, 1.10002, filled.Price)
	assert.Equal(t, 0.5, filled.Volume)

	sent := f.gw.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.SideBuy, sent[0].Side)
	assert.Equal(t, types.FillFOK, sent[0].Fill)
	assert.Equal(t, 1.09, sent[0].StopLoss)
	assert.NotEmpty(t, sent[0].ClientID)

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, tradelog.KindOpen, f.journal.entries[0].Kind)
	assert.Equal(t, sent[0].ClientID, f.journal.entries[0].ClientID)
}

func TestExecuteSellUsesBid(t *testing.T) {
	f := newFixture(t)
	sig, err := types.NewTradeSignal("EURUSD", types.SignalSell, 1.1, 1.11, 1.08, "short", 0.8)
	require.NoError(t, err)

	f.exec.Execute(context.Background(), sig, 0.1)

	sent := f.gw.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.SideSell, sent[0].Side)
	assert.Equal(t, 1.10000, sent[0].Price)
}

func TestExecuteRequoteThenFill(t *testing.T) {
	f := newFixture(t)
	f.gw.Script = []types.OrderOutcome{requote(), types.Filled{}}

	out := f.exec.Execute(context.Background(), buySignal(t), 0.5)

	assert.True(t, types.Succeeded(out))
	assert.Len(t, f.gw.Sent(), 2)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, f.sleeps)
}

func TestExecuteRequoteRefreshesPrice(t *testing.T) {
	f := newFixture(t)
	f.gw.Script = []types.OrderOutcome{requote(), types.Filled{}}
	f.exec.sleep = func(ctx context.Context, d time.Duration) error {
		f.gw.Ticks["EURUSD"] = types.Tick{Symbol: "EURUSD", Bid: 1.10010, Ask: 1.10012}
		return nil
	}

	f.exec.Execute(context.Background(), buySignal(t), 0.5)

	sent := f.gw.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, 1.10002, sent[0].Price)
	assert.Equal(t, 1.10012, sent[1].Price)
	assert.Equal(t, sent[0].ClientID, sent[1].ClientID)
}

func TestExecuteRequoteExhaustion(t *testing.T) {
	f := newFixture(t)
	f.gw.Script = []types.OrderOutcome{requote(), requote(), requote(), types.Filled{}}

	out := f.exec.Execute(context.Background(), buySignal(t), 0.5)

	_, ok := out.(types.Requoted)
	assert.True(t, ok, "got %s", types.Describe(out))
	assert.Len(t, f.gw.Sent(), 3)
	assert.Len(t, f.sleeps, 2)
	assert.Empty(t, f.journal.entries)
}

func TestExecuteFillPolicyFallback(t *testing.T) {
	f := newFixture(t)
	f.gw.Script = []types.OrderOutcome{
		types.InvalidFill{Reply: types.Reply{Code: types.RetcodeInvalidFill}},
		types.Filled{},
	}

	out := f.exec.Execute(context.Background(), buySignal(t), 0.5)

	assert.True(t, types.Succeeded(out))
	sent := f.gw.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, types.FillFOK, sent[0].Fill)
	assert.Equal(t, types.FillIOC, sent[1].Fill)
	assert.Empty(t, f.sleeps)
}

func TestExecuteSecondInvalidFillIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.gw.Script = []types.OrderOutcome{
		types.InvalidFill{Reply: types.Reply{Code: types.RetcodeInvalidFill}},
		types.InvalidFill{Reply: types.Reply{Code: types.RetcodeInvalidFill}},
		types.Filled{},
	}

	out := f.exec.Execute(context.Background(), buySignal(t), 0.5)

	inv, ok := out.(types.Invalid)
	require.True(t, ok, "got %s", types.Describe(out))
	assert.Contains(t, inv.Reason, "invalid filling type")
	assert.Len(t, f.gw.Sent(), 2)
}

func TestExecuteTerminalOutcomesStopImmediately(t *testing.T) {
	cases := []struct {
		name string
		out  types.OrderOutcome
	}{
		{"insufficient funds", types.InsufficientFunds{Reply: types.Reply{Code: types.RetcodeNoMoney, Comment: "No money"}}},
		{"market closed", types.MarketClosed{Reply: types.Reply{Code: types.RetcodeMarketClosed}}},
		{"invalid price", types.InvalidPrice{Reply: types.Reply{Code: types.RetcodeInvalidPrice}}},
		{"other reject", types.Rejected{Code: 10006, Text: "Request rejected"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.gw.Script = []types.OrderOutcome{tc.out, types.Filled{}}

			out := f.exec.Execute(context.Background(), buySignal(t), 0.5)

			assert.Equal(t, tc.out, out)
			assert.Len(t, f.gw.Sent(), 1)
		})
	}
}

func TestExecuteGatewayError(t *testing.T) {
	f := newFixture(t)
	f.gw.SendErr = errors.New("broken pipe")

	out := f.exec.Execute(context.Background(), buySignal(t), 0.5)

	rej, ok := out.(types.Rejected)
	require.True(t, ok)
	assert.Equal(t, -1, rej.Code)
	assert.Contains(t, rej.Text, "broken pipe")
}

func TestExecuteRejectsLocally(t *testing.T) {
	f := newFixture(t)

	out := f.exec.Execute(context.Background(), buySignal(t), 0)
	_, ok := out.(types.Invalid)
	assert.True(t, ok)

	exit, err := types.NewTradeSignal("EURUSD", types.SignalCloseBuy, 1.1, 0, 0, "exit", 1)
	require.NoError(t, err)
	out = f.exec.Execute(context.Background(), exit, 0.5)
	_, ok = out.(types.Invalid)
	assert.True(t, ok)

	unknown := buySignal(t)
	unknown.Symbol = "XAUUSD"
	out = f.exec.Execute(context.Background(), unknown, 0.5)
	inv, ok := out.(types.Invalid)
	require.True(t, ok)
	assert.Contains(t, inv.Reason, "XAUUSD")

	assert.Empty(t, f.gw.Sent())
}

func TestClosePosition(t *testing.T) {
	f := newFixture(t)
	f.gw.Open = []types.Position{{Ticket: 42, Symbol: "EURUSD", Direction: types.Long, Volume: 0.3, Profit: 12.5}}

	ok, msg := f.exec.Close(context.Background(), f.gw.Open[0], "Trailing stop hit")

	require.True(t, ok, msg)
	sent := f.gw.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.SideSell, sent[0].Side)
	assert.Equal(t, 1.10000, sent[0].Price)
	assert.Equal(t, uint64(42), sent[0].PositionTicket)
	assert.Equal(t, 0.3, sent[0].Volume)
	assert.Empty(t, f.gw.Open)

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, tradelog.KindClose, f.journal.entries[0].Kind)
	assert.Equal(t, 12.5, f.journal.entries[0].Profit)
	assert.Equal(t, "Trailing stop hit", f.journal.entries[0].Reason)
}

func TestCloseRejected(t *testing.T) {
	f := newFixture(t)
	f.gw.Script = []types.OrderOutcome{types.MarketClosed{Reply: types.Reply{Code: types.RetcodeMarketClosed, Comment: "Market closed"}}}

	ok, msg := f.exec.Close(context.Background(), types.Position{Ticket: 1, Symbol: "EURUSD", Direction: types.Short, Volume: 1}, "manual")

	assert.False(t, ok)
	assert.Contains(t, msg, "market closed")
	assert.Len(t, f.gw.Sent(), 1)
}

func TestModify(t *testing.T) {
	f := newFixture(t)
	f.gw.Open = []types.Position{{Ticket: 7, Symbol: "EURUSD", Direction: types.Long, Volume: 1}}

	ok, msg := f.exec.Modify(context.Background(), 7, 1.095, 1.13)
	require.True(t, ok, msg)

	sent := f.gw.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.ActionSLTP, sent[0].Action)
	assert.Equal(t, 1.095, sent[0].StopLoss)
	assert.Equal(t, 1.13, sent[0].TakeProfit)
	assert.Len(t, f.gw.Open, 1)

	ok, msg = f.exec.Modify(context.Background(), 99, 1, 2)
	assert.False(t, ok)
	assert.Equal(t, "position 99 not found", msg)
}

func TestCloseAllCountsSuccesses(t *testing.T) {
	f := newFixture(t)
	f.gw.Symbols["GBPUSD"] = brokertest.EURUSD()
	f.gw.Ticks["GBPUSD"] = types.Tick{Symbol: "GBPUSD", Bid: 1.27, Ask: 1.2701}
	f.gw.Open = []types.Position{
		{Ticket: 1, Symbol: "EURUSD", Direction: types.Long, Volume: 0.1},
		{Ticket: 2, Symbol: "EURUSD", Direction: types.Short, Volume: 0.2},
		{Ticket: 3, Symbol: "GBPUSD", Direction: types.Long, Volume: 0.3},
	}
	f.gw.Script = []types.OrderOutcome{
		types.Filled{},
		types.Rejected{Code: 10006, Text: "rejected"},
		types.Filled{},
	}

	closed := f.exec.CloseAll(context.Background(), "")

	assert.Equal(t, 2, closed)
	assert.Len(t, f.gw.Sent(), 3)
	require.Len(t, f.gw.Open, 1)
	assert.Equal(t, uint64(2), f.gw.Open[0].Ticket)
}

func TestCloseAllBySymbol(t *testing.T) {
	f := newFixture(t)
	f.gw.Open = []types.Position{
		{Ticket: 1, Symbol: "EURUSD", Direction: types.Long, Volume: 0.1},
		{Ticket: 2, Symbol: "GBPUSD", Direction: types.Long, Volume: 0.1},
	}

	assert.Equal(t, 1, f.exec.CloseAll(context.Background(), "EURUSD"))
	assert.Len(t, f.gw.Open, 1)
}

func TestCloseAllListingFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.PosErr = brokertest.ErrUnavailable

	assert.Equal(t, 0, f.exec.CloseAll(context.Background(), ""))
}
