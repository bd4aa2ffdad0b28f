package zerodha

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"

	"atr-trading-bot/internal/broker/session"
	"atr-trading-bot/internal/types"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeKite struct {
	profileErr error
	margins    kiteconnect.AllMargins
	positions  kiteconnect.Positions
	quote      kiteconnect.Quote
	orderErr   error
	orders     []kiteconnect.OrderParams
	history    []kiteconnect.HistoricalData
	historyErr error
	histCalls  int
}

func (f *fakeKite) GetUserProfile() (kiteconnect.UserProfile, error) {
	return kiteconnect.UserProfile{}, f.profileErr
}

func (f *fakeKite) GetUserMargins() (kiteconnect.AllMargins, error) { return f.margins, nil }

func (f *fakeKite) GetPositions() (kiteconnect.Positions, error) { return f.positions, nil }

func (f *fakeKite) GetQuote(instruments ...string) (kiteconnect.Quote, error) { return f.quote, nil }

func (f *fakeKite) PlaceOrder(variety string, p kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
	f.orders = append(f.orders, p)
	if f.orderErr != nil {
		return kiteconnect.OrderResponse{}, f.orderErr
	}
	return kiteconnect.OrderResponse{OrderID: "240304000001"}, nil
}

func (f *fakeKite) GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error) {
	return kiteconnect.Instruments{
		{InstrumentToken: 408065, Tradingsymbol: "INFY", TickSize: 0.05, LotSize: 1, Exchange: "NSE"},
		{InstrumentToken: 2953217, Tradingsymbol: "TCS", TickSize: 0.05, LotSize: 1, Exchange: "NSE"},
		{InstrumentToken: 1, Tradingsymbol: "OTHER", TickSize: 0.01, LotSize: 1, Exchange: "NSE"},
	}, nil
}

func (f *fakeKite) GetHistoricalData(token int, interval string, from, to time.Time, continuous, oi bool) ([]kiteconnect.HistoricalData, error) {
	f.histCalls++
	return f.history, f.historyErr
}

func dialed(t *testing.T, kc *fakeKite) *Client {
	t.Helper()
	c := newClient(Config{
		Exchange:  "NSE",
		Product:   "MIS",
		VolumeMax: 500,
		Symbols:   []string{"INFY", "TCS"},
		Timeframe: time.Hour,
	}, kc)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Dial(context.Background()))
	return c
}

func TestNewNeedsCredentials(t *testing.T) {
	_, err := New(Config{APIKey: "key"})
	assert.ErrorIs(t, err, session.ErrAuthentication)
}

func TestDialRejectsExpiredToken(t *testing.T) {
	kc := &fakeKite{profileErr: kiteconnect.NewError(kiteconnect.TokenError, "Incorrect `api_key` or `access_token`.", nil)}
	c := newClient(Config{Symbols: []string{"INFY"}}, kc)

	err := c.Dial(context.Background())
	assert.ErrorIs(t, err, session.ErrAuthentication)
	assert.False(t, session.Retryable(err))
}

func TestSymbolInfoFromInstruments(t *testing.T) {
	c := dialed(t, &fakeKite{})

	meta, err := c.SymbolInfo(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, 0.05, meta.Point)
	assert.Equal(t, 2, meta.Digits)
	assert.Equal(t, 1.0, meta.VolumeMin)
	assert.Equal(t, 500.0, meta.VolumeMax)
	assert.Equal(t, types.FillIOC, types.SelectFillType(meta.FillingMode))

	_, err = c.SymbolInfo(context.Background(), "OTHER")
	assert.Error(t, err, "instruments outside the configured symbols are not mapped")

	ok, _ := c.SymbolSelect(context.Background(), "TCS", true)
	assert.True(t, ok)
}

func TestAccountInfoFromMargins(t *testing.T) {
	kc := &fakeKite{}
	kc.margins.Equity.Net = 80000
	kc.margins.Equity.Used.Debits = 20000
	c := dialed(t, kc)

	acct, err := c.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100000.0, acct.Balance)
	assert.Equal(t, 80000.0, acct.FreeMargin)
	assert.Equal(t, 20000.0, acct.Margin)
	assert.InDelta(t, 500, acct.MarginLevel, 1e-9)
}

func TestTickFallsBackToLastPrice(t *testing.T) {
	kc := &fakeKite{quote: kiteconnect.Quote{}}
	q := kc.quote["NSE:INFY"]
	q.LastPrice = 1500.5
	kc.quote["NSE:INFY"] = q
	c := dialed(t, kc)

	tick, err := c.Tick(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, 1500.5, tick.Bid)
	assert.Equal(t, 1500.5, tick.Ask)
	assert.Equal(t, base, tick.Time)

	_, err = c.Tick(context.Background(), "TCS")
	assert.Error(t, err)
}

func TestPositionsFilterProductAndFlat(t *testing.T) {
	kc := &fakeKite{positions: kiteconnect.Positions{Net: []kiteconnect.Position{
		{Tradingsymbol: "INFY", Exchange: "NSE", Product: "MIS", InstrumentToken: 408065, Quantity: -10, AveragePrice: 1500, PnL: 25},
		{Tradingsymbol: "TCS", Exchange: "NSE", Product: "MIS", InstrumentToken: 2953217, Quantity: 0},
		{Tradingsymbol: "TCS", Exchange: "NSE", Product: "CNC", InstrumentToken: 2953217, Quantity: 5},
	}}}
	c := dialed(t, kc)

	ps, err := c.Positions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, types.Position{
		Ticket:    408065,
		Symbol:    "INFY",
		Direction: types.Short,
		Volume:    10,
		OpenPrice: 1500,
		Profit:    25,
	}, ps[0])

	n, err := c.PositionsTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOrderSendPlacesMarketOrder(t *testing.T) {
	kc := &fakeKite{}
	c := dialed(t, kc)

	out, err := c.OrderSend(context.Background(), types.OrderRequest{
		Action:   types.ActionDeal,
		Symbol:   "INFY",
		Side:     types.SideSell,
		Volume:   12,
		Price:    1500,
		Fill:     types.FillIOC,
		ClientID: "0b3f7a52-1c0e-4d59-9a55-4f1e0d2c9b11",
	})
	require.NoError(t, err)
	assert.Equal(t, types.Filled{OrderID: "240304000001", Price: 1500, Volume: 12}, out)

	require.Len(t, kc.orders, 1)
	p := kc.orders[0]
	assert.Equal(t, kiteconnect.TransactionTypeSell, p.TransactionType)
	assert.Equal(t, kiteconnect.OrderTypeMarket, p.OrderType)
	assert.Equal(t, kiteconnect.ValidityIOC, p.Validity)
	assert.Equal(t, "MIS", p.Product)
	assert.Equal(t, 12, p.Quantity)
	assert.Len(t, p.Tag, maxTagLen)
	assert.False(t, strings.Contains(p.Tag, "-"))
}

func TestOrderSendRefusals(t *testing.T) {
	tests := []struct {
		name    string
		req     types.OrderRequest
		err     error
		want    types.OrderOutcome
		wantErr bool
	}{
		{
			name: "fill or kill",
			req:  types.OrderRequest{Action: types.ActionDeal, Symbol: "INFY", Volume: 1, Fill: types.FillFOK},
			want: types.InvalidFill{Reply: types.Reply{Code: types.RetcodeInvalidFill, Comment: "Fill or kill is not supported"}},
		},
		{
			name: "stop modification",
			req:  types.OrderRequest{Action: types.ActionSLTP, Symbol: "INFY", PositionTicket: 408065},
			want: types.Rejected{Code: retcodeUnsupported, Text: "Protective levels are not supported"},
		},
		{
			name: "unknown symbol",
			req:  types.OrderRequest{Action: types.ActionDeal, Symbol: "ACME", Volume: 1, Fill: types.FillIOC},
			want: types.Rejected{Code: retcodeInvalid, Text: "Unknown instrument"},
		},
		{
			name: "zero quantity",
			req:  types.OrderRequest{Action: types.ActionDeal, Symbol: "INFY", Volume: 0.2, Fill: types.FillIOC},
			want: types.Rejected{Code: retcodeInvalidVolume, Text: "Invalid quantity"},
		},
		{
			name: "margin shortfall",
			req:  types.OrderRequest{Action: types.ActionDeal, Symbol: "INFY", Volume: 1, Fill: types.FillIOC},
			err:  kiteconnect.NewError("MarginException", "Insufficient funds", nil),
			want: types.InsufficientFunds{Reply: types.Reply{Code: types.RetcodeNoMoney, Comment: "Insufficient funds"}},
		},
		{
			name: "market closed",
			req:  types.OrderRequest{Action: types.ActionDeal, Symbol: "INFY", Volume: 1, Fill: types.FillIOC},
			err:  kiteconnect.NewError(kiteconnect.InputError, "Markets are closed right now.", nil),
			want: types.MarketClosed{Reply: types.Reply{Code: types.RetcodeMarketClosed, Comment: "Markets are closed right now."}},
		},
		{
			name:    "network",
			req:     types.OrderRequest{Action: types.ActionDeal, Symbol: "INFY", Volume: 1, Fill: types.FillIOC},
			err:     kiteconnect.NewError(kiteconnect.NetworkError, "gateway timeout", nil),
			wantErr: true,
		},
		{
			name:    "plain transport",
			req:     types.OrderRequest{Action: types.ActionDeal, Symbol: "INFY", Volume: 1, Fill: types.FillIOC},
			err:     errors.New("connection reset"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dialed(t, &fakeKite{orderErr: tt.err})
			out, err := c.OrderSend(context.Background(), tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, out)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRecentCandlesBackfillsThenStreams(t *testing.T) {
	kc := &fakeKite{}
	for i := 0; i < 5; i++ {
		kc.history = append(kc.history, kiteconnect.HistoricalData{
			Date:   models.Time{Time: base.Add(time.Duration(i-5) * time.Hour)},
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100 + float64(i),
			Volume: 1000,
		})
	}
	c := dialed(t, kc)

	candles, err := c.RecentCandles(context.Background(), "INFY", 5)
	require.NoError(t, err)
	require.Len(t, candles, 5)
	assert.Equal(t, 1, kc.histCalls)
	assert.Equal(t, 104.0, candles[4].Close)

	ts := &tickerStream{mapper: c.mapper, cache: c.cache}
	ts.onTick(models.Tick{InstrumentToken: 408065, LastPrice: 105, VolumeTraded: 5000, Timestamp: models.Time{Time: base.Add(time.Minute)}})
	ts.onTick(models.Tick{InstrumentToken: 408065, LastPrice: 107, VolumeTraded: 5300, Timestamp: models.Time{Time: base.Add(2 * time.Minute)}})
	ts.onTick(models.Tick{InstrumentToken: 999, LastPrice: 1})

	candles, err = c.RecentCandles(context.Background(), "INFY", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, kc.histCalls)
	last := candles[1]
	assert.Equal(t, base.Unix(), last.Ts)
	assert.Equal(t, 105.0, last.Open)
	assert.Equal(t, 107.0, last.High)
	assert.Equal(t, 107.0, last.Close)
	assert.Equal(t, 300.0, last.Vol)
}

func TestRecentCandlesBackfillFailure(t *testing.T) {
	c := dialed(t, &fakeKite{historyErr: errors.New("too many requests")})
	_, err := c.RecentCandles(context.Background(), "INFY", 10)
	assert.Error(t, err)
}

func TestCandleCacheSeedKeepsStreamedPeriods(t *testing.T) {
	cc := newCandleCache(time.Hour, 3)
	cc.addTick("INFY", base.Add(30*time.Minute), 110, 0)
	cc.seed("INFY", []types.Candle{
		{Ts: base.Add(-2 * time.Hour).Unix(), Close: 98},
		{Ts: base.Add(-time.Hour).Unix(), Close: 99},
		{Ts: base.Unix(), Close: 100},
	})

	got, err := cc.getRecent("INFY", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 98.0, got[0].Close)
	assert.Equal(t, 110.0, got[2].Close)

	cc.addTick("INFY", base.Add(-time.Hour), 50, 0)
	got, _ = cc.getRecent("INFY", 1)
	assert.Equal(t, 110.0, got[0].Close, "late ticks are dropped")
}

func TestKiteInterval(t *testing.T) {
	iv, span, err := kiteInterval(15 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "15minute", iv)
	assert.Equal(t, 200*24*time.Hour, span)

	_, _, err = kiteInterval(2 * time.Hour)
	assert.Error(t, err)
}
