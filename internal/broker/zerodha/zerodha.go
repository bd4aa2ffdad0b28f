// Package zerodha trades cash equities through Kite Connect. Orders and
// account state use the REST client; candles come from historical data
// topped up by the websocket ticker.
package zerodha

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"atr-trading-bot/internal/broker/session"
	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/types"
)

const (
	maxCandlesPerSymbol = 1000

	retcodeInvalid       = 10013
	retcodeInvalidVolume = 10014
	retcodeUnsupported   = 10035

	marginException = "MarginException"
	maxTagLen       = 20
)

type Config struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Product     string
	VolumeMax   float64
	Symbols     []string
	Timeframe   time.Duration
	// Stream enables the websocket ticker for live candles.
	Stream bool
}

// kiteAPI is the subset of *kiteconnect.Client the gateway calls.
type kiteAPI interface {
	GetUserProfile() (kiteconnect.UserProfile, error)
	GetUserMargins() (kiteconnect.AllMargins, error)
	GetPositions() (kiteconnect.Positions, error)
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

type Client struct {
	cfg    Config
	kc     kiteAPI
	mapper *instrumentMapper
	cache  *candleCache
	now    func() time.Time

	mu     sync.Mutex
	stream *tickerStream
}

var (
	_ interfaces.Gateway      = (*Client)(nil)
	_ interfaces.CandleSource = (*Client)(nil)
	_ session.Connector       = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing Kite API key or access token", session.ErrAuthentication)
	}
	kc := kiteconnect.New(cfg.APIKey)
	kc.SetAccessToken(cfg.AccessToken)
	return newClient(cfg, kc), nil
}

func newClient(cfg Config, kc kiteAPI) *Client {
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	if cfg.Product == "" {
		cfg.Product = kiteconnect.ProductMIS
	}
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = time.Hour
	}
	return &Client{
		cfg:    cfg,
		kc:     kc,
		mapper: newInstrumentMapper(),
		cache:  newCandleCache(cfg.Timeframe, maxCandlesPerSymbol),
		now:    time.Now,
	}
}

// Dial validates the access token, loads the instrument map once and
// starts the ticker when streaming is enabled.
func (c *Client) Dial(ctx context.Context) error {
	if _, err := c.kc.GetUserProfile(); err != nil {
		return transportErr(err)
	}

	if c.mapper.size() == 0 {
		all, err := c.kc.GetInstrumentsByExchange(c.cfg.Exchange)
		if err != nil {
			return fmt.Errorf("failed to load %s instruments: %w", c.cfg.Exchange, transportErr(err))
		}
		if n := c.mapper.load(all, c.cfg.Symbols); n < len(c.cfg.Symbols) {
			logger.Warn(ctx, "Some symbols are not listed on the exchange",
				"exchange", c.cfg.Exchange,
				"found", n,
				"configured", len(c.cfg.Symbols),
			)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Stream && c.stream == nil {
		c.stream = newTickerStream(c.cfg.APIKey, c.cfg.AccessToken, c.mapper, c.cache)
		c.stream.start(ctx)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.kc.GetUserProfile()
	return transportErr(err)
}

func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		c.stream.stop(ctx)
		c.stream = nil
	}
}

// AccountInfo reports equity segment funds. Kite's net figure is what is
// left to trade with, so it becomes free margin; debits are the margin in use.
func (c *Client) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) {
	m, err := c.kc.GetUserMargins()
	if err != nil {
		return types.AccountSnapshot{}, transportErr(err)
	}
	eq := m.Equity
	total := eq.Net + eq.Used.Debits
	acct := types.AccountSnapshot{
		Balance:    total,
		Equity:     total,
		Margin:     eq.Used.Debits,
		FreeMargin: eq.Net,
	}
	if eq.Used.Debits > 0 {
		acct.MarginLevel = total / eq.Used.Debits * 100
	}
	return acct, nil
}

func (c *Client) SymbolInfo(ctx context.Context, symbol string) (types.SymbolMetadata, error) {
	in, ok := c.mapper.lookup(symbol)
	if !ok {
		return types.SymbolMetadata{}, fmt.Errorf("unknown instrument %s:%s", c.cfg.Exchange, symbol)
	}
	return in.metadata(symbol, c.cfg.VolumeMax), nil
}

// Tick quotes the top of the order book, falling back to the last traded
// price when a side is empty.
func (c *Client) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	key := c.cfg.Exchange + ":" + symbol
	q, err := c.kc.GetQuote(key)
	if err != nil {
		return types.Tick{}, transportErr(err)
	}
	data, ok := q[key]
	if !ok {
		return types.Tick{}, fmt.Errorf("no quote for %s", key)
	}

	bid, ask := data.LastPrice, data.LastPrice
	if len(data.Depth.Buy) > 0 && data.Depth.Buy[0].Price > 0 {
		bid = data.Depth.Buy[0].Price
	}
	if len(data.Depth.Sell) > 0 && data.Depth.Sell[0].Price > 0 {
		ask = data.Depth.Sell[0].Price
	}
	at := data.Timestamp.Time
	if at.IsZero() {
		at = c.now()
	}
	return types.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: at}, nil
}

// Positions lists the non-flat net positions of the configured product.
// Kite nets per instrument, so the instrument token doubles as the ticket.
func (c *Client) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	all, err := c.kc.GetPositions()
	if err != nil {
		return nil, transportErr(err)
	}
	out := []types.Position{}
	for _, p := range all.Net {
		if p.Quantity == 0 || p.Product != c.cfg.Product || p.Exchange != c.cfg.Exchange {
			continue
		}
		if symbol != "" && p.Tradingsymbol != symbol {
			continue
		}
		dir := types.Long
		if p.Quantity < 0 {
			dir = types.Short
		}
		out = append(out, types.Position{
			Ticket:    uint64(p.InstrumentToken),
			Symbol:    p.Tradingsymbol,
			Direction: dir,
			Volume:    math.Abs(float64(p.Quantity)),
			OpenPrice: p.AveragePrice,
			Profit:    p.PnL,
		})
	}
	return out, nil
}

func (c *Client) PositionsTotal(ctx context.Context) (int, error) {
	ps, err := c.Positions(ctx, "")
	if err != nil {
		return 0, err
	}
	return len(ps), nil
}

// OrderSend places a market order. Kite has no fill-or-kill validity and no
// position-level stops; both come back as venue refusals.
func (c *Client) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	if req.Action == types.ActionSLTP {
		return types.ClassifyRetcode(retcodeUnsupported, "Protective levels are not supported"), nil
	}
	if _, ok := c.mapper.lookup(req.Symbol); !ok {
		return types.ClassifyRetcode(retcodeInvalid, "Unknown instrument"), nil
	}

	var validity string
	switch req.Fill {
	case types.FillFOK:
		return types.ClassifyRetcode(types.RetcodeInvalidFill, "Fill or kill is not supported"), nil
	case types.FillIOC:
		validity = kiteconnect.ValidityIOC
	default:
		validity = kiteconnect.ValidityDay
	}

	qty := int(math.Round(req.Volume))
	if qty <= 0 {
		return types.ClassifyRetcode(retcodeInvalidVolume, "Invalid quantity"), nil
	}
	txn := kiteconnect.TransactionTypeBuy
	if req.Side == types.SideSell {
		txn = kiteconnect.TransactionTypeSell
	}

	resp, err := c.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        c.cfg.Exchange,
		Tradingsymbol:   req.Symbol,
		Validity:        validity,
		Product:         c.cfg.Product,
		OrderType:       kiteconnect.OrderTypeMarket,
		TransactionType: txn,
		Quantity:        qty,
		Tag:             orderTag(req.ClientID),
	})
	if err != nil {
		return refusal(err)
	}
	return types.Filled{OrderID: resp.OrderID, Price: req.Price, Volume: float64(qty)}, nil
}

func (c *Client) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	_, ok := c.mapper.lookup(symbol)
	return ok, nil
}

// RecentCandles serves the cache, backfilling from historical data when it
// holds fewer than n candles.
func (c *Client) RecentCandles(ctx context.Context, symbol string, n int) ([]types.Candle, error) {
	if c.cache.count(symbol) < n {
		if err := c.backfill(symbol, n); err != nil {
			if c.cache.count(symbol) == 0 {
				return nil, err
			}
			logger.Warn(ctx, "Historical backfill failed, serving cached candles", "symbol", symbol, "error", err)
		}
	}
	return c.cache.getRecent(symbol, n)
}

func (c *Client) backfill(symbol string, n int) error {
	in, ok := c.mapper.lookup(symbol)
	if !ok {
		return fmt.Errorf("unknown instrument %s:%s", c.cfg.Exchange, symbol)
	}
	interval, span, err := kiteInterval(c.cfg.Timeframe)
	if err != nil {
		return err
	}
	// Sessions cover roughly a quarter of the calendar, so ask for more.
	lookback := time.Duration(n) * c.cfg.Timeframe * 5
	if lookback > span {
		lookback = span
	}
	to := c.now()
	data, err := c.kc.GetHistoricalData(int(in.token), interval, to.Add(-lookback), to, false, false)
	if err != nil {
		return fmt.Errorf("failed to fetch %s history: %w", symbol, transportErr(err))
	}
	history := make([]types.Candle, 0, len(data))
	for _, d := range data {
		history = append(history, types.Candle{
			Ts:    d.Date.Time.Unix(),
			Open:  d.Open,
			High:  d.High,
			Low:   d.Low,
			Close: d.Close,
			Vol:   float64(d.Volume),
		})
	}
	c.cache.seed(symbol, history)
	return nil
}

// kiteInterval maps a timeframe to a Kite interval and the longest range
// one historical request may span.
func kiteInterval(tf time.Duration) (string, time.Duration, error) {
	const day = 24 * time.Hour
	switch tf {
	case time.Minute:
		return "minute", 60 * day, nil
	case 3 * time.Minute:
		return "3minute", 100 * day, nil
	case 5 * time.Minute:
		return "5minute", 100 * day, nil
	case 10 * time.Minute:
		return "10minute", 100 * day, nil
	case 15 * time.Minute:
		return "15minute", 200 * day, nil
	case 30 * time.Minute:
		return "30minute", 200 * day, nil
	case time.Hour:
		return "60minute", 400 * day, nil
	case day:
		return "day", 2000 * day, nil
	default:
		return "", 0, fmt.Errorf("timeframe %s has no Kite interval", tf)
	}
}

// transportErr marks token failures as authentication errors so the
// session does not retry them.
func transportErr(err error) error {
	if err == nil {
		return nil
	}
	var ke kiteconnect.Error
	if errors.As(err, &ke) && ke.ErrorType == kiteconnect.TokenError {
		return fmt.Errorf("%w: %v", session.ErrAuthentication, err)
	}
	return err
}

// refusal turns an order error into an outcome. Errors that never reached
// the exchange stay errors.
func refusal(err error) (types.OrderOutcome, error) {
	var ke kiteconnect.Error
	if !errors.As(err, &ke) {
		return nil, err
	}
	switch ke.ErrorType {
	case kiteconnect.TokenError, kiteconnect.NetworkError:
		return nil, transportErr(err)
	case marginException:
		return types.ClassifyRetcode(types.RetcodeNoMoney, ke.Message), nil
	}
	msg := strings.ToLower(ke.Message)
	if strings.Contains(msg, "market") && strings.Contains(msg, "closed") {
		return types.ClassifyRetcode(types.RetcodeMarketClosed, ke.Message), nil
	}
	return types.Rejected{Code: ke.Code, Text: ke.Message}, nil
}

// orderTag fits a client id into Kite's alphanumeric tag.
func orderTag(clientID string) string {
	tag := strings.ReplaceAll(clientID, "-", "")
	if len(tag) > maxTagLen {
		tag = tag[:maxTagLen]
	}
	return tag
}
