// Package paper is a simulated venue. Quotes follow a seeded random walk,
// positions are marked to market on every read and protective levels are
// enforced as prices move.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"atr-trading-bot/internal/broker/session"
	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/store"
	"atr-trading-bot/internal/types"
)

const (
	historyBars    = 1000
	stepsPerCandle = 4

	retcodeInvalid       = 10013
	retcodeInvalidVolume = 10014
)

var ErrNotConnected = errors.New("paper venue not connected")

type Config struct {
	Balance   float64
	Leverage  float64
	Seed      int64
	Timeframe time.Duration
	Symbols   map[string]store.SymbolSpec
}

type instrument struct {
	meta    types.SymbolMetadata
	spread  float64
	vol     float64
	mid     float64
	candles []types.Candle
}

type Venue struct {
	mu sync.Mutex

	tf       time.Duration
	leverage float64
	now      func() time.Time
	rng      *rand.Rand

	balance   decimal.Decimal
	symbols   map[string]*instrument
	positions []types.Position
	nextID    uint64
	connected bool
}

var (
	_ interfaces.Gateway      = (*Venue)(nil)
	_ interfaces.CandleSource = (*Venue)(nil)
	_ session.Connector       = (*Venue)(nil)
)

type Option func(*Venue)

func WithClock(now func() time.Time) Option {
	return func(v *Venue) { v.now = now }
}

func New(cfg Config, opts ...Option) (*Venue, error) {
	if cfg.Balance <= 0 {
		return nil, fmt.Errorf("paper balance must be positive, got %.2f", cfg.Balance)
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = time.Hour
	}
	v := &Venue{
		tf:       cfg.Timeframe,
		leverage: cfg.Leverage,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		balance:  decimal.NewFromFloat(cfg.Balance),
		symbols:  make(map[string]*instrument, len(cfg.Symbols)),
	}
	for _, o := range opts {
		o(v)
	}

	names := make([]string, 0, len(cfg.Symbols))
	for name := range cfg.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		inst, err := v.newInstrument(name, cfg.Symbols[name])
		if err != nil {
			return nil, err
		}
		v.symbols[name] = inst
	}
	return v, nil
}

func (v *Venue) newInstrument(name string, spec store.SymbolSpec) (*instrument, error) {
	if spec.Point <= 0 || spec.StartPrice <= 0 {
		return nil, fmt.Errorf("paper symbol %s: point and start_price must be positive", name)
	}
	if spec.VolumeMin <= 0 || spec.VolumeStep <= 0 || spec.VolumeMax < spec.VolumeMin {
		return nil, fmt.Errorf("paper symbol %s: invalid volume limits", name)
	}
	if spec.Volatility < 0 || spec.SpreadPoints < 0 {
		return nil, fmt.Errorf("paper symbol %s: volatility and spread must not be negative", name)
	}
	inst := &instrument{
		meta: types.SymbolMetadata{
			Symbol:      name,
			Point:       spec.Point,
			Digits:      spec.Digits,
			VolumeMin:   spec.VolumeMin,
			VolumeMax:   spec.VolumeMax,
			VolumeStep:  spec.VolumeStep,
			TickValue:   spec.TickValue,
			FillingMode: spec.FillingMode,
			Visible:     !spec.Hidden,
		},
		spread: spec.SpreadPoints,
		vol:    spec.Volatility,
		mid:    spec.StartPrice,
	}

	secs := int64(v.tf / time.Second)
	current := v.now().Unix() / secs * secs
	for ts := current - historyBars*secs; ts <= current; ts += secs {
		v.appendCandle(inst, ts)
	}
	return inst, nil
}

func (v *Venue) appendCandle(inst *instrument, ts int64) {
	open := inst.meta.RoundPrice(inst.mid)
	inst.candles = append(inst.candles, types.Candle{Ts: ts, Open: open, High: open, Low: open, Close: open})
	for i := 0; i < stepsPerCandle; i++ {
		v.stepLocked(inst)
	}
	inst.candles[len(inst.candles)-1].Vol = float64(100 + v.rng.Intn(900))
	if len(inst.candles) > 2*historyBars {
		inst.candles = append([]types.Candle(nil), inst.candles[len(inst.candles)-historyBars:]...)
	}
}

// stepLocked moves the mid one random step and folds it into the open candle.
func (v *Venue) stepLocked(inst *instrument) {
	if inst.vol > 0 {
		next := inst.mid * (1 + inst.vol*v.rng.NormFloat64())
		inst.mid = math.Max(next, inst.meta.Point)
	}
	last := &inst.candles[len(inst.candles)-1]
	last.Close = inst.meta.RoundPrice(inst.mid)
	last.High = math.Max(last.High, last.Close)
	last.Low = math.Min(last.Low, last.Close)
}

// rollLocked synthesizes every candle whose period started before now.
func (v *Venue) rollLocked(inst *instrument) {
	secs := int64(v.tf / time.Second)
	now := v.now().Unix()
	for {
		next := inst.candles[len(inst.candles)-1].Ts + secs
		if next > now {
			return
		}
		v.appendCandle(inst, next)
	}
}

func (v *Venue) quote(inst *instrument) (bid, ask float64) {
	half := inst.spread * inst.meta.Point / 2
	bid = inst.meta.RoundPrice(inst.mid - half)
	ask = inst.meta.RoundPrice(bid + inst.spread*inst.meta.Point)
	return bid, ask
}

func (v *Venue) Dial(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = true
	return nil
}

func (v *Venue) Ping(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return ErrNotConnected
	}
	return nil
}

func (v *Venue) Close(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
}

func (v *Venue) instrumentLocked(symbol string) (*instrument, error) {
	if !v.connected {
		return nil, ErrNotConnected
	}
	inst, ok := v.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown paper symbol %q", symbol)
	}
	return inst, nil
}

func (v *Venue) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return types.AccountSnapshot{}, ErrNotConnected
	}

	equity := v.balance
	margin := decimal.Zero
	for _, p := range v.positions {
		inst := v.symbols[p.Symbol]
		equity = equity.Add(v.profit(inst, p))
		margin = margin.Add(v.margin(inst, p.Volume, p.OpenPrice))
	}
	acct := types.AccountSnapshot{
		Balance:    v.balance.InexactFloat64(),
		Equity:     equity.InexactFloat64(),
		Margin:     margin.InexactFloat64(),
		FreeMargin: equity.Sub(margin).InexactFloat64(),
	}
	if margin.IsPositive() {
		acct.MarginLevel = equity.Div(margin).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return acct, nil
}

func (v *Venue) SymbolInfo(ctx context.Context, symbol string) (types.SymbolMetadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	inst, err := v.instrumentLocked(symbol)
	if err != nil {
		return types.SymbolMetadata{}, err
	}
	return inst.meta, nil
}

// Tick advances the symbol by one step, enforces protective levels at the
// new price and returns the quote.
func (v *Venue) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	inst, err := v.instrumentLocked(symbol)
	if err != nil {
		return types.Tick{}, err
	}
	v.rollLocked(inst)
	v.stepLocked(inst)
	v.enforceStopsLocked(inst)

	bid, ask := v.quote(inst)
	return types.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: v.now()}, nil
}

func (v *Venue) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return nil, ErrNotConnected
	}
	out := []types.Position{}
	for _, p := range v.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		p.Profit = v.profit(v.symbols[p.Symbol], p).InexactFloat64()
		out = append(out, p)
	}
	return out, nil
}

func (v *Venue) PositionsTotal(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return 0, ErrNotConnected
	}
	return len(v.positions), nil
}

func (v *Venue) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return false, ErrNotConnected
	}
	inst, ok := v.symbols[symbol]
	if !ok {
		return false, nil
	}
	inst.meta.Visible = enable
	return true, nil
}

func (v *Venue) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return nil, ErrNotConnected
	}
	inst, ok := v.symbols[req.Symbol]
	if !ok {
		return types.ClassifyRetcode(retcodeInvalid, "Unknown symbol"), nil
	}
	if req.Action == types.ActionSLTP {
		return v.modifyLocked(req), nil
	}
	if !inst.meta.Visible {
		return types.ClassifyRetcode(retcodeInvalid, "Symbol not selected"), nil
	}
	if !validVolume(inst.meta, req.Volume) {
		return types.ClassifyRetcode(retcodeInvalidVolume, "Invalid volume"), nil
	}
	if !fillSupported(inst.meta.FillingMode, req.Fill) {
		return types.ClassifyRetcode(types.RetcodeInvalidFill, "Unsupported filling mode"), nil
	}

	bid, ask := v.quote(inst)
	price := ask
	if req.Side == types.SideSell {
		price = bid
	}
	if req.Price > 0 {
		diff := decimal.NewFromFloat(req.Price).Sub(decimal.NewFromFloat(price)).Abs()
		limit := decimal.NewFromInt(int64(req.Deviation)).Mul(decimal.NewFromFloat(inst.meta.Point))
		if diff.GreaterThan(limit) {
			return types.ClassifyRetcode(types.RetcodeRequote, "Requote"), nil
		}
	}

	if req.PositionTicket != 0 {
		return v.closeLocked(inst, req, price), nil
	}
	return v.openLocked(inst, req, price), nil
}

func (v *Venue) openLocked(inst *instrument, req types.OrderRequest, price float64) types.OrderOutcome {
	equity := v.balance
	used := decimal.Zero
	for _, p := range v.positions {
		equity = equity.Add(v.profit(v.symbols[p.Symbol], p))
		used = used.Add(v.margin(v.symbols[p.Symbol], p.Volume, p.OpenPrice))
	}
	if v.margin(inst, req.Volume, price).GreaterThan(equity.Sub(used)) {
		return types.ClassifyRetcode(types.RetcodeNoMoney, "No money")
	}

	v.nextID++
	dir := types.Long
	if req.Side == types.SideSell {
		dir = types.Short
	}
	v.positions = append(v.positions, types.Position{
		Ticket:     v.nextID,
		Symbol:     req.Symbol,
		Direction:  dir,
		Volume:     req.Volume,
		OpenPrice:  price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	return types.Filled{OrderID: strconv.FormatUint(v.nextID, 10), Price: price, Volume: req.Volume}
}

func (v *Venue) closeLocked(inst *instrument, req types.OrderRequest, price float64) types.OrderOutcome {
	idx := v.indexLocked(req.PositionTicket)
	if idx < 0 {
		return types.ClassifyRetcode(retcodeInvalid, "Position not found")
	}
	p := v.positions[idx]
	if p.Direction.Side() == req.Side {
		return types.ClassifyRetcode(retcodeInvalid, "Close must oppose the position")
	}
	if !decimal.NewFromFloat(req.Volume).Equal(decimal.NewFromFloat(p.Volume)) {
		return types.ClassifyRetcode(retcodeInvalidVolume, "Partial close not supported")
	}
	v.settleLocked(idx, price)
	v.nextID++
	return types.Filled{OrderID: strconv.FormatUint(v.nextID, 10), Price: price, Volume: p.Volume}
}

func (v *Venue) modifyLocked(req types.OrderRequest) types.OrderOutcome {
	idx := v.indexLocked(req.PositionTicket)
	if idx < 0 || v.positions[idx].Symbol != req.Symbol {
		return types.ClassifyRetcode(retcodeInvalid, "Position not found")
	}
	v.positions[idx].StopLoss = req.StopLoss
	v.positions[idx].TakeProfit = req.TakeProfit
	v.nextID++
	return types.Filled{OrderID: strconv.FormatUint(v.nextID, 10)}
}

func (v *Venue) enforceStopsLocked(inst *instrument) {
	bid, ask := v.quote(inst)
	for i := len(v.positions) - 1; i >= 0; i-- {
		p := v.positions[i]
		if p.Symbol != inst.meta.Symbol {
			continue
		}
		switch {
		case p.Direction == types.Long && p.StopLoss > 0 && bid <= p.StopLoss:
			v.settleLocked(i, p.StopLoss)
		case p.Direction == types.Long && p.TakeProfit > 0 && bid >= p.TakeProfit:
			v.settleLocked(i, p.TakeProfit)
		case p.Direction == types.Short && p.StopLoss > 0 && ask >= p.StopLoss:
			v.settleLocked(i, p.StopLoss)
		case p.Direction == types.Short && p.TakeProfit > 0 && ask <= p.TakeProfit:
			v.settleLocked(i, p.TakeProfit)
		}
	}
}

// settleLocked realizes the position at price and removes it.
func (v *Venue) settleLocked(idx int, price float64) {
	p := v.positions[idx]
	v.balance = v.balance.Add(pnl(v.symbols[p.Symbol].meta, p, price))
	v.positions = append(v.positions[:idx], v.positions[idx+1:]...)
}

func (v *Venue) indexLocked(ticket uint64) int {
	for i, p := range v.positions {
		if p.Ticket == ticket {
			return i
		}
	}
	return -1
}

// profit marks p at the price it would close at now.
func (v *Venue) profit(inst *instrument, p types.Position) decimal.Decimal {
	bid, ask := v.quote(inst)
	if p.Direction == types.Short {
		return pnl(inst.meta, p, ask)
	}
	return pnl(inst.meta, p, bid)
}

func (v *Venue) margin(inst *instrument, volume, price float64) decimal.Decimal {
	perUnit := decimal.NewFromFloat(inst.meta.TickValue).Div(decimal.NewFromFloat(inst.meta.Point))
	return decimal.NewFromFloat(volume).
		Mul(decimal.NewFromFloat(price)).
		Mul(perUnit).
		Div(decimal.NewFromFloat(v.leverage)).
		Round(2)
}

func pnl(meta types.SymbolMetadata, p types.Position, price float64) decimal.Decimal {
	move := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.OpenPrice))
	if p.Direction == types.Short {
		move = move.Neg()
	}
	return move.
		Div(decimal.NewFromFloat(meta.Point)).
		Mul(decimal.NewFromFloat(meta.TickValue)).
		Mul(decimal.NewFromFloat(p.Volume)).
		Round(2)
}

func validVolume(meta types.SymbolMetadata, volume float64) bool {
	v := decimal.NewFromFloat(volume)
	if v.LessThan(decimal.NewFromFloat(meta.VolumeMin)) || v.GreaterThan(decimal.NewFromFloat(meta.VolumeMax)) {
		return false
	}
	return v.Mod(decimal.NewFromFloat(meta.VolumeStep)).IsZero()
}

func fillSupported(mask int, f types.FillType) bool {
	switch f {
	case types.FillFOK:
		return mask&types.FillingModeFOK != 0
	case types.FillIOC:
		return mask&types.FillingModeIOC != 0
	default:
		return true
	}
}

// RecentCandles returns the last n candles including the one in progress.
func (v *Venue) RecentCandles(ctx context.Context, symbol string, n int) ([]types.Candle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	inst, err := v.instrumentLocked(symbol)
	if err != nil {
		return nil, err
	}
	v.rollLocked(inst)
	if n <= 0 || n > len(inst.candles) {
		n = len(inst.candles)
	}
	return append([]types.Candle(nil), inst.candles[len(inst.candles)-n:]...), nil
}
