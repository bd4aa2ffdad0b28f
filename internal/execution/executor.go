package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/metrics"
	"atr-trading-bot/internal/retry"
	"atr-trading-bot/internal/tradelog"
	"atr-trading-bot/internal/types"
)

// Journal records executed trades.
type Journal interface {
	Append(e tradelog.Entry) error
}

type Config struct {
	MaxAttempts  int
	RequoteDelay time.Duration
	Deviation    int
	Magic        int
	ClosePacing  time.Duration
	Comment      string
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RequoteDelay: 500 * time.Millisecond,
		Deviation:    10,
		Magic:        234000,
		ClosePacing:  500 * time.Millisecond,
		Comment:      "atr-bot",
	}
}

// Executor submits orders and negotiates requotes and fill policies with
// the venue. It keeps no state between calls.
type Executor struct {
	gw       interfaces.Gateway
	cfg      Config
	journals []Journal
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Executor)

// WithJournal adds a trade sink; every sink receives every entry.
func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journals = append(e.journals, j) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithSleep replaces the wait used between requote attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

func New(gw interfaces.Gateway, cfg Config, opts ...Option) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	e := &Executor{gw: gw, cfg: cfg, sleep: retry.Sleep}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute opens a position for an entry signal.
func (e *Executor) Execute(ctx context.Context, sig types.TradeSignal, volume float64) types.OrderOutcome {
	out := e.execute(ctx, sig, volume)
	e.metrics.OrderOutcome(sig.Symbol, types.OutcomeName(out))
	if !types.Succeeded(out) {
		logger.Warn(ctx, "Order execution failed",
			"symbol", sig.Symbol,
			"kind", sig.Kind.String(),
			"volume", volume,
			"outcome", types.OutcomeName(out),
			"detail", types.Describe(out),
		)
	}
	return out
}

func (e *Executor) execute(ctx context.Context, sig types.TradeSignal, volume float64) types.OrderOutcome {
	if volume <= 0 || math.IsNaN(volume) {
		return types.Invalid{Reason: fmt.Sprintf("invalid volume %v", volume)}
	}
	if !sig.IsEntry() {
		return types.Invalid{Reason: fmt.Sprintf("%s is not an entry signal", sig.Kind)}
	}

	meta, err := e.gw.SymbolInfo(ctx, sig.Symbol)
	if err != nil {
		return types.Invalid{Reason: fmt.Sprintf("symbol %s not found: %v", sig.Symbol, err)}
	}
	tick, err := e.gw.Tick(ctx, sig.Symbol)
	if err != nil {
		return types.Invalid{Reason: fmt.Sprintf("no quote for %s: %v", sig.Symbol, err)}
	}

	side := sig.Direction().Side()
	req := types.OrderRequest{
		Action:     types.ActionDeal,
		Symbol:     sig.Symbol,
		Side:       side,
		Volume:     volume,
		Price:      quoteFor(side, tick),
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Deviation:  e.cfg.Deviation,
		Magic:      e.cfg.Magic,
		Comment:    e.cfg.Comment,
		Fill:       types.SelectFillType(meta.FillingMode),
		ClientID:   uuid.NewString(),
	}

	var last types.OrderOutcome
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		e.metrics.OrderAttempt(req.Symbol, req.Fill.String())
		out, err := e.gw.OrderSend(ctx, req)
		if err != nil {
			logger.ErrorWithErr(ctx, "Order submission failed", err, "symbol", req.Symbol, "attempt", attempt)
			return types.Rejected{Code: -1, Text: err.Error()}
		}

		switch o := out.(type) {
		case types.Filled:
			if o.Volume == 0 {
				o.Volume = req.Volume
			}
			e.recordOpen(ctx, sig, req, o)
			return o

		case types.Requoted:
			last = o
			if attempt == e.cfg.MaxAttempts {
				return o
			}
			logger.Warn(ctx, "Order requoted, retrying",
				"symbol", req.Symbol,
				"attempt", attempt,
				"price", req.Price,
			)
			if err := e.sleep(ctx, e.cfg.RequoteDelay); err != nil {
				return o
			}
			if t, err := e.gw.Tick(ctx, req.Symbol); err == nil {
				req.Price = quoteFor(side, t)
			}

		case types.InvalidFill:
			if attempt > 1 {
				return types.Invalid{Reason: "invalid filling type: " + types.Describe(o)}
			}
			next := req.Fill.Next()
			logger.Warn(ctx, "Filling mode refused, switching",
				"symbol", req.Symbol,
				"from", req.Fill.String(),
				"to", next.String(),
			)
			req.Fill = next
			last = o

		case nil:
			return types.Rejected{Code: -1, Text: "empty venue response"}

		default:
			return out
		}
	}

	if _, ok := last.(types.InvalidFill); ok {
		return types.Invalid{Reason: "invalid filling type"}
	}
	return last
}

func (e *Executor) recordOpen(ctx context.Context, sig types.TradeSignal, req types.OrderRequest, f types.Filled) {
	logger.Trade(ctx, req.Symbol, req.Side.String(), f.Volume, f.Price, f.OrderID,
		"stop_loss", req.StopLoss,
		"take_profit", req.TakeProfit,
		"fill", req.Fill.String(),
		"client_id", req.ClientID,
		"reason", sig.Reason,
	)
	e.journalAppend(ctx, tradelog.Entry{
		Kind:       tradelog.KindOpen,
		Symbol:     req.Symbol,
		Side:       req.Side.String(),
		OrderID:    f.OrderID,
		ClientID:   req.ClientID,
		Volume:     f.Volume,
		Price:      f.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Reason:     sig.Reason,
	})
}

// Close flattens pos with a single opposing market order.
func (e *Executor) Close(ctx context.Context, pos types.Position, reason string) (bool, string) {
	meta, err := e.gw.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Sprintf("symbol %s not found: %v", pos.Symbol, err)
	}
	tick, err := e.gw.Tick(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Sprintf("no quote for %s: %v", pos.Symbol, err)
	}

	side := pos.Direction.Opposite().Side()
	req := types.OrderRequest{
		Action:         types.ActionDeal,
		Symbol:         pos.Symbol,
		Side:           side,
		Volume:         pos.Volume,
		Price:          quoteFor(side, tick),
		Deviation:      e.cfg.Deviation,
		Magic:          e.cfg.Magic,
		Comment:        e.cfg.Comment + " close",
		Fill:           types.SelectFillType(meta.FillingMode),
		PositionTicket: pos.Ticket,
		ClientID:       uuid.NewString(),
	}

	e.metrics.OrderAttempt(req.Symbol, req.Fill.String())
	out, err := e.gw.OrderSend(ctx, req)
	if err != nil {
		return false, fmt.Sprintf("close failed: %v", err)
	}
	f, ok := out.(types.Filled)
	if !ok {
		return false, types.Describe(out)
	}

	e.metrics.PositionClosed(pos.Symbol, reason)
	logger.Trade(ctx, req.Symbol, req.Side.String(), pos.Volume, f.Price, f.OrderID,
		"ticket", pos.Ticket,
		"profit", pos.Profit,
		"reason", reason,
	)
	e.journalAppend(ctx, tradelog.Entry{
		Kind:     tradelog.KindClose,
		Symbol:   pos.Symbol,
		Side:     req.Side.String(),
		OrderID:  f.OrderID,
		Ticket:   pos.Ticket,
		ClientID: req.ClientID,
		Volume:   pos.Volume,
		Price:    f.Price,
		Profit:   pos.Profit,
		Reason:   reason,
	})
	return true, "Position closed successfully"
}

// Modify moves the protective levels of an open position.
func (e *Executor) Modify(ctx context.Context, ticket uint64, sl, tp float64) (bool, string) {
	positions, err := e.gw.Positions(ctx, "")
	if err != nil {
		return false, fmt.Sprintf("failed to list positions: %v", err)
	}
	var pos *types.Position
	for i := range positions {
		if positions[i].Ticket == ticket {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return false, fmt.Sprintf("position %d not found", ticket)
	}

	req := types.OrderRequest{
		Action:         types.ActionSLTP,
		Symbol:         pos.Symbol,
		StopLoss:       sl,
		TakeProfit:     tp,
		Magic:          e.cfg.Magic,
		PositionTicket: ticket,
		ClientID:       uuid.NewString(),
	}
	out, err := e.gw.OrderSend(ctx, req)
	if err != nil {
		return false, fmt.Sprintf("modify failed: %v", err)
	}
	if !types.Succeeded(out) {
		return false, types.Describe(out)
	}

	logger.Info(ctx, "Position modified", "symbol", pos.Symbol, "ticket", ticket, "stop_loss", sl, "take_profit", tp)
	e.journalAppend(ctx, tradelog.Entry{
		Kind:       tradelog.KindModify,
		Symbol:     pos.Symbol,
		Side:       pos.Direction.Side().String(),
		Ticket:     ticket,
		Volume:     pos.Volume,
		StopLoss:   sl,
		TakeProfit: tp,
	})
	return true, "Position modified successfully"
}

// CloseAll closes every open position for symbol ("" for all) and returns
// how many closed. Failures are logged and skipped.
func (e *Executor) CloseAll(ctx context.Context, symbol string) int {
	op := logger.StartOperation(ctx, "execution.CloseAll", "symbol", symbol)
	ctx = op.GetContext()

	positions, err := e.gw.Positions(ctx, symbol)
	if err != nil {
		op.EndWithError(err)
		return 0
	}

	pacer := rate.NewLimiter(rate.Every(e.cfg.ClosePacing), 1)
	closed := 0
	for _, p := range positions {
		if err := pacer.Wait(ctx); err != nil {
			logger.Warn(ctx, "Close-all interrupted", "error", err, "closed", closed)
			break
		}
		ok, msg := e.Close(ctx, p, "close all")
		if !ok {
			logger.Error(ctx, "Failed to close position", "symbol", p.Symbol, "ticket", p.Ticket, "detail", msg)
			continue
		}
		closed++
	}
	logger.Info(ctx, "Close-all finished", "closed", closed, "total", len(positions))
	op.End("closed", closed)
	return closed
}

func (e *Executor) OpenPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	return e.gw.Positions(ctx, symbol)
}

func (e *Executor) journalAppend(ctx context.Context, entry tradelog.Entry) {
	for _, j := range e.journals {
		if err := j.Append(entry); err != nil {
			logger.Warn(ctx, "Failed to write trade journal", "error", err, "symbol", entry.Symbol)
		}
	}
}

// quoteFor is the price an order on side executes against.
func quoteFor(side types.Side, t types.Tick) float64 {
	if side == types.SideSell {
		return t.Bid
	}
	return t.Ask
}
