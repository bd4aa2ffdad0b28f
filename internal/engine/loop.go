package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"atr-trading-bot/internal/execution"
	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/metrics"
	"atr-trading-bot/internal/retry"
	"atr-trading-bot/internal/risk"
	"atr-trading-bot/internal/types"
)

// LoopConfig holds the timing and scope of the trading loop.
type LoopConfig struct {
	Symbols             []string
	PollInterval        time.Duration
	ErrorDelay          time.Duration
	ReconnectWait       time.Duration
	BreakerCooldown     time.Duration
	DataRefreshInterval time.Duration
	SeriesLength        int
	MaxPositions        int
	CloseAllOnShutdown  bool

	// FlattenAtEndOfDay closes every position once the local time reaches
	// EndOfDayHour:EndOfDayMinute and blocks new entries until the next day.
	FlattenAtEndOfDay bool
	EndOfDayHour      int
	EndOfDayMinute    int
	Location          *time.Location
}

func DefaultLoopConfig(symbols []string) LoopConfig {
	return LoopConfig{
		Symbols:             symbols,
		PollInterval:        5 * time.Second,
		ErrorDelay:          10 * time.Second,
		ReconnectWait:       30 * time.Second,
		BreakerCooldown:     300 * time.Second,
		DataRefreshInterval: 60 * time.Second,
		SeriesLength:        100,
		MaxPositions:        3,
	}
}

// Deps are the collaborators the loop drives. Notifier and Metrics may be nil.
type Deps struct {
	Session  interfaces.Session
	Gateway  interfaces.Gateway
	Data     interfaces.MarketDataProvider
	Strategy interfaces.Strategy
	Notifier interfaces.Notifier
	Monitor  *risk.DrawdownMonitor
	Gate     *risk.Gate
	Sizer    risk.Sizer
	Executor *execution.Executor
	Stops    *TrailingStopTracker
	Metrics  *metrics.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Session == nil:
		return errors.New("session is required")
	case d.Gateway == nil:
		return errors.New("gateway is required")
	case d.Data == nil:
		return errors.New("market data provider is required")
	case d.Strategy == nil:
		return errors.New("strategy is required")
	case d.Monitor == nil:
		return errors.New("drawdown monitor is required")
	case d.Gate == nil:
		return errors.New("risk gate is required")
	case d.Executor == nil:
		return errors.New("executor is required")
	case d.Stops == nil:
		return errors.New("trailing stop tracker is required")
	}
	return nil
}

// Loop is the single-goroutine trading controller.
type Loop struct {
	cfg  LoopConfig
	deps Deps

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	lastRefresh     map[string]time.Time
	breakerNotified string
	flattenedDay    string

	lastAccount types.AccountSnapshot
	haveAccount bool
}

type LoopOption func(*Loop)

func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// WithLoopSleep replaces the wait between iterations.
func WithLoopSleep(fn func(ctx context.Context, d time.Duration) error) LoopOption {
	return func(l *Loop) { l.sleep = fn }
}

func NewLoop(cfg LoopConfig, deps Deps, opts ...LoopOption) (*Loop, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("trading loop: %w", err)
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("trading loop: no symbols configured")
	}
	l := &Loop{
		cfg:         cfg,
		deps:        deps,
		now:         time.Now,
		sleep:       retry.Sleep,
		lastRefresh: map[string]time.Time{},
	}
	if l.cfg.Location == nil {
		l.cfg.Location = time.UTC
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Run iterates until ctx is cancelled and then shuts down. Cancellation is
// only observed between iterations; work inside an iteration always
// completes.
func (l *Loop) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)

	logger.Info(work, "Trading loop started", "symbols", l.cfg.Symbols, "poll_interval", l.cfg.PollInterval.String())
	l.notify(work, types.Event{Kind: types.EventStarted, Message: fmt.Sprintf("Trading %v", l.cfg.Symbols)})

	for ctx.Err() == nil {
		delay := l.iterate(work)
		if err := l.sleep(ctx, delay); err != nil {
			break
		}
	}

	l.shutdown(work)
	return nil
}

func (l *Loop) iterate(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in trading iteration: %v", r)
			logger.ErrorWithErr(ctx, "Trading iteration panicked", err, "stack", string(debug.Stack()))
			l.deps.Metrics.Iteration("panic")
			l.notify(ctx, types.Event{Kind: types.EventError, Message: err.Error()})
			delay = l.cfg.ErrorDelay
		}
	}()

	d, err := l.RunOnce(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Trading iteration failed", err)
		l.deps.Metrics.Iteration("error")
		l.notify(ctx, types.Event{Kind: types.EventError, Message: err.Error()})
		return l.cfg.ErrorDelay
	}
	return d
}

// RunOnce performs one iteration and returns how long to wait before the
// next one.
func (l *Loop) RunOnce(ctx context.Context) (time.Duration, error) {
	now := l.now()

	if !l.deps.Session.Connected(ctx) {
		logger.Warn(ctx, "Venue connection lost, reconnecting")
		if err := l.deps.Session.Reconnect(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Reconnect failed", err, "retry_in", l.cfg.ReconnectWait.String())
			l.deps.Metrics.Iteration("disconnected")
			return l.cfg.ReconnectWait, nil
		}
		logger.Info(ctx, "Venue connection restored")
	}

	if l.endOfDay(ctx, now) {
		l.deps.Metrics.Iteration("end_of_day")
		return l.cfg.PollInterval, nil
	}

	if !l.tradingAllowed(ctx, now) {
		l.deps.Metrics.Iteration("circuit_breaker")
		return l.cfg.BreakerCooldown, nil
	}

	var errs []error
	for _, sym := range l.cfg.Symbols {
		if err := l.processSymbol(ctx, sym, now); err != nil {
			logger.ErrorWithErr(ctx, "Symbol processing failed", err, "symbol", sym)
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
	}
	l.refreshStops(ctx)

	if err := errors.Join(errs...); err != nil {
		return l.cfg.ErrorDelay, err
	}
	l.deps.Metrics.Iteration("ok")
	return l.cfg.PollInterval, nil
}

// tradingAllowed runs the drawdown check and announces a trip once per day.
func (l *Loop) tradingAllowed(ctx context.Context, now time.Time) bool {
	acct, err := l.deps.Gateway.AccountInfo(ctx)
	var ok bool
	if err != nil {
		logger.Warn(ctx, "Account info unavailable, applying drawdown failsafe", "error", err)
		ok = l.deps.Monitor.CheckUnavailable(ctx, now)
		acct = l.lastAccount
	} else {
		l.lastAccount, l.haveAccount = acct, true
		ok = l.deps.Monitor.CheckDailyDrawdown(ctx, now, acct)
	}
	if ok {
		return true
	}

	rm := l.deps.Monitor.Metrics(acct, 0, l.cfg.MaxPositions)
	if l.breakerNotified == rm.Day {
		return false
	}
	l.breakerNotified = rm.Day

	ev := types.Event{Kind: types.EventCircuitBreaker, Message: "Trading halted for the rest of the day"}
	if !l.haveAccount {
		// no balance seen yet, so there is no drawdown to report
		logger.RiskAlert(ctx, "", "circuit_breaker_cooldown", "cooldown", l.cfg.BreakerCooldown.String())
		l.notify(ctx, ev)
		return false
	}
	logger.RiskAlert(ctx, "", "circuit_breaker_cooldown",
		"daily_drawdown_pct", rm.DailyDrawdownPercent,
		"peak_drawdown_pct", rm.PeakDrawdownPercent,
		"balance", acct.Balance,
		"cooldown", l.cfg.BreakerCooldown.String(),
	)
	ev.Drawdown = rm.DailyDrawdownPercent
	l.notify(ctx, ev)
	return false
}

// endOfDay flattens the book once per day after the configured close time
// and reports whether entries are blocked for the rest of the day.
func (l *Loop) endOfDay(ctx context.Context, now time.Time) bool {
	if !l.cfg.FlattenAtEndOfDay {
		return false
	}
	local := now.In(l.cfg.Location)
	if local.Hour()*60+local.Minute() < l.cfg.EndOfDayHour*60+l.cfg.EndOfDayMinute {
		return false
	}
	day := local.Format("2006-01-02")
	if l.flattenedDay == day {
		return true
	}

	n := l.deps.Executor.CloseAll(ctx, "")
	for _, sym := range l.deps.Stops.Symbols() {
		l.deps.Stops.Remove(sym)
		l.deps.Metrics.StopRemoved(sym)
	}
	l.flattenedDay = day
	logger.Info(ctx, "End of day reached, positions flattened", "closed", n, "day", day)

	remaining, err := l.deps.Gateway.PositionsTotal(ctx)
	if err != nil || remaining > 0 {
		// retry on the next iteration
		l.flattenedDay = ""
		logger.Warn(ctx, "End of day flatten incomplete", "remaining", remaining, "error", err)
		l.notify(ctx, types.Event{Kind: types.EventError, Message: fmt.Sprintf("End of day flatten incomplete: %d positions open", remaining)})
	}
	return true
}

func (l *Loop) processSymbol(ctx context.Context, symbol string, now time.Time) error {
	if last, ok := l.lastRefresh[symbol]; !ok || now.Sub(last) >= l.cfg.DataRefreshInterval {
		if err := l.deps.Data.Refresh(ctx, symbol); err != nil {
			return fmt.Errorf("refresh market data: %w", err)
		}
		l.lastRefresh[symbol] = now
	}

	snap, ok := l.deps.Data.LatestSnapshot(symbol)
	if !ok {
		logger.Debug(ctx, "No market data yet", "symbol", symbol)
		return nil
	}

	positions, err := l.deps.Gateway.Positions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	if len(positions) > 0 {
		return l.managePositions(ctx, symbol, positions, snap, now)
	}

	sig, ok := l.deps.Strategy.GenerateSignal(ctx, symbol, l.deps.Data.Series(symbol, l.cfg.SeriesLength))
	if !ok || !sig.IsEntry() {
		return nil
	}
	logger.Signal(ctx, symbol, sig.Kind.String(), sig.Price, sig.Confidence, sig.Reason,
		"stop_loss", sig.StopLoss,
		"take_profit", sig.TakeProfit,
	)
	return l.enter(ctx, sig, snap, now)
}

func (l *Loop) managePositions(ctx context.Context, symbol string, positions []types.Position, snap types.MarketSnapshot, now time.Time) error {
	tick, err := l.deps.Gateway.Tick(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch tick: %w", err)
	}

	hookSig, hookOK := l.deps.Strategy.OnTick(ctx, symbol, tick)

	for _, p := range positions {
		price := exitPrice(p.Direction, tick)
		if lvl, ok := l.deps.Stops.Update(symbol, p.Direction, price, snap.ATR); ok {
			l.deps.Metrics.Stop(symbol, lvl)
		}

		sig, hit := l.deps.Stops.ShouldExit(symbol, price, p.Direction)
		if !hit && hookOK && hookSig.IsExit() && hookSig.Direction() == p.Direction {
			sig, hit = hookSig, true
		}
		if !hit {
			sig, hit = l.deps.Strategy.ShouldExit(ctx, symbol, price, p.Direction)
		}
		if !hit {
			continue
		}

		logger.Signal(ctx, symbol, sig.Kind.String(), price, sig.Confidence, sig.Reason, "ticket", p.Ticket)
		if v := l.deps.Gate.Validate(ctx, sig, now); !v.Accepted {
			continue
		}
		l.exit(ctx, p, sig, price)
	}
	return nil
}

func (l *Loop) exit(ctx context.Context, p types.Position, sig types.TradeSignal, price float64) {
	ok, msg := l.deps.Executor.Close(ctx, p, sig.Reason)
	if !ok {
		logger.Error(ctx, "Failed to close position", "symbol", p.Symbol, "ticket", p.Ticket, "detail", msg)
		return
	}
	l.deps.Stops.Remove(p.Symbol)
	l.deps.Metrics.StopRemoved(p.Symbol)
	l.notify(ctx, types.Event{
		Kind:      types.EventTradeClosed,
		Symbol:    p.Symbol,
		Direction: p.Direction,
		Volume:    p.Volume,
		Price:     price,
		Profit:    p.Profit,
		Message:   sig.Reason,
	})
}

func (l *Loop) enter(ctx context.Context, sig types.TradeSignal, snap types.MarketSnapshot, now time.Time) error {
	if v := l.deps.Gate.Validate(ctx, sig, now); !v.Accepted {
		return nil
	}

	acct, err := l.deps.Gateway.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account info for sizing: %w", err)
	}
	meta, err := l.deps.Gateway.SymbolInfo(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("symbol info for sizing: %w", err)
	}
	volume := l.deps.Sizer.Size(sig, acct, meta)
	if volume <= 0 {
		logger.Warn(ctx, "Position size is zero, skipping signal",
			"symbol", sig.Symbol,
			"price", sig.Price,
			"stop_loss", sig.StopLoss,
			"balance", acct.Balance,
		)
		return nil
	}

	out := l.deps.Executor.Execute(ctx, sig, volume)
	filled, ok := out.(types.Filled)
	if !ok {
		l.notify(ctx, types.Event{
			Kind:      types.EventError,
			Symbol:    sig.Symbol,
			Direction: sig.Direction(),
			Volume:    volume,
			Price:     sig.Price,
			Message:   "Order execution failed: " + types.Describe(out),
		})
		return nil
	}

	dir := sig.Direction()
	if lvl, ok := l.deps.Stops.Update(sig.Symbol, dir, filled.Price, snap.ATR); ok {
		l.deps.Metrics.Stop(sig.Symbol, lvl)
	}
	l.notify(ctx, types.Event{
		Kind:       types.EventTradeOpened,
		Symbol:     sig.Symbol,
		Direction:  dir,
		Volume:     filled.Volume,
		Price:      filled.Price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Message:    sig.Reason,
	})
	return nil
}

// refreshStops tightens stops for every open position, including symbols
// outside the configured set, and drops stops whose position is gone.
func (l *Loop) refreshStops(ctx context.Context) {
	positions, err := l.deps.Gateway.Positions(ctx, "")
	if err != nil {
		logger.Warn(ctx, "Failed to list positions for stop refresh", "error", err)
		return
	}
	l.deps.Metrics.Positions(len(positions))

	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.Symbol] = true
		snap, ok := l.deps.Data.LatestSnapshot(p.Symbol)
		if !ok {
			continue
		}
		tick, err := l.deps.Gateway.Tick(ctx, p.Symbol)
		if err != nil {
			continue
		}
		if lvl, ok := l.deps.Stops.Update(p.Symbol, p.Direction, exitPrice(p.Direction, tick), snap.ATR); ok {
			l.deps.Metrics.Stop(p.Symbol, lvl)
		}
	}

	for _, sym := range l.deps.Stops.Symbols() {
		if !open[sym] {
			l.deps.Stops.Remove(sym)
			l.deps.Metrics.StopRemoved(sym)
			logger.Debug(ctx, "Dropped trailing stop for closed position", "symbol", sym)
		}
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	logger.Info(ctx, "Trading loop stopping")
	if l.cfg.CloseAllOnShutdown {
		n := l.deps.Executor.CloseAll(ctx, "")
		logger.Info(ctx, "Closed positions on shutdown", "closed", n)
	}
	l.deps.Session.Disconnect(ctx)
	l.notify(ctx, types.Event{Kind: types.EventStopped, Message: "Trading loop stopped"})
	logger.Info(ctx, "Trading loop stopped")
}

func (l *Loop) notify(ctx context.Context, ev types.Event) {
	if l.deps.Notifier == nil {
		return
	}
	l.deps.Notifier.Notify(ctx, ev)
}

// exitPrice is the side of the book a position closes against.
func exitPrice(dir types.Direction, t types.Tick) float64 {
	if dir == types.Short {
		return t.Ask
	}
	return t.Bid
}
