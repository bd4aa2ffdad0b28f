package risk

import (
	"context"
	"sync"
	"time"

	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/metrics"
	"atr-trading-bot/internal/types"
)

// StateStore persists the daily risk state across restarts.
type StateStore interface {
	LoadDailyState(ctx context.Context) (types.DailyRiskState, bool, error)
	SaveDailyState(ctx context.Context, st types.DailyRiskState) error
}

// DrawdownMonitor tracks the day's starting and peak balance and latches a
// circuit breaker once either drawdown reaches the limit. The latch only
// clears when a new calendar day begins.
type DrawdownMonitor struct {
	mu      sync.Mutex
	maxDD   float64
	loc     *time.Location
	state   types.DailyRiskState
	store   StateStore
	metrics *metrics.Metrics
}

type MonitorOption func(*DrawdownMonitor)

func WithStateStore(s StateStore) MonitorOption {
	return func(m *DrawdownMonitor) { m.store = s }
}

// WithLocation sets the timezone whose midnight starts a new trading day.
func WithLocation(loc *time.Location) MonitorOption {
	return func(m *DrawdownMonitor) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func WithMetrics(mt *metrics.Metrics) MonitorOption {
	return func(m *DrawdownMonitor) { m.metrics = mt }
}

func NewDrawdownMonitor(maxDailyDrawdownPercent float64, opts ...MonitorOption) *DrawdownMonitor {
	m := &DrawdownMonitor{maxDD: maxDailyDrawdownPercent, loc: time.UTC}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Restore loads persisted state. State from an earlier day is discarded.
func (m *DrawdownMonitor) Restore(ctx context.Context, now time.Time) error {
	if m.store == nil {
		return nil
	}
	st, ok, err := m.store.LoadDailyState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !dayOf(st.Day, m.loc).Equal(dayOf(now, m.loc)) {
		logger.Info(ctx, "Ignoring risk state from a previous day", "day", st.Day.Format("2006-01-02"))
		return nil
	}
	st.Day = dayOf(st.Day, m.loc)
	m.state = st
	logger.Info(ctx, "Restored daily risk state",
		"starting_balance", st.StartingBalance,
		"peak_balance", st.PeakBalance,
		"circuit_breaker_active", st.CircuitBreakerActive,
	)
	return nil
}

// CheckDailyDrawdown reports whether trading is permitted given the
// current account balance.
func (m *DrawdownMonitor) CheckDailyDrawdown(ctx context.Context, now time.Time, acct types.AccountSnapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := m.rolloverLocked(ctx, now)
	balance := acct.Balance

	if m.state.StartingBalance == 0 {
		m.state.StartingBalance = balance
		m.state.PeakBalance = balance
		changed = true
		logger.Info(ctx, "Daily starting balance recorded", "balance", balance)
	}
	if balance > m.state.PeakBalance {
		m.state.PeakBalance = balance
		changed = true
	}

	fromStart, fromPeak := drawdowns(m.state, balance)
	if !m.state.CircuitBreakerActive && (fromStart >= m.maxDD || fromPeak >= m.maxDD) {
		m.state.CircuitBreakerActive = true
		changed = true
		logger.RiskAlert(ctx, "", "circuit_breaker_tripped",
			"daily_drawdown_pct", fromStart,
			"peak_drawdown_pct", fromPeak,
			"limit_pct", m.maxDD,
			"balance", balance,
		)
	}
	m.metrics.Drawdown(fromStart, fromPeak, m.state.CircuitBreakerActive)

	if changed {
		m.persistLocked(ctx)
	}
	return !m.state.CircuitBreakerActive
}

// CheckUnavailable is the failsafe used when the balance cannot be read:
// the day still rolls over and an already tripped breaker keeps blocking,
// otherwise trading stays permitted.
func (m *DrawdownMonitor) CheckUnavailable(ctx context.Context, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rolloverLocked(ctx, now) {
		m.persistLocked(ctx)
	}
	logger.RiskAlert(ctx, "", "balance_unavailable", "circuit_breaker_active", m.state.CircuitBreakerActive)
	return !m.state.CircuitBreakerActive
}

// Active reports whether the breaker is tripped.
func (m *DrawdownMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CircuitBreakerActive
}

func (m *DrawdownMonitor) State() types.DailyRiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *DrawdownMonitor) Metrics(acct types.AccountSnapshot, openPositions, maxPositions int) types.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromStart, fromPeak := drawdowns(m.state, acct.Balance)
	return types.RiskMetrics{
		Day:                  m.state.Day.Format("2006-01-02"),
		StartingBalance:      m.state.StartingBalance,
		PeakBalance:          m.state.PeakBalance,
		CurrentBalance:       acct.Balance,
		DailyDrawdownPercent: fromStart,
		PeakDrawdownPercent:  fromPeak,
		CircuitBreakerActive: m.state.CircuitBreakerActive,
		OpenPositions:        openPositions,
		MaxPositions:         maxPositions,
		FreeMargin:           acct.FreeMargin,
		MarginLevel:          acct.MarginLevel,
	}
}

func (m *DrawdownMonitor) rolloverLocked(ctx context.Context, now time.Time) bool {
	day := dayOf(now, m.loc)
	if m.state.Day.Equal(day) {
		return false
	}
	if !m.state.Day.IsZero() {
		logger.Info(ctx, "New trading day, daily risk state reset",
			"previous_day", m.state.Day.Format("2006-01-02"),
			"day", day.Format("2006-01-02"),
		)
	}
	m.state = types.DailyRiskState{Day: day}
	return true
}

func (m *DrawdownMonitor) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveDailyState(ctx, m.state); err != nil {
		logger.Warn(ctx, "Failed to persist daily risk state", "error", err)
	}
}

func drawdowns(st types.DailyRiskState, balance float64) (fromStart, fromPeak float64) {
	if st.StartingBalance > 0 {
		fromStart = (st.StartingBalance - balance) / st.StartingBalance * 100
	}
	if st.PeakBalance > 0 {
		fromPeak = (st.PeakBalance - balance) / st.PeakBalance * 100
	}
	return fromStart, fromPeak
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
