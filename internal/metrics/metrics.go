package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's Prometheus collectors. A nil *Metrics is a
// valid no-op so components can be built without a registry.
type Metrics struct {
	OrderAttempts     *prometheus.CounterVec
	OrderOutcomes     *prometheus.CounterVec
	SignalsRejected   *prometheus.CounterVec
	PositionsClosed   *prometheus.CounterVec
	CircuitBreaker    prometheus.Gauge
	DailyDrawdown     prometheus.Gauge
	PeakDrawdown      prometheus.Gauge
	OpenPositions     prometheus.Gauge
	TrailingStop      *prometheus.GaugeVec
	LoopIterations    *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_order_attempts_total",
			Help: "Order submissions sent to the venue",
		}, []string{"symbol", "fill"}),
		OrderOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_order_outcomes_total",
			Help: "Final outcome of each order execution",
		}, []string{"symbol", "outcome"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_rejected_total",
			Help: "Entry signals rejected by the risk gate",
		}, []string{"symbol", "rule"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_positions_closed_total",
			Help: "Positions closed by the engine",
		}, []string{"symbol", "reason"}),
		CircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_circuit_breaker_active",
			Help: "1 while the daily drawdown circuit breaker is tripped",
		}),
		DailyDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_daily_drawdown_percent",
			Help: "Drawdown from the day's starting balance",
		}),
		PeakDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_peak_drawdown_percent",
			Help: "Drawdown from the day's peak balance",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open positions reported by the venue",
		}),
		TrailingStop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_trailing_stop_price",
			Help: "Current trailing stop level per symbol",
		}, []string{"symbol"}),
		LoopIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_loop_iterations_total",
			Help: "Trading loop iterations by result",
		}, []string{"result"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_reconnect_attempts_total",
			Help: "Venue reconnection attempts",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.OrderAttempts, m.OrderOutcomes, m.SignalsRejected, m.PositionsClosed,
			m.CircuitBreaker, m.DailyDrawdown, m.PeakDrawdown, m.OpenPositions,
			m.TrailingStop, m.LoopIterations, m.ReconnectAttempts,
		)
	}
	return m
}

func (m *Metrics) OrderAttempt(symbol, fill string) {
	if m == nil {
		return
	}
	m.OrderAttempts.WithLabelValues(symbol, fill).Inc()
}

func (m *Metrics) OrderOutcome(symbol, outcome string) {
	if m == nil {
		return
	}
	m.OrderOutcomes.WithLabelValues(symbol, outcome).Inc()
}

func (m *Metrics) SignalRejected(symbol, rule string) {
	if m == nil {
		return
	}
	m.SignalsRejected.WithLabelValues(symbol, rule).Inc()
}

func (m *Metrics) PositionClosed(symbol, reason string) {
	if m == nil {
		return
	}
	m.PositionsClosed.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) Drawdown(fromStart, fromPeak float64, breaker bool) {
	if m == nil {
		return
	}
	m.DailyDrawdown.Set(fromStart)
	m.PeakDrawdown.Set(fromPeak)
	if breaker {
		m.CircuitBreaker.Set(1)
	} else {
		m.CircuitBreaker.Set(0)
	}
}

func (m *Metrics) Positions(n int) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(n))
}

func (m *Metrics) Stop(symbol string, level float64) {
	if m == nil {
		return
	}
	m.TrailingStop.WithLabelValues(symbol).Set(level)
}

func (m *Metrics) StopRemoved(symbol string) {
	if m == nil {
		return
	}
	m.TrailingStop.DeleteLabelValues(symbol)
}

func (m *Metrics) Iteration(result string) {
	if m == nil {
		return
	}
	m.LoopIterations.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}
