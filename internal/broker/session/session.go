package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/metrics"
	"atr-trading-bot/internal/retry"
)

// ErrAuthentication marks credential failures. They are never retried.
var ErrAuthentication = errors.New("authentication failed")

// Connector is the venue-specific part of a session.
type Connector interface {
	Dial(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context)
}

// Manager owns the connection state of one venue client.
type Manager struct {
	conn    Connector
	policy  retry.Policy
	settle  time.Duration
	metrics *metrics.Metrics

	mu        sync.Mutex
	connected bool
}

var _ interfaces.Session = (*Manager)(nil)

type Option func(*Manager)

// WithSettleDelay sets the pause between closing and redialing on reconnect.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Manager) { m.settle = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func New(conn Connector, attempts int, delay time.Duration, opts ...Option) *Manager {
	m := &Manager{
		conn:   conn,
		policy: retry.Fixed("venue connect", attempts, delay, Retryable),
		settle: 2 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// WithPolicy replaces the connection retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// Retryable reports whether a connection error may be retried.
func Retryable(err error) bool {
	return !errors.Is(err, ErrAuthentication) && !errors.Is(err, context.Canceled)
}

func (m *Manager) Connect(ctx context.Context) error {
	err := retry.Do(ctx, m.policy, m.conn.Dial)
	m.mu.Lock()
	m.connected = err == nil
	m.mu.Unlock()
	if err != nil {
		logger.ErrorWithErr(ctx, "Venue connection failed", err)
		return err
	}
	logger.Info(ctx, "Venue connected")
	return nil
}

func (m *Manager) Reconnect(ctx context.Context) error {
	m.metrics.Reconnect()
	logger.Warn(ctx, "Reconnecting to venue")
	m.Disconnect(ctx)
	if err := retry.Sleep(ctx, m.settle); err != nil {
		return err
	}
	return m.Connect(ctx)
}

func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	was := m.connected
	m.connected = false
	m.mu.Unlock()
	m.conn.Close(ctx)
	if was {
		logger.Info(ctx, "Venue disconnected")
	}
}

// Connected pings the venue; a failed ping marks the session down.
func (m *Manager) Connected(ctx context.Context) bool {
	m.mu.Lock()
	up := m.connected
	m.mu.Unlock()
	if !up {
		return false
	}
	if err := m.conn.Ping(ctx); err != nil {
		logger.Warn(ctx, "Venue connection lost", "error", err)
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		return false
	}
	return true
}
