package notify

import (
	"context"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/types"
)

// Log writes every event to the structured log.
type Log struct{}

var _ interfaces.Notifier = Log{}

func (Log) Notify(ctx context.Context, ev types.Event) {
	args := []any{"event", ev.Kind.String()}
	if ev.Symbol != "" {
		args = append(args, "symbol", ev.Symbol, "direction", ev.Direction.String(), "volume", ev.Volume, "price", ev.Price)
	}
	if ev.Kind == types.EventTradeClosed {
		args = append(args, "profit", ev.Profit)
	}
	if ev.Kind == types.EventCircuitBreaker {
		args = append(args, "drawdown_pct", ev.Drawdown)
	}
	if ev.Message != "" {
		args = append(args, "message", ev.Message)
	}

	switch ev.Kind {
	case types.EventCircuitBreaker, types.EventError:
		logger.Warn(ctx, "Notification", args...)
	default:
		logger.Info(ctx, "Notification", args...)
	}
}

// Multi fans an event out to several notifiers.
type Multi []interfaces.Notifier

func (m Multi) Notify(ctx context.Context, ev types.Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
