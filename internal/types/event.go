package types

type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventStopped
	EventTradeOpened
	EventTradeClosed
	EventCircuitBreaker
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventTradeOpened:
		return "trade_opened"
	case EventTradeClosed:
		return "trade_closed"
	case EventCircuitBreaker:
		return "circuit_breaker"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an operator notification. Fields irrelevant to Kind stay zero.
type Event struct {
	Kind       EventKind
	Symbol     string
	Direction  Direction
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
	Drawdown   float64
	Message    string
}
