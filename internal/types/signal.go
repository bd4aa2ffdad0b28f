package types

import "fmt"

type Direction int

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Side returns the order side that opens a position in this direction.
func (d Direction) Side() Side {
	if d == Short {
		return SideSell
	}
	return SideBuy
}

type SignalKind int

const (
	SignalBuy SignalKind = iota + 1
	SignalSell
	SignalCloseBuy
	SignalCloseSell
)

func (k SignalKind) String() string {
	switch k {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	case SignalCloseBuy:
		return "CLOSE_BUY"
	case SignalCloseSell:
		return "CLOSE_SELL"
	default:
		return "UNKNOWN"
	}
}

// TradeSignal is an immutable trading intent produced by a strategy or by
// the trailing stop tracker.
type TradeSignal struct {
	Symbol     string
	Kind       SignalKind
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
	Confidence float64
}

// NewTradeSignal builds a signal, rejecting confidences outside [0, 1].
func NewTradeSignal(symbol string, kind SignalKind, price, sl, tp float64, reason string, confidence float64) (TradeSignal, error) {
	if symbol == "" {
		return TradeSignal{}, fmt.Errorf("signal symbol is empty")
	}
	if kind < SignalBuy || kind > SignalCloseSell {
		return TradeSignal{}, fmt.Errorf("unknown signal kind %d", kind)
	}
	if confidence < 0 || confidence > 1 {
		return TradeSignal{}, fmt.Errorf("confidence %.3f outside [0,1]", confidence)
	}
	return TradeSignal{
		Symbol:     symbol,
		Kind:       kind,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Reason:     reason,
		Confidence: confidence,
	}, nil
}

func (s TradeSignal) IsEntry() bool { return s.Kind == SignalBuy || s.Kind == SignalSell }

func (s TradeSignal) IsExit() bool { return s.Kind == SignalCloseBuy || s.Kind == SignalCloseSell }

// Direction is the position direction the signal opens or closes.
func (s TradeSignal) Direction() Direction {
	if s.Kind == SignalSell || s.Kind == SignalCloseSell {
		return Short
	}
	return Long
}

// ExitKind returns the close signal kind for a position in direction d.
func ExitKind(d Direction) SignalKind {
	if d == Short {
		return SignalCloseSell
	}
	return SignalCloseBuy
}
