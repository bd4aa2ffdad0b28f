package types

type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

type OrderAction int

const (
	// ActionDeal is an immediate market execution.
	ActionDeal OrderAction = iota + 1
	// ActionSLTP modifies the protective levels of an open position.
	ActionSLTP
)

// Bits of SymbolMetadata.FillingMode.
const (
	FillingModeFOK = 1
	FillingModeIOC = 2
)

type FillType int

const (
	FillFOK FillType = iota + 1
	FillIOC
	FillReturn
)

func (f FillType) String() string {
	switch f {
	case FillFOK:
		return "FOK"
	case FillIOC:
		return "IOC"
	case FillReturn:
		return "RETURN"
	default:
		return "UNKNOWN"
	}
}

// Next cycles FOK -> IOC -> RETURN -> FOK.
func (f FillType) Next() FillType {
	switch f {
	case FillFOK:
		return FillIOC
	case FillIOC:
		return FillReturn
	default:
		return FillFOK
	}
}

// SelectFillType picks the preferred fill policy a symbol advertises.
func SelectFillType(mask int) FillType {
	switch {
	case mask&FillingModeFOK != 0:
		return FillFOK
	case mask&FillingModeIOC != 0:
		return FillIOC
	default:
		return FillReturn
	}
}

type OrderRequest struct {
	Action         OrderAction
	Symbol         string
	Side           Side
	Volume         float64
	Price          float64
	StopLoss       float64
	TakeProfit     float64
	Deviation      int
	Magic          int
	Comment        string
	Fill           FillType
	PositionTicket uint64
	ClientID       string
}
