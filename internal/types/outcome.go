package types

import "fmt"

// Venue return codes. Gateways that speak another protocol translate into
// these before calling ClassifyRetcode.
const (
	RetcodeRequote      = 10004
	RetcodeDone         = 10009
	RetcodeInvalidPrice = 10015
	RetcodeMarketClosed = 10018
	RetcodeNoMoney      = 10019
	RetcodeInvalidFill  = 10030
)

// OrderOutcome is the result of one order submission. The set of
// implementations is closed; switch on the concrete type.
type OrderOutcome interface {
	isOrderOutcome()
}

// Reply is the raw venue answer attached to negative outcomes.
type Reply struct {
	Code    int
	Comment string
}

type Filled struct {
	OrderID string
	Price   float64
	Volume  float64
}

type Requoted struct{ Reply }

type InvalidFill struct{ Reply }

type InsufficientFunds struct{ Reply }

type MarketClosed struct{ Reply }

type InvalidPrice struct{ Reply }

type Rejected struct {
	Code int
	Text string
}

// Invalid is a locally detected problem; nothing reached the venue or the
// venue answer made further attempts pointless.
type Invalid struct {
	Reason string
}

func (Filled) isOrderOutcome()            {}
func (Requoted) isOrderOutcome()          {}
func (InvalidFill) isOrderOutcome()       {}
func (InsufficientFunds) isOrderOutcome() {}
func (MarketClosed) isOrderOutcome()      {}
func (InvalidPrice) isOrderOutcome()      {}
func (Rejected) isOrderOutcome()          {}
func (Invalid) isOrderOutcome()           {}

// ClassifyRetcode maps a venue return code to an outcome. Fills carry no
// price here; the gateway sets OrderID and Price on the returned value.
func ClassifyRetcode(code int, comment string) OrderOutcome {
	r := Reply{Code: code, Comment: comment}
	switch code {
	case RetcodeDone:
		return Filled{}
	case RetcodeRequote:
		return Requoted{r}
	case RetcodeInvalidFill:
		return InvalidFill{r}
	case RetcodeNoMoney:
		return InsufficientFunds{r}
	case RetcodeMarketClosed:
		return MarketClosed{r}
	case RetcodeInvalidPrice:
		return InvalidPrice{r}
	default:
		return Rejected{Code: code, Text: comment}
	}
}

func Succeeded(o OrderOutcome) bool {
	_, ok := o.(Filled)
	return ok
}

// OutcomeName is a stable label for metrics and logs.
func OutcomeName(o OrderOutcome) string {
	switch o.(type) {
	case Filled:
		return "filled"
	case Requoted:
		return "requoted"
	case InvalidFill:
		return "invalid_fill"
	case InsufficientFunds:
		return "insufficient_funds"
	case MarketClosed:
		return "market_closed"
	case InvalidPrice:
		return "invalid_price"
	case Rejected:
		return "rejected"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Describe renders an outcome for humans.
func Describe(o OrderOutcome) string {
	switch v := o.(type) {
	case Filled:
		return fmt.Sprintf("order %s filled at %.5f", v.OrderID, v.Price)
	case Requoted:
		return fmt.Sprintf("requoted (%d %s)", v.Code, v.Comment)
	case InvalidFill:
		return fmt.Sprintf("unsupported filling mode (%d %s)", v.Code, v.Comment)
	case InsufficientFunds:
		return fmt.Sprintf("insufficient funds (%d %s)", v.Code, v.Comment)
	case MarketClosed:
		return fmt.Sprintf("market closed (%d %s)", v.Code, v.Comment)
	case InvalidPrice:
		return fmt.Sprintf("invalid price (%d %s)", v.Code, v.Comment)
	case Rejected:
		return fmt.Sprintf("rejected (%d %s)", v.Code, v.Text)
	case Invalid:
		return "invalid: " + v.Reason
	case nil:
		return "no outcome"
	default:
		return fmt.Sprintf("unknown outcome %T", o)
	}
}
