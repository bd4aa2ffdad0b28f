package zerodha

import (
	"sync"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"atr-trading-bot/internal/types"
)

// instrument is the part of the Kite instrument dump the gateway needs.
type instrument struct {
	token    uint32
	tickSize float64
	lotSize  float64
}

// instrumentMapper keeps the symbol/token mapping of the configured exchange.
type instrumentMapper struct {
	bySymbol map[string]instrument
	byToken  map[uint32]string
	mu       sync.RWMutex
}

func newInstrumentMapper() *instrumentMapper {
	return &instrumentMapper{
		bySymbol: make(map[string]instrument),
		byToken:  make(map[uint32]string),
	}
}

// load replaces the mapping with the instruments of wanted symbols. It
// returns how many of them were found.
func (im *instrumentMapper) load(all kiteconnect.Instruments, wanted []string) int {
	want := make(map[string]bool, len(wanted))
	for _, s := range wanted {
		want[s] = true
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	im.bySymbol = make(map[string]instrument, len(wanted))
	im.byToken = make(map[uint32]string, len(wanted))
	for _, in := range all {
		if !want[in.Tradingsymbol] {
			continue
		}
		token := uint32(in.InstrumentToken)
		im.bySymbol[in.Tradingsymbol] = instrument{
			token:    token,
			tickSize: in.TickSize,
			lotSize:  float64(in.LotSize),
		}
		im.byToken[token] = in.Tradingsymbol
	}
	return len(im.bySymbol)
}

func (im *instrumentMapper) lookup(symbol string) (instrument, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	in, ok := im.bySymbol[symbol]
	return in, ok
}

func (im *instrumentMapper) symbol(token uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.byToken[token]
}

func (im *instrumentMapper) tokens() []uint32 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make([]uint32, 0, len(im.byToken))
	for t := range im.byToken {
		out = append(out, t)
	}
	return out
}

func (im *instrumentMapper) size() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.bySymbol)
}

// metadata describes a cash instrument: one lot moves by tickSize per share.
func (in instrument) metadata(symbol string, volumeMax float64) types.SymbolMetadata {
	lot := in.lotSize
	if lot <= 0 {
		lot = 1
	}
	digits := 0
	if exp := decimal.NewFromFloat(in.tickSize).Exponent(); exp < 0 {
		digits = int(-exp)
	}
	return types.SymbolMetadata{
		Symbol:      symbol,
		Point:       in.tickSize,
		Digits:      digits,
		VolumeMin:   lot,
		VolumeMax:   volumeMax,
		VolumeStep:  lot,
		TickValue:   in.tickSize,
		FillingMode: types.FillingModeIOC,
		Visible:     true,
	}
}
