// Package brokertest provides a scriptable in-memory Gateway for tests.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/types"
)

var ErrUnavailable = errors.New("gateway unavailable")

// Gateway records every request and answers OrderSend from a script.
// Once the script is exhausted every submission fills at the request price.
// Filled opening deals add a position; filled closing deals remove one.
type Gateway struct {
	mu sync.Mutex

	Account    types.AccountSnapshot
	AccountErr error
	Symbols    map[string]types.SymbolMetadata
	Ticks      map[string]types.Tick
	TickErr    error
	Open       []types.Position
	PosErr     error
	SelectOK   bool

	Script   []types.OrderOutcome
	SendErr  error
	Requests []types.OrderRequest
	Selected []string

	nextID int
}

var _ interfaces.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		Symbols:  map[string]types.SymbolMetadata{},
		Ticks:    map[string]types.Tick{},
		SelectOK: true,
	}
}

// EURUSD returns metadata of a typical five-digit FX pair.
func EURUSD() types.SymbolMetadata {
	return types.SymbolMetadata{
		Symbol:      "EURUSD",
		Point:       0.00001,
		Digits:      5,
		VolumeMin:   0.01,
		VolumeMax:   100,
		VolumeStep:  0.01,
		TickValue:   1.0,
		FillingMode: types.FillingModeFOK | types.FillingModeIOC,
		Visible:     true,
	}
}

func (g *Gateway) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Account, g.AccountErr
}

func (g *Gateway) SymbolInfo(ctx context.Context, symbol string) (types.SymbolMetadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.Symbols[symbol]
	if !ok {
		return types.SymbolMetadata{}, fmt.Errorf("symbol %s: %w", symbol, ErrUnavailable)
	}
	return m, nil
}

func (g *Gateway) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TickErr != nil {
		return types.Tick{}, g.TickErr
	}
	t, ok := g.Ticks[symbol]
	if !ok {
		return types.Tick{}, fmt.Errorf("tick %s: %w", symbol, ErrUnavailable)
	}
	return t, nil
}

func (g *Gateway) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PosErr != nil {
		return nil, g.PosErr
	}
	out := []types.Position{}
	for _, p := range g.Open {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *Gateway) PositionsTotal(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PosErr != nil {
		return 0, g.PosErr
	}
	return len(g.Open), nil
}

func (g *Gateway) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.SendErr != nil {
		return nil, g.SendErr
	}
	if len(g.Script) > 0 {
		out := g.Script[0]
		g.Script = g.Script[1:]
		if f, ok := out.(types.Filled); ok {
			return g.fill(req, f), nil
		}
		return out, nil
	}
	return g.fill(req, types.Filled{}), nil
}

func (g *Gateway) fill(req types.OrderRequest, f types.Filled) types.Filled {
	g.nextID++
	if f.OrderID == "" {
		f.OrderID = fmt.Sprintf("%d", g.nextID)
	}
	if f.Price == 0 {
		f.Price = req.Price
	}
	if f.Volume == 0 {
		f.Volume = req.Volume
	}
	if req.Action == types.ActionDeal {
		if req.PositionTicket != 0 {
			g.removeLocked(req.PositionTicket)
		} else {
			dir := types.Long
			if req.Side == types.SideSell {
				dir = types.Short
			}
			g.Open = append(g.Open, types.Position{
				Ticket:     uint64(1000 + g.nextID),
				Symbol:     req.Symbol,
				Direction:  dir,
				Volume:     f.Volume,
				OpenPrice:  f.Price,
				StopLoss:   req.StopLoss,
				TakeProfit: req.TakeProfit,
			})
		}
	}
	return f
}

func (g *Gateway) removeLocked(ticket uint64) {
	kept := g.Open[:0]
	for _, p := range g.Open {
		if p.Ticket != ticket {
			kept = append(kept, p)
		}
	}
	g.Open = kept
}

func (g *Gateway) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Selected = append(g.Selected, symbol)
	return g.SelectOK, nil
}

// Sent returns a copy of the recorded requests.
func (g *Gateway) Sent() []types.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]types.OrderRequest(nil), g.Requests...)
}

// Session is a controllable connection.
type Session struct {
	mu         sync.Mutex
	Up         bool
	ReconnErr  error
	Reconnects int
	Closed     bool
}

var _ interfaces.Session = (*Session)(nil)

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Up = true
	return nil
}

func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reconnects++
	if s.ReconnErr != nil {
		return s.ReconnErr
	}
	s.Up = true
	return nil
}

func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Up = false
	s.Closed = true
}

func (s *Session) Connected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Up
}
