package brokerobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"atr-trading-bot/internal/interfaces"
	"atr-trading-bot/internal/logger"
	"atr-trading-bot/internal/trace"
	"atr-trading-bot/internal/types"
)

// observableGateway wraps a Gateway with logging and tracing
type observableGateway struct {
	gw interfaces.Gateway
}

// Compile-time interface check
var _ interfaces.Gateway = (*observableGateway)(nil)

// Wrap wraps a gateway with observability middleware
func Wrap(gw interfaces.Gateway) interfaces.Gateway {
	return &observableGateway{
		gw: gw,
	}
}

func (og *observableGateway) AccountInfo(ctx context.Context) (types.AccountSnapshot, error) {
	ctx, span := trace.StartSpan(ctx, "broker.AccountInfo")
	defer span.End()

	acct, err := og.gw.AccountInfo(ctx)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch account info", err)
		return acct, err
	}

	logger.DebugSkip(ctx, 1, "Account info fetched",
		"balance", acct.Balance,
		"equity", acct.Equity,
		"free_margin", acct.FreeMargin,
	)
	return acct, nil
}

func (og *observableGateway) SymbolInfo(ctx context.Context, symbol string) (types.SymbolMetadata, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SymbolInfo")
	defer span.End()

	meta, err := og.gw.SymbolInfo(ctx, symbol)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch symbol info", err, "symbol", symbol)
		return meta, err
	}
	return meta, nil
}

func (og *observableGateway) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Tick")
	defer span.End()

	tick, err := og.gw.Tick(ctx, symbol)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch tick", err, "symbol", symbol)
		return tick, err
	}

	logger.DebugSkip(ctx, 1, "Tick fetched", "symbol", symbol, "bid", tick.Bid, "ask", tick.Ask)
	return tick, nil
}

func (og *observableGateway) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Positions")
	defer span.End()

	positions, err := og.gw.Positions(ctx, symbol)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err, "symbol", symbol)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Positions fetched", "symbol", symbol, "count", len(positions))
	return positions, nil
}

func (og *observableGateway) PositionsTotal(ctx context.Context) (int, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PositionsTotal")
	defer span.End()

	n, err := og.gw.PositionsTotal(ctx)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to count positions", err)
	}
	return n, err
}

// OrderSend submits an order with observability
func (og *observableGateway) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error) {
	ctx, span := trace.StartSpan(ctx, "broker.OrderSend")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Sending order",
		"symbol", req.Symbol,
		"side", req.Side.String(),
		"volume", req.Volume,
		"price", req.Price,
		"fill", req.Fill.String(),
		"ticket", req.PositionTicket,
		"client_id", req.ClientID,
	)

	out, err := og.gw.OrderSend(ctx, req)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Order delivery failed", err,
			"symbol", req.Symbol,
			"client_id", req.ClientID,
		)
		return out, err
	}

	trace.AddEvent(ctx, "order.outcome",
		attribute.String("symbol", req.Symbol),
		attribute.String("outcome", types.OutcomeName(out)),
	)
	logger.InfoSkip(ctx, 1, "Order answered",
		"symbol", req.Symbol,
		"outcome", types.OutcomeName(out),
		"detail", types.Describe(out),
		"client_id", req.ClientID,
	)
	return out, nil
}

func (og *observableGateway) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SymbolSelect")
	defer span.End()

	ok, err := og.gw.SymbolSelect(ctx, symbol, enable)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to select symbol", err, "symbol", symbol)
		return false, err
	}
	logger.InfoSkip(ctx, 1, "Symbol selection", "symbol", symbol, "enable", enable, "ok", ok)
	return ok, nil
}
