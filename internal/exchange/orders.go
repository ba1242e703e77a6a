package exchange

import (
	"context"

	binance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/services/sizing"
)

const (
	orderEndpoint       = "POST /api/v3/order"
	ocoEndpoint         = "POST /api/v3/order/oco"
	cancelOrderEndpoint = "DELETE /api/v3/openOrders"
	codeUnknownOrder    = -2011
)

// SupportsQuoteOrders reports that market buys may be sized in quote notional.
func (c *Client) SupportsQuoteOrders() bool {
	return true
}

func (c *Client) rulesFor(ctx context.Context, symbol string) (domain.SymbolRules, error) {
	if c.rules != nil {
		return c.rules.Get(ctx, symbol)
	}
	return c.SymbolRules(ctx, symbol)
}

// PlaceMarketOrder submits a market order. Quantities must already satisfy
// the symbol filters; violations are rejected without contacting the exchange.
func (c *Client) PlaceMarketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error) {
	if c.readOnly {
		c.logger.Info("read-only, market order suppressed",
			zap.String("symbol", intent.Symbol),
			zap.String("side", string(intent.Side)))
		return domain.OrderResult{Symbol: intent.Symbol, Side: intent.Side, NoOp: true}, nil
	}

	rules, err := c.rulesFor(ctx, intent.Symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if intent.QuoteQty.IsPositive() {
		err = sizing.ValidateQuoteSpend(intent.QuoteQty, rules)
	} else {
		err = sizing.ValidateQuantity(intent.Quantity, intent.RefPrice, rules)
	}
	if err != nil {
		return domain.OrderResult{}, NewFilterViolation(orderEndpoint, err)
	}

	clientID := intent.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	var resp *binance.CreateOrderResponse
	err = c.signed(ctx, orderEndpoint, func(ctx context.Context, opts ...binance.RequestOption) (err error) {
		svc := c.market.NewCreateOrderService().
			Symbol(intent.Symbol).
			Side(binance.SideType(intent.Side)).
			Type(binance.OrderTypeMarket).
			NewClientOrderID(clientID).
			NewOrderRespType(binance.NewOrderRespTypeFULL)
		if intent.QuoteQty.IsPositive() {
			svc = svc.QuoteOrderQty(intent.QuoteQty.String())
		} else {
			svc = svc.Quantity(intent.Quantity.String())
		}
		resp, err = svc.Do(ctx, opts...)
		return err
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(err, "failed to place market %s %s", intent.Side, intent.Symbol)
	}

	result := domain.OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: clientID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		ExecutedQty:   parseOrZero(resp.ExecutedQuantity),
		CumQuote:      parseOrZero(resp.CummulativeQuoteQuantity),
	}
	result.AvgPrice = averageFillPrice(resp.Fills, result.ExecutedQty, result.CumQuote)

	c.logger.Info("market order filled",
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.Int64("order_id", result.OrderID),
		zap.String("executed_qty", result.ExecutedQty.String()),
		zap.String("avg_price", result.AvgPrice.String()))
	return result, nil
}

func averageFillPrice(fills []*binance.Fill, executed, cumQuote decimal.Decimal) decimal.Decimal {
	qtySum, quoteSum := decimal.Zero, decimal.Zero
	for _, f := range fills {
		p, q := parseOrZero(f.Price), parseOrZero(f.Quantity)
		qtySum = qtySum.Add(q)
		quoteSum = quoteSum.Add(p.Mul(q))
	}
	if qtySum.IsPositive() {
		return quoteSum.Div(qtySum)
	}
	if executed.IsPositive() {
		return cumQuote.Div(executed)
	}
	return decimal.Zero
}

// PlaceBracket submits a sell OCO: a take-profit limit and a stop-limit leg.
func (c *Client) PlaceBracket(ctx context.Context, b domain.BracketOrder) (domain.BracketResult, error) {
	if c.readOnly {
		c.logger.Info("read-only, bracket suppressed", zap.String("symbol", b.Symbol))
		return domain.BracketResult{NoOp: true}, nil
	}

	rules, err := c.rulesFor(ctx, b.Symbol)
	if err != nil {
		return domain.BracketResult{}, err
	}
	if err := sizing.ValidateBracket(b, rules); err != nil {
		return domain.BracketResult{}, NewFilterViolation(ocoEndpoint, err)
	}

	var resp *binance.CreateOCOResponse
	err = c.signed(ctx, ocoEndpoint, func(ctx context.Context, opts ...binance.RequestOption) (err error) {
		resp, err = c.market.NewCreateOCOService().
			Symbol(b.Symbol).
			Side(binance.SideTypeSell).
			Quantity(b.Quantity.String()).
			Price(b.TakeProfit.String()).
			StopPrice(b.StopPrice.String()).
			StopLimitPrice(b.StopLimitPrice.String()).
			StopLimitTimeInForce(binance.TimeInForceTypeGTC).
			ListClientOrderID(uuid.NewString()).
			Do(ctx, opts...)
		return err
	})
	if err != nil {
		return domain.BracketResult{}, errors.Wrapf(err, "failed to place bracket on %s", b.Symbol)
	}

	c.logger.Info("bracket placed",
		zap.String("symbol", b.Symbol),
		zap.Int64("order_list_id", resp.OrderListID),
		zap.String("qty", b.Quantity.String()),
		zap.String("take_profit", b.TakeProfit.String()),
		zap.String("stop", b.StopPrice.String()),
		zap.String("stop_limit", b.StopLimitPrice.String()))
	return domain.BracketResult{OrderListID: resp.OrderListID}, nil
}

// CancelOpenOrders cancels every resting order on symbol. Having nothing to
// cancel is not an error.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	if c.readOnly {
		c.logger.Info("read-only, cancel suppressed", zap.String("symbol", symbol))
		return nil
	}

	err := c.signed(ctx, cancelOrderEndpoint, func(ctx context.Context, opts ...binance.RequestOption) error {
		_, err := c.market.NewCancelOpenOrdersService().Symbol(symbol).Do(ctx, opts...)
		return err
	})
	var re *RequestError
	if errors.As(err, &re) && re.Code == codeUnknownOrder {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to cancel open orders on %s", symbol)
	}
	return nil
}

// ClosePosition cancels resting orders on the pair and market-sells the free
// base balance floored to the step size.
func (c *Client) ClosePosition(ctx context.Context, pair domain.Pair) (domain.OrderResult, error) {
	symbol := pair.Symbol()
	if c.readOnly {
		c.logger.Info("read-only, close suppressed", zap.String("symbol", symbol))
		return domain.OrderResult{Symbol: symbol, Side: domain.SideSell, NoOp: true}, nil
	}

	if err := c.CancelOpenOrders(ctx, symbol); err != nil {
		return domain.OrderResult{}, err
	}
	free, err := c.FreeBalance(ctx, pair.From)
	if err != nil {
		return domain.OrderResult{}, err
	}
	rules, err := c.rulesFor(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	price, err := c.LastPrice(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	sell, err := sizing.SizeSellEntireBalance(free, price, rules)
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(err, "nothing sellable on %s", symbol)
	}

	return c.PlaceMarketOrder(ctx, domain.OrderIntent{
		Symbol:   symbol,
		Side:     domain.SideSell,
		Quantity: sell.Quantity,
		RefPrice: price,
	})
}
