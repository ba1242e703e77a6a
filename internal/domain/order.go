package domain

import "github.com/shopspring/decimal"

// Side order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderIntent describes a market order before submission.
// Exactly one of Quantity (base) or QuoteQty (quote notional) is set.
// RefPrice is the price the order was sized at and is used for notional checks.
type OrderIntent struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	QuoteQty      decimal.Decimal
	RefPrice      decimal.Decimal
	ClientOrderID string
}

// OrderResult is the exchange's view of an executed market order.
// NoOp is set when the order was suppressed by read-only mode.
type OrderResult struct {
	OrderID       int64           `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CumQuote      decimal.Decimal `json:"cum_quote"`
	NoOp          bool            `json:"no_op"`
}

// BracketOrder is a sell-side one-cancels-other exit: a take-profit limit leg
// and a stop-limit leg covering the same quantity.
type BracketOrder struct {
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	StopLimitPrice decimal.Decimal `json:"stop_limit_price"`
}

// BracketResult identifies a placed bracket.
type BracketResult struct {
	OrderListID int64 `json:"order_list_id"`
	NoOp        bool  `json:"no_op"`
}

// OpenOrder is a resting order on the exchange.
type OpenOrder struct {
	Symbol      string          `json:"symbol"`
	OrderID     int64           `json:"order_id"`
	Side        Side            `json:"side"`
	Type        string          `json:"type"`
	Price       decimal.Decimal `json:"price"`
	OrigQty     decimal.Decimal `json:"orig_qty"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	Status      string          `json:"status"`
	Time        int64           `json:"time"`
}
