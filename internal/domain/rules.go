package domain

import "github.com/shopspring/decimal"

// SymbolRules are the exchange filters a symbol's orders must satisfy.
// A zero step or tick means the dimension is not constrained.
type SymbolRules struct {
	Symbol      string          `json:"symbol"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	TickSize    decimal.Decimal `json:"tick_size"`
	MinNotional decimal.Decimal `json:"min_notional"`
	MinPrice    decimal.Decimal `json:"min_price"`
}
