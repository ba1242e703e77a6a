package domain

import "github.com/shopspring/decimal"

var bpsFactor = decimal.NewFromInt(10000)

// Ticker is a 24h rolling window summary of a symbol.
type Ticker struct {
	Symbol      string
	LastPrice   decimal.Decimal
	QuoteVolume decimal.Decimal
}

// BookTop is the best bid and ask of a symbol.
type BookTop struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// SpreadBps returns (ask-bid)/mid in basis points, zero for an empty book.
func (b BookTop) SpreadBps() decimal.Decimal {
	mid := b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
	if mid.Sign() <= 0 {
		return decimal.Zero
	}
	return b.Ask.Sub(b.Bid).Div(mid).Mul(bpsFactor)
}

// SymbolQuote is a ranking universe member, fresh per cycle.
type SymbolQuote struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"last_price"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	SpreadBps   decimal.Decimal `json:"spread_bps"`
}
