package domain

import "github.com/shopspring/decimal"

// RankingRow is one symbol's trailing performance.
// PriceAgo and Return are absent when the historical price could not be fetched.
type RankingRow struct {
	Symbol      string              `json:"symbol"`
	PriceNow    decimal.Decimal     `json:"price_now"`
	PriceAgo    decimal.NullDecimal `json:"price_ago"`
	Return      decimal.NullDecimal `json:"return"`
	QuoteVolume decimal.Decimal     `json:"quote_volume"`
}

// HasReturn reports whether the trailing return is known.
func (r RankingRow) HasReturn() bool {
	return r.Return.Valid
}
