package ranking

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/torra/internal/domain"
)

// stable coins and wrapped quote assets that never move enough to rank.
var stableBases = map[string]struct{}{
	"BUSD":  {},
	"FDUSD": {},
	"USDC":  {},
	"TUSD":  {},
	"DAI":   {},
}

// UniverseFilter narrows the tickers considered for ranking.
type UniverseFilter struct {
	Quote string
	// Allowed restricts symbols to this set when non-nil.
	Allowed        map[string]struct{}
	Blacklist      map[string]struct{}
	MinQuoteVolume decimal.Decimal
	// MaxSpreadBps is ignored when zero.
	MaxSpreadBps decimal.Decimal
}

// SelectUniverse picks the n most traded symbols quoted in filter.Quote.
func SelectUniverse(tickers []domain.Ticker, books map[string]domain.BookTop, filter UniverseFilter, n int) []domain.SymbolQuote {
	quotes := make([]domain.SymbolQuote, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, filter.Quote) || strings.HasPrefix(t.Symbol, filter.Quote) {
			continue
		}
		base := strings.TrimSuffix(t.Symbol, filter.Quote)
		if _, stable := stableBases[base]; stable {
			continue
		}
		if filter.Allowed != nil {
			if _, ok := filter.Allowed[t.Symbol]; !ok {
				continue
			}
		}
		if _, banned := filter.Blacklist[t.Symbol]; banned {
			continue
		}
		if t.QuoteVolume.LessThan(filter.MinQuoteVolume) {
			continue
		}

		q := domain.SymbolQuote{Symbol: t.Symbol, LastPrice: t.LastPrice, QuoteVolume: t.QuoteVolume}
		if b, ok := books[t.Symbol]; ok {
			q.SpreadBps = b.SpreadBps()
		}
		if filter.MaxSpreadBps.IsPositive() && q.SpreadBps.GreaterThan(filter.MaxSpreadBps) {
			continue
		}
		quotes = append(quotes, q)
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].QuoteVolume.GreaterThan(quotes[j].QuoteVolume)
	})
	if n >= 0 && len(quotes) > n {
		quotes = quotes[:n]
	}
	return quotes
}

// SortRows orders rows by ascending return with absent returns last.
// Ties keep their input order.
func SortRows(rows []domain.RankingRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.HasReturn() && b.HasReturn() {
			return a.Return.Decimal.LessThan(b.Return.Decimal)
		}
		return a.HasReturn() && !b.HasReturn()
	})
}
