// Package domain defines core data structures used throughout the trading engine.
package domain

import (
	"fmt"
	"strings"
)

// Pair spot trading pair.
type Pair struct {
	// From base asset.
	From string
	// To quote asset.
	To string
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the exchange symbol.
func (p Pair) Symbol() string {
	return p.From + p.To
}

// PairFromSymbol splits an exchange symbol quoted in quote into its assets.
func PairFromSymbol(symbol, quote string) (Pair, error) {
	if quote == "" || !strings.HasSuffix(symbol, quote) || len(symbol) == len(quote) {
		return Pair{}, fmt.Errorf("symbol %q is not quoted in %q", symbol, quote)
	}
	return Pair{From: strings.TrimSuffix(symbol, quote), To: quote}, nil
}
