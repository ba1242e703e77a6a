// Package sizing turns balances and prices into order quantities and exit
// prices that satisfy exchange filters. Quantities are only ever rounded down
// and never exceed the balance they were derived from.
package sizing

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/torra/internal/domain"
)

var (
	ErrZeroQuantity     = errors.New("quantity rounds to zero")
	ErrBelowMinQty      = errors.New("quantity below minimum")
	ErrBelowMinNotional = errors.New("notional below minimum")
	ErrStepMisaligned   = errors.New("quantity not aligned to step size")
	ErrTickMisaligned   = errors.New("price not aligned to tick size")
	ErrBelowMinPrice    = errors.New("price below minimum")
)

var (
	stopLimitMargin = decimal.RequireFromString("0.999")
	spendBuffer     = decimal.RequireFromString("1.05")
	spendShare      = decimal.RequireFromString("0.99")
)

// RejectionError names the violated constraint and by how much it was missed.
// Dust is the part of the balance that could not be sold.
type RejectionError struct {
	Constraint error
	Required   decimal.Decimal
	Actual     decimal.Decimal
	Dust       decimal.Decimal
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%v: required %s, got %s (short by %s)",
		e.Constraint, e.Required, e.Actual, e.Shortfall())
	if e.Dust.IsPositive() {
		msg += fmt.Sprintf(", dust %s", e.Dust)
	}
	return msg
}

func (e *RejectionError) Unwrap() error { return e.Constraint }

// Shortfall returns how far Actual is below Required.
func (e *RejectionError) Shortfall() decimal.Decimal {
	d := e.Required.Sub(e.Actual)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// SellSize is a sellable quantity and the remainder left behind.
type SellSize struct {
	Quantity decimal.Decimal `json:"quantity"`
	Dust     decimal.Decimal `json:"dust"`
}

// ExitLevels are the prices of a bracket exit.
type ExitLevels struct {
	TakeProfit     decimal.Decimal `json:"take_profit"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	StopLimitPrice decimal.Decimal `json:"stop_limit_price"`
}

// FloorToStep rounds q down to a multiple of step.
func FloorToStep(q, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return q
	}
	n, r := q.QuoRem(step, 0)
	if r.IsNegative() {
		n = n.Sub(decimal.NewFromInt(1))
	}
	return n.Mul(step)
}

// FloorToTick rounds p down to a multiple of tick.
func FloorToTick(p, tick decimal.Decimal) decimal.Decimal {
	return FloorToStep(p, tick)
}

// CeilToTick rounds p up to a multiple of tick.
func CeilToTick(p, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return p
	}
	n, r := p.QuoRem(tick, 0)
	if r.IsPositive() {
		n = n.Add(decimal.NewFromInt(1))
	}
	return n.Mul(tick)
}

// SizeBuy floors rawQty to the step size and checks it against the minimum
// quantity and minimum notional at price.
func SizeBuy(rawQty, price decimal.Decimal, rules domain.SymbolRules) (decimal.Decimal, error) {
	qty := FloorToStep(rawQty, rules.StepSize)
	if qty.Sign() <= 0 {
		return decimal.Zero, &RejectionError{Constraint: ErrZeroQuantity, Required: rules.StepSize, Actual: rawQty}
	}
	if qty.LessThan(rules.MinQty) {
		return decimal.Zero, &RejectionError{Constraint: ErrBelowMinQty, Required: rules.MinQty, Actual: qty}
	}
	if notional := qty.Mul(price); notional.LessThan(rules.MinNotional) {
		return decimal.Zero, &RejectionError{Constraint: ErrBelowMinNotional, Required: rules.MinNotional, Actual: notional}
	}
	return qty, nil
}

// SizeSellEntireBalance sizes a sell of everything actually held. The returned
// dust is filled in on rejection too, so callers can report what is stuck.
func SizeSellEntireBalance(balance, price decimal.Decimal, rules domain.SymbolRules) (SellSize, error) {
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	qty := FloorToStep(balance, rules.StepSize)
	dust := balance.Sub(qty)

	if qty.Sign() <= 0 {
		return SellSize{Dust: balance}, &RejectionError{Constraint: ErrZeroQuantity, Required: rules.StepSize, Actual: balance, Dust: balance}
	}
	if qty.LessThan(rules.MinQty) {
		return SellSize{Dust: balance}, &RejectionError{Constraint: ErrBelowMinQty, Required: rules.MinQty, Actual: qty, Dust: balance}
	}
	if notional := qty.Mul(price); notional.LessThan(rules.MinNotional) {
		return SellSize{Dust: balance}, &RejectionError{Constraint: ErrBelowMinNotional, Required: rules.MinNotional, Actual: notional, Dust: balance}
	}
	return SellSize{Quantity: qty, Dust: dust}, nil
}

// ExitPrices computes bracket prices around entry. The stop-limit leg sits
// slightly below the trigger and never below the exchange minimum price.
func ExitPrices(entry, takeProfitPct, stopLossPct decimal.Decimal, rules domain.SymbolRules) ExitLevels {
	one := decimal.NewFromInt(1)
	tp := CeilToTick(entry.Mul(one.Add(takeProfitPct)), rules.TickSize)
	sl := FloorToTick(entry.Mul(one.Sub(stopLossPct)), rules.TickSize)
	stopLimit := FloorToTick(sl.Mul(stopLimitMargin), rules.TickSize)
	if rules.MinPrice.IsPositive() && stopLimit.LessThan(rules.MinPrice) {
		stopLimit = rules.MinPrice
	}
	return ExitLevels{TakeProfit: tp, StopPrice: sl, StopLimitPrice: stopLimit}
}

// QuoteSpend is the quote amount to commit to a buy: 99% of what is available
// but never less than 5% above the minimum notional, floored to cents.
func QuoteSpend(minNotional, available decimal.Decimal) decimal.Decimal {
	return decimal.Max(minNotional.Mul(spendBuffer), available.Mul(spendShare)).RoundFloor(2)
}

// ValidateQuantity checks that qty is already rounded and large enough.
// The notional check is skipped when price is zero.
func ValidateQuantity(qty, price decimal.Decimal, rules domain.SymbolRules) error {
	if qty.Sign() <= 0 {
		return &RejectionError{Constraint: ErrZeroQuantity, Required: rules.StepSize, Actual: qty}
	}
	if !FloorToStep(qty, rules.StepSize).Equal(qty) {
		return &RejectionError{Constraint: ErrStepMisaligned, Required: rules.StepSize, Actual: qty}
	}
	if qty.LessThan(rules.MinQty) {
		return &RejectionError{Constraint: ErrBelowMinQty, Required: rules.MinQty, Actual: qty}
	}
	if price.IsPositive() {
		if notional := qty.Mul(price); notional.LessThan(rules.MinNotional) {
			return &RejectionError{Constraint: ErrBelowMinNotional, Required: rules.MinNotional, Actual: notional}
		}
	}
	return nil
}

// ValidatePrice checks that a limit or trigger price sits on the tick grid.
func ValidatePrice(price decimal.Decimal, rules domain.SymbolRules) error {
	if !FloorToTick(price, rules.TickSize).Equal(price) {
		return &RejectionError{Constraint: ErrTickMisaligned, Required: rules.TickSize, Actual: price}
	}
	if rules.MinPrice.IsPositive() && price.LessThan(rules.MinPrice) {
		return &RejectionError{Constraint: ErrBelowMinPrice, Required: rules.MinPrice, Actual: price}
	}
	return nil
}

// ValidateQuoteSpend checks a quote-notional market buy.
func ValidateQuoteSpend(quote decimal.Decimal, rules domain.SymbolRules) error {
	if quote.LessThan(rules.MinNotional) || quote.Sign() <= 0 {
		return &RejectionError{Constraint: ErrBelowMinNotional, Required: rules.MinNotional, Actual: quote}
	}
	return nil
}

// ValidateBracket checks every leg of a bracket exit. The take-profit leg
// carries the notional check.
func ValidateBracket(b domain.BracketOrder, rules domain.SymbolRules) error {
	if err := ValidateQuantity(b.Quantity, b.TakeProfit, rules); err != nil {
		return err
	}
	for _, p := range []decimal.Decimal{b.TakeProfit, b.StopPrice, b.StopLimitPrice} {
		if err := ValidatePrice(p, rules); err != nil {
			return err
		}
	}
	if !b.StopLimitPrice.LessThanOrEqual(b.StopPrice) || !b.StopPrice.LessThan(b.TakeProfit) {
		return errors.Errorf("bracket legs out of order: stop limit %s, stop %s, take profit %s",
			b.StopLimitPrice, b.StopPrice, b.TakeProfit)
	}
	return nil
}
