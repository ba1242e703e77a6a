package sizing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/torra/internal/domain"
)

var fee = decimal.RequireFromString("0.999")

// step = mantissa * 10^-exp
func stepOf(mantissa, exp int) decimal.Decimal {
	return decimal.NewFromInt(int64(mantissa)).Shift(int32(-exp))
}

func TestFloorToStep_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("floor is at most q and a multiple of step", prop.ForAll(
		func(units int64, mantissa, exp int) bool {
			q := decimal.NewFromInt(units).Shift(-8)
			step := stepOf(mantissa, exp)
			f := FloorToStep(q, step)
			_, r := f.QuoRem(step, 0)
			return f.LessThanOrEqual(q) && r.IsZero() && q.Sub(f).LessThan(step)
		},
		gen.Int64Range(0, 1_000_000_000_000),
		gen.IntRange(1, 9),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

func TestSizeSellEntireBalance_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("never sells more than held, dust non-negative", prop.ForAll(
		func(units int64, exp int, minQtyUnits int64) bool {
			balance := decimal.NewFromInt(units).Shift(-8)
			rules := domain.SymbolRules{
				StepSize: stepOf(1, exp),
				MinQty:   decimal.NewFromInt(minQtyUnits).Shift(-6),
			}
			sell, err := SizeSellEntireBalance(balance, decimal.NewFromInt(3), rules)
			if sell.Dust.IsNegative() || sell.Quantity.GreaterThan(balance) {
				return false
			}
			if err != nil {
				return sell.Quantity.IsZero() && sell.Dust.Equal(balance)
			}
			return sell.Quantity.Add(sell.Dust).Equal(balance)
		},
		gen.Int64Range(0, 10_000_000_000),
		gen.IntRange(0, 8),
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestBuySellRoundTrip_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("selling a filled buy yields a rounded quantity or an explicit rejection", prop.ForAll(
		func(spendCents, priceUnits int64, exp int) bool {
			spend := decimal.NewFromInt(spendCents).Shift(-2)
			price := decimal.NewFromInt(priceUnits).Shift(-4)
			rules := domain.SymbolRules{
				StepSize:    stepOf(1, exp),
				MinQty:      stepOf(1, exp),
				MinNotional: decimal.NewFromInt(5),
			}

			qty, err := SizeBuy(spend.Div(price), price, rules)
			if err != nil {
				return true
			}
			held := qty.Mul(fee)
			sell, err := SizeSellEntireBalance(held, price, rules)
			if err != nil {
				_, ok := err.(*RejectionError)
				return ok && sell.Dust.Equal(held)
			}
			return FloorToStep(sell.Quantity, rules.StepSize).Equal(sell.Quantity) &&
				sell.Quantity.LessThanOrEqual(held)
		},
		gen.Int64Range(100, 10_000_000),
		gen.Int64Range(1, 1_000_000_000),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
