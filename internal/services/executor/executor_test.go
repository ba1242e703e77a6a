package executor

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/exchange"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeVenue struct {
	mu          sync.Mutex
	price       decimal.Decimal
	quoteFree   decimal.Decimal
	baseSeq     []decimal.Decimal
	baseCalls   int
	quoteOrders bool
	fill        domain.OrderResult
	buyErr      error
	bracketErr  error
	intents     []domain.OrderIntent
	brackets    []domain.BracketOrder
}

func (f *fakeVenue) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeVenue) FreeBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if asset == "USDT" {
		return f.quoteFree, nil
	}
	i := f.baseCalls
	f.baseCalls++
	if len(f.baseSeq) == 0 {
		return decimal.Zero, nil
	}
	if i >= len(f.baseSeq) {
		i = len(f.baseSeq) - 1
	}
	return f.baseSeq[i], nil
}

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderResult, error) {
	f.intents = append(f.intents, intent)
	if f.buyErr != nil {
		return domain.OrderResult{}, f.buyErr
	}
	return f.fill, nil
}

func (f *fakeVenue) PlaceBracket(_ context.Context, b domain.BracketOrder) (domain.BracketResult, error) {
	f.brackets = append(f.brackets, b)
	if f.bracketErr != nil {
		return domain.BracketResult{}, f.bracketErr
	}
	return domain.BracketResult{OrderListID: 77}, nil
}

func (f *fakeVenue) SupportsQuoteOrders() bool { return f.quoteOrders }

type fakeRules struct {
	rules       domain.SymbolRules
	invalidated []string
}

func (r *fakeRules) Get(context.Context, string) (domain.SymbolRules, error) {
	return r.rules, nil
}

func (r *fakeRules) Invalidate(symbol string) {
	r.invalidated = append(r.invalidated, symbol)
}

func solRules() *fakeRules {
	return &fakeRules{rules: domain.SymbolRules{
		Symbol:      "SOLUSDT",
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		TickSize:    d("0.01"),
		MinNotional: d("5"),
	}}
}

func candidate() domain.Decision {
	ret := decimal.NewNullDecimal(d("-0.05"))
	return domain.Decision{Kind: domain.DecisionCandidateFound, Symbol: "SOLUSDT", Return: ret}
}

func newVenue() *fakeVenue {
	return &fakeVenue{
		price:       d("100"),
		quoteFree:   d("1000"),
		quoteOrders: true,
		baseSeq:     []decimal.Decimal{d("9.8901")},
		fill:        domain.OrderResult{Symbol: "SOLUSDT", Side: domain.SideBuy, ExecutedQty: d("9.9"), AvgPrice: d("100"), CumQuote: d("990")},
	}
}

func newExecutor(v *fakeVenue, r *fakeRules) *Executor {
	return New(zap.NewNop(), v, r, "USDT", WithSettleDelay(0), WithSettlePolls(3, 0))
}

func TestEnter_HappyPath(t *testing.T) {
	v, r := newVenue(), solRules()
	res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.Entered)
	assert.False(t, res.Exposure)
	assert.Equal(t, []State{StateIdle, StateSizing, StateBuying, StateAwaitingSettle, StateSizingSell, StatePlacingExit, StateDone}, res.Trace)

	require.Len(t, v.intents, 1)
	assert.True(t, d("990").Equal(v.intents[0].QuoteQty), "spend is 99%% of available")
	assert.True(t, v.intents[0].Quantity.IsZero())

	require.Len(t, v.brackets, 1)
	b := v.brackets[0]
	assert.True(t, d("9.89").Equal(b.Quantity), "sized from the observed balance")
	assert.True(t, d("102").Equal(b.TakeProfit))
	assert.True(t, d("98").Equal(b.StopPrice))
	assert.True(t, d("97.90").Equal(b.StopLimitPrice))

	assert.True(t, d("0.0001").Equal(res.Dust))
	assert.Contains(t, res.Note, "dust")
	assert.Equal(t, int64(77), res.Bracket.OrderListID)
}

func TestEnter_BaseQuantityWithoutQuoteOrders(t *testing.T) {
	v, r := newVenue(), solRules()
	v.quoteOrders = false
	_, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
	require.NoError(t, err)
	require.Len(t, v.intents, 1)
	assert.True(t, d("9.9").Equal(v.intents[0].Quantity))
	assert.True(t, v.intents[0].QuoteQty.IsZero())
}

func TestEnter_ReadOnly(t *testing.T) {
	v, r := newVenue(), solRules()
	v.fill = domain.OrderResult{Symbol: "SOLUSDT", NoOp: true}
	res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.False(t, res.Entered)
	assert.Empty(t, v.brackets)
	assert.Contains(t, res.Note, "Read-only")
}

func TestEnter_CleanFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(v *fakeVenue, r *fakeRules)
		target error
	}{
		{
			name:   "no funds",
			setup:  func(v *fakeVenue, _ *fakeRules) { v.quoteFree = decimal.Zero },
			target: ErrNoFunds,
		},
		{
			name:   "spend above available",
			setup:  func(v *fakeVenue, r *fakeRules) { v.quoteFree = d("5") },
			target: ErrSpendOverBalance,
		},
		{
			name: "insufficient funds on buy",
			setup: func(v *fakeVenue, _ *fakeRules) {
				v.buyErr = &exchange.RequestError{Kind: exchange.KindInsufficientFunds}
			},
			target: exchange.ErrInsufficientFunds,
		},
		{
			name:   "buy executed nothing",
			setup:  func(v *fakeVenue, _ *fakeRules) { v.fill.ExecutedQty = decimal.Zero },
			target: ErrNothingFilled,
		},
		{
			name:   "zero price",
			setup:  func(v *fakeVenue, _ *fakeRules) { v.price = decimal.Zero },
			target: ErrInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, r := newVenue(), solRules()
			tt.setup(v, r)
			res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.NotErrorIs(t, err, ErrPartialExecution)
			assert.Equal(t, StateFailed, res.State)
			assert.False(t, res.Entered)
			assert.False(t, res.Exposure)
			assert.False(t, strings.HasPrefix(res.Note, ExposurePrefix))
			assert.Empty(t, v.brackets)
			assert.Zero(t, v.baseCalls)
		})
	}
}

func TestEnter_ZeroPriceWithoutQuoteOrders(t *testing.T) {
	v, r := newVenue(), solRules()
	v.quoteOrders = false
	v.price = decimal.Zero

	res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, v.intents)
}

func TestEnter_NotCandidate(t *testing.T) {
	v, r := newVenue(), solRules()
	_, err := newExecutor(v, r).Enter(context.Background(), domain.Decision{Kind: domain.DecisionCooldown}, domain.DefaultStrategyConfig())
	assert.ErrorIs(t, err, ErrNotCandidate)
	assert.Empty(t, v.intents)
}

func TestEnter_BuyFilterViolationInvalidatesRules(t *testing.T) {
	v, r := newVenue(), solRules()
	v.buyErr = exchange.NewFilterViolation("POST /api/v3/order", errors.New("notional"))
	_, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
	assert.ErrorIs(t, err, exchange.ErrFilterViolation)
	assert.Equal(t, []string{"SOLUSDT"}, r.invalidated)
}

func TestEnter_Settle(t *testing.T) {
	t.Run("polls until the balance arrives", func(t *testing.T) {
		v, r := newVenue(), solRules()
		v.baseSeq = []decimal.Decimal{decimal.Zero, d("9.9")}
		res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
		require.NoError(t, err)
		assert.Equal(t, 2, v.baseCalls)
		assert.True(t, d("9.9").Equal(res.SellQty))
	})

	t.Run("uses the last observation after three polls", func(t *testing.T) {
		v, r := newVenue(), solRules()
		v.baseSeq = []decimal.Decimal{d("1"), d("2"), d("5")}
		res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
		require.NoError(t, err)
		assert.Equal(t, 3, v.baseCalls)
		assert.True(t, d("5").Equal(res.SellQty))
	})
}

func TestEnter_Exposure(t *testing.T) {
	t.Run("nothing sellable after the buy", func(t *testing.T) {
		v, r := newVenue(), solRules()
		v.baseSeq = []decimal.Decimal{d("0.0004")}
		res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPartialExecution)

		var xe *ExposureError
		require.True(t, errors.As(err, &xe))
		assert.Equal(t, StateSizingSell, xe.Stage)
		assert.True(t, res.Exposure)
		assert.True(t, res.Entered)
		assert.True(t, d("0.0004").Equal(res.Dust))
		assert.True(t, strings.HasPrefix(res.Note, ExposurePrefix))
		assert.Empty(t, v.brackets)
	})

	t.Run("bracket rejected", func(t *testing.T) {
		v, r := newVenue(), solRules()
		v.bracketErr = exchange.NewFilterViolation("POST /api/v3/order/oco", errors.New("price filter"))
		res, err := newExecutor(v, r).Enter(context.Background(), candidate(), domain.DefaultStrategyConfig())
		assert.ErrorIs(t, err, ErrPartialExecution)
		assert.ErrorIs(t, err, exchange.ErrFilterViolation)
		assert.Equal(t, []string{"SOLUSDT"}, r.invalidated)
		assert.Equal(t, StateFailed, res.State)
		assert.True(t, strings.HasPrefix(res.Note, ExposurePrefix))
	})
}
