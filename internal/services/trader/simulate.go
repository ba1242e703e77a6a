// Package trader provides the paper venue: an in-memory account that fills
// orders at live public prices and settles bracket exits as prices cross them.
package trader

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/exchange"
	"github.com/vadiminshakov/torra/internal/services/sizing"
)

// DefaultFee is the taker fee charged on every simulated fill.
var DefaultFee = decimal.RequireFromString("0.001")

type pricer interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type rulesGetter interface {
	Get(ctx context.Context, symbol string) (domain.SymbolRules, error)
}

type paperBracket struct {
	id    int64
	pair  domain.Pair
	order domain.BracketOrder
}

// SimulateTrader is a spot paper account. Fees are taken from the received
// asset, so buys leave realistic dust behind.
type SimulateTrader struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	quote    string
	wallet   map[string]decimal.Decimal
	locked   map[string]decimal.Decimal
	brackets map[int64]*paperBracket
	pricer   pricer
	rules    rulesGetter
	fee      decimal.Decimal
	readOnly bool
	nextID   int64
}

// Option configures a SimulateTrader.
type Option func(*SimulateTrader)

// WithFee sets the fee fraction charged per fill.
func WithFee(fee decimal.Decimal) Option {
	return func(t *SimulateTrader) {
		t.fee = fee
	}
}

// WithReadOnly suppresses every mutating call.
func WithReadOnly(readOnly bool) Option {
	return func(t *SimulateTrader) {
		t.readOnly = readOnly
	}
}

// NewSimulateTrader creates a paper account holding balance of quote.
func NewSimulateTrader(logger *zap.Logger, quote string, balance decimal.Decimal, pricer pricer, rules rulesGetter, opts ...Option) (*SimulateTrader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pricer == nil {
		return nil, errors.New("pricer is required for SimulateTrader")
	}
	if rules == nil {
		return nil, errors.New("rules source is required for SimulateTrader")
	}
	t := &SimulateTrader{
		logger:   logger,
		quote:    quote,
		wallet:   map[string]decimal.Decimal{quote: balance},
		locked:   map[string]decimal.Decimal{},
		brackets: map[int64]*paperBracket{},
		pricer:   pricer,
		rules:    rules,
		fee:      DefaultFee,
	}
	for _, opt := range opts {
		opt(t)
	}
	logger.Info("simulate init",
		zap.String("quote", quote),
		zap.String("balance", balance.String()),
		zap.String("fee", t.fee.String()))
	return t, nil
}

// ReadOnly reports whether mutating calls are suppressed.
func (t *SimulateTrader) ReadOnly() bool {
	return t.readOnly
}

// SupportsQuoteOrders reports that market buys may be sized in quote notional.
func (t *SimulateTrader) SupportsQuoteOrders() bool {
	return true
}

// LastPrice returns the live public price.
func (t *SimulateTrader) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return t.pricer.LastPrice(ctx, symbol)
}

// FreeBalance returns the unlocked amount of asset.
func (t *SimulateTrader) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	t.settle(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wallet[asset], nil
}

// Balances returns every non-empty asset.
func (t *SimulateTrader) Balances(ctx context.Context) ([]domain.Balance, error) {
	t.settle(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()

	assets := map[string]struct{}{}
	for a := range t.wallet {
		assets[a] = struct{}{}
	}
	for a := range t.locked {
		assets[a] = struct{}{}
	}
	out := make([]domain.Balance, 0, len(assets))
	for a := range assets {
		b := domain.Balance{Asset: a, Free: t.wallet[a], Locked: t.locked[a]}
		if b.Total().IsZero() {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// Equity returns free plus locked quote.
func (t *SimulateTrader) Equity(ctx context.Context, quote string) (decimal.Decimal, error) {
	t.settle(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wallet[quote].Add(t.locked[quote]), nil
}

// Snapshot describes the paper account.
func (t *SimulateTrader) Snapshot(ctx context.Context) domain.EnvSnapshot {
	balances, _ := t.Balances(ctx)
	return domain.EnvSnapshot{
		Venue:    domain.VenuePaper,
		ReadOnly: t.readOnly,
		Balances: balances,
	}
}

// PlaceMarketOrder fills a market order at the current price.
func (t *SimulateTrader) PlaceMarketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error) {
	if t.readOnly {
		t.logger.Info("read-only, simulated order suppressed", zap.String("symbol", intent.Symbol))
		return domain.OrderResult{Symbol: intent.Symbol, Side: intent.Side, NoOp: true}, nil
	}

	pair, err := domain.PairFromSymbol(intent.Symbol, t.quote)
	if err != nil {
		return domain.OrderResult{}, err
	}
	rules, err := t.rules.Get(ctx, intent.Symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	price, err := t.pricer.LastPrice(ctx, intent.Symbol)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to get price for simulated order")
	}
	if !price.IsPositive() {
		return domain.OrderResult{}, &exchange.RequestError{
			Kind: exchange.KindMalformed,
			Path: "paper order",
			Msg:  "no usable price for " + intent.Symbol + ": " + price.String(),
			Err:  exchange.ErrNoData,
		}
	}

	qty := intent.Quantity
	if intent.QuoteQty.IsPositive() {
		if err := sizing.ValidateQuoteSpend(intent.QuoteQty, rules); err != nil {
			return domain.OrderResult{}, exchange.NewFilterViolation("paper order", err)
		}
		qty = sizing.FloorToStep(intent.QuoteQty.Div(price), rules.StepSize)
	}
	if err := sizing.ValidateQuantity(qty, price, rules); err != nil {
		return domain.OrderResult{}, exchange.NewFilterViolation("paper order", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	one := decimal.NewFromInt(1)
	notional := qty.Mul(price)
	switch intent.Side {
	case domain.SideBuy:
		if t.wallet[pair.To].LessThan(notional) {
			return domain.OrderResult{}, insufficient(pair.To, t.wallet[pair.To], notional)
		}
		t.wallet[pair.To] = t.wallet[pair.To].Sub(notional)
		t.wallet[pair.From] = t.wallet[pair.From].Add(qty.Mul(one.Sub(t.fee)))
	case domain.SideSell:
		if t.wallet[pair.From].LessThan(qty) {
			return domain.OrderResult{}, insufficient(pair.From, t.wallet[pair.From], qty)
		}
		t.wallet[pair.From] = t.wallet[pair.From].Sub(qty)
		t.wallet[pair.To] = t.wallet[pair.To].Add(notional.Mul(one.Sub(t.fee)))
	default:
		return domain.OrderResult{}, errors.Errorf("unknown side: %s", intent.Side)
	}

	t.nextID++
	t.logger.Info("Simulated market order executed",
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()))

	return domain.OrderResult{
		OrderID:       t.nextID,
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		ExecutedQty:   qty,
		AvgPrice:      price,
		CumQuote:      notional,
	}, nil
}

// PlaceBracket locks the base quantity until one leg fills or the bracket is cancelled.
func (t *SimulateTrader) PlaceBracket(ctx context.Context, b domain.BracketOrder) (domain.BracketResult, error) {
	if t.readOnly {
		t.logger.Info("read-only, simulated bracket suppressed", zap.String("symbol", b.Symbol))
		return domain.BracketResult{NoOp: true}, nil
	}

	pair, err := domain.PairFromSymbol(b.Symbol, t.quote)
	if err != nil {
		return domain.BracketResult{}, err
	}
	rules, err := t.rules.Get(ctx, b.Symbol)
	if err != nil {
		return domain.BracketResult{}, err
	}
	if err := sizing.ValidateBracket(b, rules); err != nil {
		return domain.BracketResult{}, exchange.NewFilterViolation("paper bracket", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.wallet[pair.From].LessThan(b.Quantity) {
		return domain.BracketResult{}, insufficient(pair.From, t.wallet[pair.From], b.Quantity)
	}
	t.wallet[pair.From] = t.wallet[pair.From].Sub(b.Quantity)
	t.locked[pair.From] = t.locked[pair.From].Add(b.Quantity)

	t.nextID++
	t.brackets[t.nextID] = &paperBracket{id: t.nextID, pair: pair, order: b}
	t.logger.Info("Simulated bracket placed",
		zap.String("symbol", b.Symbol),
		zap.String("qty", b.Quantity.String()),
		zap.String("take_profit", b.TakeProfit.String()),
		zap.String("stop", b.StopPrice.String()))

	return domain.BracketResult{OrderListID: t.nextID}, nil
}

// OpenOrders lists both legs of every live bracket, for every symbol when symbol is empty.
func (t *SimulateTrader) OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	t.settle(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int64, 0, len(t.brackets))
	for id, br := range t.brackets {
		if symbol == "" || br.order.Symbol == symbol {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.OpenOrder, 0, 2*len(ids))
	for _, id := range ids {
		o := t.brackets[id].order
		out = append(out,
			domain.OpenOrder{Symbol: o.Symbol, OrderID: id, Side: domain.SideSell, Type: "LIMIT_MAKER", Price: o.TakeProfit, OrigQty: o.Quantity, Status: "NEW"},
			domain.OpenOrder{Symbol: o.Symbol, OrderID: id, Side: domain.SideSell, Type: "STOP_LOSS_LIMIT", Price: o.StopLimitPrice, OrigQty: o.Quantity, Status: "NEW"},
		)
	}
	return out, nil
}

// CancelOpenOrders cancels brackets on symbol and releases their base.
func (t *SimulateTrader) CancelOpenOrders(ctx context.Context, symbol string) error {
	if t.readOnly {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, br := range t.brackets {
		if br.order.Symbol != symbol {
			continue
		}
		base := br.pair.From
		t.locked[base] = t.locked[base].Sub(br.order.Quantity)
		t.wallet[base] = t.wallet[base].Add(br.order.Quantity)
		delete(t.brackets, id)
		t.logger.Info("Simulated bracket cancelled", zap.String("symbol", symbol), zap.Int64("id", id))
	}
	return nil
}

// ClosePosition cancels brackets on pair and sells the free base balance.
func (t *SimulateTrader) ClosePosition(ctx context.Context, pair domain.Pair) (domain.OrderResult, error) {
	symbol := pair.Symbol()
	if t.readOnly {
		return domain.OrderResult{Symbol: symbol, Side: domain.SideSell, NoOp: true}, nil
	}
	if err := t.CancelOpenOrders(ctx, symbol); err != nil {
		return domain.OrderResult{}, err
	}
	free, err := t.FreeBalance(ctx, pair.From)
	if err != nil {
		return domain.OrderResult{}, err
	}
	rules, err := t.rules.Get(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	price, err := t.pricer.LastPrice(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	sell, err := sizing.SizeSellEntireBalance(free, price, rules)
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(err, "nothing sellable on %s", symbol)
	}
	return t.PlaceMarketOrder(ctx, domain.OrderIntent{Symbol: symbol, Side: domain.SideSell, Quantity: sell.Quantity, RefPrice: price})
}

// settle fills brackets whose take-profit or stop has been crossed.
func (t *SimulateTrader) settle(ctx context.Context) {
	t.mu.RLock()
	symbols := map[string]struct{}{}
	for _, br := range t.brackets {
		symbols[br.order.Symbol] = struct{}{}
	}
	t.mu.RUnlock()
	if len(symbols) == 0 {
		return
	}

	prices := make(map[string]decimal.Decimal, len(symbols))
	for s := range symbols {
		p, err := t.pricer.LastPrice(ctx, s)
		if err != nil || !p.IsPositive() {
			t.logger.Warn("failed to price bracket for settlement",
				zap.String("symbol", s),
				zap.String("price", p.String()),
				zap.Error(err))
			continue
		}
		prices[s] = p
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	one := decimal.NewFromInt(1)
	for id, br := range t.brackets {
		p, ok := prices[br.order.Symbol]
		if !ok {
			continue
		}
		var fill decimal.Decimal
		var leg string
		switch {
		case p.GreaterThanOrEqual(br.order.TakeProfit):
			fill, leg = br.order.TakeProfit, "take_profit"
		case p.LessThanOrEqual(br.order.StopPrice):
			fill, leg = br.order.StopLimitPrice, "stop_loss"
		default:
			continue
		}
		base, quote := br.pair.From, br.pair.To
		t.locked[base] = t.locked[base].Sub(br.order.Quantity)
		t.wallet[quote] = t.wallet[quote].Add(br.order.Quantity.Mul(fill).Mul(one.Sub(t.fee)))
		delete(t.brackets, id)
		t.logger.Info("Simulated bracket filled",
			zap.String("symbol", br.order.Symbol),
			zap.String("leg", leg),
			zap.String("price", fill.String()))
	}
}

func insufficient(asset string, have, need decimal.Decimal) error {
	return &exchange.RequestError{
		Kind: exchange.KindInsufficientFunds,
		Path: "paper order",
		Msg:  "insufficient " + asset + " balance: have " + have.String() + " need " + need.String(),
	}
}
