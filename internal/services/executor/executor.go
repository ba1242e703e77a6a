// Package executor drives one entry cycle: size the spend, buy, wait for the
// balance to settle, then protect the position with a bracket exit.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/exchange"
	"github.com/vadiminshakov/torra/internal/metrics"
	"github.com/vadiminshakov/torra/internal/services/sizing"
	"github.com/vadiminshakov/torra/pkg/retrier"
)

// State is a step of the entry cycle.
type State string

const (
	StateIdle           State = "idle"
	StateSizing         State = "sizing"
	StateBuying         State = "buying"
	StateAwaitingSettle State = "awaiting_settle"
	StateSizingSell     State = "sizing_sell"
	StatePlacingExit    State = "placing_exit"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

const (
	defaultSettleDelay  = 3 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultSettlePolls  = 3

	// ExposurePrefix starts the note of every cycle that bought without an exit.
	ExposurePrefix = "UNMANAGED EXPOSURE"
)

var settledShare = decimal.RequireFromString("0.99")

var (
	ErrPartialExecution = errors.New("position opened without an exit order")
	ErrNotCandidate     = errors.New("decision is not an entry candidate")
	ErrNoFunds          = errors.New("no quote balance available")
	ErrSpendBelowMin    = errors.New("spend below minimum notional")
	ErrSpendOverBalance = errors.New("spend exceeds available balance")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrNothingFilled    = errors.New("market buy executed nothing")

	errNotSettled = errors.New("balance not settled")
)

type venue interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	PlaceMarketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error)
	PlaceBracket(ctx context.Context, b domain.BracketOrder) (domain.BracketResult, error)
	SupportsQuoteOrders() bool
}

type rulesCache interface {
	Get(ctx context.Context, symbol string) (domain.SymbolRules, error)
	Invalidate(symbol string)
}

// Result is the structured outcome of one cycle.
type Result struct {
	Symbol     string               `json:"symbol"`
	Entered    bool                 `json:"entered"`
	State      State                `json:"state"`
	Exposure   bool                 `json:"exposure"`
	Spend      decimal.Decimal      `json:"spend"`
	Quantity   decimal.Decimal      `json:"quantity"`
	EntryPrice decimal.Decimal      `json:"entry_price"`
	SellQty    decimal.Decimal      `json:"sell_qty"`
	Dust       decimal.Decimal      `json:"dust"`
	Exit       sizing.ExitLevels    `json:"exit"`
	Bracket    domain.BracketResult `json:"bracket"`
	Note       string               `json:"note"`
	Trace      []State              `json:"trace"`
}

// ExposureError reports a filled buy that has no exit order.
type ExposureError struct {
	Symbol string
	Held   decimal.Decimal
	Stage  State
	Err    error
}

func (e *ExposureError) Error() string {
	return fmt.Sprintf("%s holding %s %s at %s: %v", ExposurePrefix, e.Held, e.Symbol, e.Stage, e.Err)
}

func (e *ExposureError) Unwrap() error { return e.Err }

func (e *ExposureError) Is(target error) bool {
	return target == ErrPartialExecution
}

// Executor runs entry cycles. It is not safe for concurrent cycles; callers
// serialize them.
type Executor struct {
	logger       *zap.Logger
	venue        venue
	rules        rulesCache
	quote        string
	settleDelay  time.Duration
	pollInterval time.Duration
	polls        int
}

// Option configures an Executor.
type Option func(*Executor)

// WithSettleDelay sets the pause between the buy and the first balance poll.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.settleDelay = d
	}
}

// WithSettlePolls sets how many balance polls are made and how far apart.
func WithSettlePolls(n int, interval time.Duration) Option {
	return func(e *Executor) {
		if n > 0 {
			e.polls = n
		}
		e.pollInterval = interval
	}
}

// New creates an Executor trading against quote.
func New(logger *zap.Logger, v venue, rules rulesCache, quote string, opts ...Option) *Executor {
	e := &Executor{
		logger:       logger.With(zap.String("component", "executor")),
		venue:        v,
		rules:        rules,
		quote:        quote,
		settleDelay:  defaultSettleDelay,
		pollInterval: defaultPollInterval,
		polls:        defaultSettlePolls,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type cycle struct {
	res Result
}

func (c *cycle) enter(s State) {
	c.res.State = s
	c.res.Trace = append(c.res.Trace, s)
}

// Enter buys the decision's symbol and places its bracket exit. The returned
// error is nil only when the cycle ends in StateDone.
func (e *Executor) Enter(ctx context.Context, d domain.Decision, cfg domain.StrategyConfig) (Result, error) {
	c := &cycle{}
	c.res.Symbol = d.Symbol
	c.enter(StateIdle)

	res, err := e.run(ctx, c, d, cfg)
	metrics.Executions.WithLabelValues(string(res.State)).Inc()
	if res.Exposure {
		metrics.UnmanagedExposure.Inc()
	}
	return res, err
}

func (e *Executor) run(ctx context.Context, c *cycle, d domain.Decision, cfg domain.StrategyConfig) (Result, error) {
	if !d.IsCandidate() {
		return e.fail(c, ErrNotCandidate)
	}
	pair, err := domain.PairFromSymbol(d.Symbol, e.quote)
	if err != nil {
		return e.fail(c, err)
	}
	log := e.logger.With(zap.String("symbol", d.Symbol))

	c.enter(StateSizing)
	rules, err := e.rules.Get(ctx, d.Symbol)
	if err != nil {
		return e.fail(c, errors.Wrap(err, "failed to load symbol rules"))
	}
	price, err := e.venue.LastPrice(ctx, d.Symbol)
	if err != nil {
		return e.fail(c, errors.Wrap(err, "failed to get price"))
	}
	if !price.IsPositive() {
		return e.fail(c, errors.Wrapf(ErrInvalidPrice, "%s last price %s", d.Symbol, price))
	}
	available, err := e.venue.FreeBalance(ctx, e.quote)
	if err != nil {
		return e.fail(c, errors.Wrapf(err, "failed to read %s balance", e.quote))
	}
	if available.Sign() <= 0 {
		return e.fail(c, ErrNoFunds)
	}
	spend := sizing.QuoteSpend(rules.MinNotional, available)
	c.res.Spend = spend
	if spend.LessThan(rules.MinNotional) {
		return e.fail(c, errors.Wrapf(ErrSpendBelowMin, "spend %s, min notional %s", spend, rules.MinNotional))
	}
	if spend.GreaterThan(available) {
		return e.fail(c, errors.Wrapf(ErrSpendOverBalance, "spend %s, available %s %s", spend, available, e.quote))
	}

	c.enter(StateBuying)
	intent := domain.OrderIntent{Symbol: d.Symbol, Side: domain.SideBuy, RefPrice: price}
	if e.venue.SupportsQuoteOrders() {
		intent.QuoteQty = spend
	} else {
		qty, err := sizing.SizeBuy(spend.Div(price), price, rules)
		if err != nil {
			return e.fail(c, errors.Wrap(err, "failed to size buy"))
		}
		intent.Quantity = qty
	}
	order, err := e.venue.PlaceMarketOrder(ctx, intent)
	if err != nil {
		e.invalidateOnFilter(d.Symbol, err)
		return e.fail(c, errors.Wrap(err, "market buy failed"))
	}
	if order.NoOp {
		c.enter(StateDone)
		c.res.Note = fmt.Sprintf("Read-only: buy of %s for %s %s suppressed.", d.Symbol, spend, e.quote)
		log.Info("entry suppressed in read-only mode")
		return c.res, nil
	}
	if !order.ExecutedQty.IsPositive() {
		return e.fail(c, errors.Wrapf(ErrNothingFilled, "order %d executed %s", order.OrderID, order.ExecutedQty))
	}

	c.res.Entered = true
	c.res.Quantity = order.ExecutedQty
	c.res.EntryPrice = order.AvgPrice
	if !c.res.EntryPrice.IsPositive() {
		c.res.EntryPrice = price
	}
	log.Info("market buy filled",
		zap.String("qty", order.ExecutedQty.String()),
		zap.String("avg_price", c.res.EntryPrice.String()))

	c.enter(StateAwaitingSettle)
	held, err := e.awaitSettle(ctx, pair.From, order.ExecutedQty)
	if err != nil {
		return e.exposed(c, order.ExecutedQty, err)
	}

	c.enter(StateSizingSell)
	sell, err := sizing.SizeSellEntireBalance(held, c.res.EntryPrice, rules)
	c.res.Dust = sell.Dust
	if err != nil {
		return e.exposed(c, held, errors.Wrapf(err, "observed %s %s is not sellable", held, pair.From))
	}
	c.res.SellQty = sell.Quantity

	c.enter(StatePlacingExit)
	levels := sizing.ExitPrices(c.res.EntryPrice, cfg.TakeProfit, cfg.StopLoss, rules)
	c.res.Exit = levels
	bracket, err := e.venue.PlaceBracket(ctx, domain.BracketOrder{
		Symbol:         d.Symbol,
		Quantity:       sell.Quantity,
		TakeProfit:     levels.TakeProfit,
		StopPrice:      levels.StopPrice,
		StopLimitPrice: levels.StopLimitPrice,
	})
	if err != nil {
		e.invalidateOnFilter(d.Symbol, err)
		return e.exposed(c, held, errors.Wrap(err, "bracket exit failed"))
	}
	c.res.Bracket = bracket

	c.enter(StateDone)
	c.res.Note = fmt.Sprintf("Entered %s: %s at %s, take profit %s, stop %s (limit %s).",
		d.Symbol, order.ExecutedQty, c.res.EntryPrice, levels.TakeProfit, levels.StopPrice, levels.StopLimitPrice)
	if sell.Dust.IsPositive() {
		c.res.Note += fmt.Sprintf(" Warning: %s %s dust left outside the exit.", sell.Dust, pair.From)
		log.Warn("dust left after sizing exit", zap.String("dust", sell.Dust.String()))
	}
	log.Info("entry complete", zap.Int64("order_list_id", bracket.OrderListID))
	return c.res, nil
}

// awaitSettle polls the base balance until it reaches 99% of executed. When
// polls run out the last observation is used.
func (e *Executor) awaitSettle(ctx context.Context, base string, executed decimal.Decimal) (decimal.Decimal, error) {
	if e.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(e.settleDelay):
		}
	}

	target := executed.Mul(settledShare)
	var (
		last decimal.Decimal
		seen bool
	)
	r := retrier.New(
		retrier.WithMaxRetries(e.polls-1),
		retrier.WithInitialInterval(e.pollInterval),
		retrier.WithMultiplier(1),
		retrier.WithJitter(0),
		retrier.WithOnRetry(func(attempt int, err error) {
			e.logger.Debug("balance not settled yet",
				zap.String("asset", base),
				zap.Int("attempt", attempt),
				zap.String("observed", last.String()),
				zap.Error(err))
		}),
	)
	err := r.Do(ctx, func(ctx context.Context) error {
		bal, err := e.venue.FreeBalance(ctx, base)
		if err != nil {
			return err
		}
		last, seen = bal, true
		if bal.LessThan(target) {
			return errNotSettled
		}
		return nil
	})
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errNotSettled) && seen:
		e.logger.Warn("balance below executed quantity after polling",
			zap.String("asset", base),
			zap.String("observed", last.String()),
			zap.String("executed", executed.String()))
		return last, nil
	default:
		return last, errors.Wrapf(err, "failed to observe %s balance", base)
	}
}

func (e *Executor) invalidateOnFilter(symbol string, err error) {
	if errors.Is(err, exchange.ErrFilterViolation) {
		e.rules.Invalidate(symbol)
	}
}

func (e *Executor) fail(c *cycle, err error) (Result, error) {
	c.enter(StateFailed)
	c.res.Note = fmt.Sprintf("Entry failed: %v.", err)
	e.logger.Warn("entry failed", zap.String("symbol", c.res.Symbol), zap.Error(err))
	return c.res, err
}

func (e *Executor) exposed(c *cycle, held decimal.Decimal, err error) (Result, error) {
	stage := c.res.State
	c.enter(StateFailed)
	c.res.Exposure = true
	xe := &ExposureError{Symbol: c.res.Symbol, Held: held, Stage: stage, Err: err}
	c.res.Note = xe.Error()
	if c.res.Dust.IsPositive() {
		c.res.Note += fmt.Sprintf(" (dust %s)", c.res.Dust)
	}
	e.logger.Error("position left without exit", zap.String("symbol", c.res.Symbol), zap.Error(xe))
	return c.res, xe
}
