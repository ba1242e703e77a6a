package internal

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/exchange"
	"github.com/vadiminshakov/torra/internal/metrics"
	"github.com/vadiminshakov/torra/internal/services/decision"
	"github.com/vadiminshakov/torra/internal/services/executor"
)

const (
	defaultScanInterval = time.Minute
	maxBackoff          = 15 * time.Minute
	minWait             = time.Second
)

type ranker interface {
	Build(ctx context.Context, n int) ([]domain.RankingRow, error)
}

type enterer interface {
	Enter(ctx context.Context, d domain.Decision, cfg domain.StrategyConfig) (executor.Result, error)
}

type account interface {
	OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error)
	ClosePosition(ctx context.Context, pair domain.Pair) (domain.OrderResult, error)
	Equity(ctx context.Context, quote string) (decimal.Decimal, error)
	Snapshot(ctx context.Context) domain.EnvSnapshot
	ReadOnly() bool
}

// Position is the tracked open trade.
type Position struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Entry     decimal.Decimal `json:"entry"`
	EnteredAt time.Time       `json:"entered_at"`
}

// EnterOutcome is what TryEnter reports to the caller.
type EnterOutcome struct {
	Entered bool             `json:"entered"`
	Symbol  string           `json:"symbol"`
	Note    string           `json:"note"`
	Result  *executor.Result `json:"result,omitempty"`
}

// Status summarizes the bot for the control surface.
type Status struct {
	Env          domain.EnvSnapshot    `json:"env"`
	Quote        string                `json:"quote"`
	Strategy     domain.StrategyConfig `json:"strategy"`
	Position     *Position             `json:"position,omitempty"`
	LastDecision *domain.Decision      `json:"last_decision,omitempty"`
	LastResult   *executor.Result      `json:"last_result,omitempty"`
	LastCycleAt  time.Time             `json:"last_cycle_at"`
	LastError    string                `json:"last_error,omitempty"`
}

// TradingBot is the only entry point of the control surface into the core.
// At most one trade cycle runs at a time.
type TradingBot struct {
	logger       *zap.Logger
	ranking      ranker
	exec         enterer
	account      account
	quote        string
	strategy     domain.StrategyConfig
	scanInterval time.Duration
	now          func() time.Time

	cycleMu sync.Mutex

	mu           sync.RWMutex
	lastSymbol   string
	position     *Position
	lastDecision *domain.Decision
	lastResult   *executor.Result
	lastCycleAt  time.Time
	lastErr      string
	backoff      time.Duration
}

// BotOption configures a TradingBot.
type BotOption func(*TradingBot)

// WithScanInterval sets the pause between cycles that found nothing to wait for.
func WithScanInterval(d time.Duration) BotOption {
	return func(b *TradingBot) {
		if d > 0 {
			b.scanInterval = d
		}
	}
}

// WithBotClock overrides the wall clock.
func WithBotClock(now func() time.Time) BotOption {
	return func(b *TradingBot) {
		b.now = now
	}
}

// NewTradingBot wires the facade over already constructed components.
func NewTradingBot(logger *zap.Logger, quote string, strategy domain.StrategyConfig, r ranker, e enterer, a account, opts ...BotOption) *TradingBot {
	b := &TradingBot{
		logger:       logger,
		ranking:      r,
		exec:         e,
		account:      a,
		quote:        quote,
		strategy:     strategy.Normalize(),
		scanInterval: defaultScanInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildRanking ranks the n most traded symbols; n <= 0 uses the configured universe size.
func (b *TradingBot) BuildRanking(ctx context.Context, n int) ([]domain.RankingRow, error) {
	if n <= 0 {
		n = b.strategy.UniverseSize
	}
	return b.ranking.Build(ctx, n)
}

// Decide builds a fresh ranking and evaluates it.
func (b *TradingBot) Decide(ctx context.Context) (domain.Decision, error) {
	rows, err := b.BuildRanking(ctx, b.strategy.UniverseSize)
	if err != nil {
		return domain.Decision{}, errors.Wrap(err, "failed to build ranking")
	}
	d := decision.Decide(rows, b.strategy, b.now())
	metrics.Decisions.WithLabelValues(string(d.Kind)).Inc()

	b.mu.Lock()
	b.lastDecision = &d
	b.mu.Unlock()
	return d, nil
}

// Equity returns the quote balance, free plus locked.
func (b *TradingBot) Equity(ctx context.Context) (decimal.Decimal, error) {
	eq, err := b.account.Equity(ctx, b.quote)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.Equity.Set(eq.InexactFloat64())
	return eq, nil
}

// TryEnter runs one entry cycle unless another one is in progress.
func (b *TradingBot) TryEnter(ctx context.Context) (EnterOutcome, error) {
	if !b.cycleMu.TryLock() {
		return EnterOutcome{Note: "A trade cycle is already running."}, nil
	}
	defer b.cycleMu.Unlock()
	return b.tryEnter(ctx)
}

func (b *TradingBot) tryEnter(ctx context.Context) (EnterOutcome, error) {
	open, err := b.account.OpenOrders(ctx, "")
	if err != nil {
		return EnterOutcome{}, errors.Wrap(err, "failed to list open orders")
	}
	if len(open) > 0 {
		return EnterOutcome{
			Symbol: open[0].Symbol,
			Note:   fmt.Sprintf("Open orders exist on %s, waiting for the position to close.", open[0].Symbol),
		}, nil
	}

	d, err := b.Decide(ctx)
	if err != nil {
		return EnterOutcome{}, err
	}
	if !d.IsCandidate() {
		return EnterOutcome{Note: d.Note}, nil
	}

	b.mu.RLock()
	last := b.lastSymbol
	b.mu.RUnlock()
	if d.Symbol == last {
		return EnterOutcome{
			Symbol: d.Symbol,
			Note:   fmt.Sprintf("Skipping %s: same symbol as the previous trade.", d.Symbol),
		}, nil
	}

	res, err := b.exec.Enter(ctx, d, b.strategy)

	b.mu.Lock()
	b.lastResult = &res
	if res.Entered {
		b.lastSymbol = d.Symbol
		b.position = &Position{Symbol: d.Symbol, Quantity: res.Quantity, Entry: res.EntryPrice, EnteredAt: b.now()}
	}
	b.mu.Unlock()

	return EnterOutcome{Entered: res.Entered, Symbol: d.Symbol, Note: res.Note, Result: &res}, err
}

// checkTimeStop closes the tracked position once it has been open longer
// than the time-stop and its exit orders are still resting.
func (b *TradingBot) checkTimeStop(ctx context.Context) error {
	b.mu.RLock()
	pos := b.position
	b.mu.RUnlock()
	if pos == nil || b.now().Before(pos.EnteredAt.Add(b.strategy.TimeStop)) {
		return nil
	}

	open, err := b.account.OpenOrders(ctx, pos.Symbol)
	if err != nil {
		return errors.Wrapf(err, "failed to check exit orders of %s", pos.Symbol)
	}
	if len(open) == 0 {
		b.logger.Info("position exited before time-stop", zap.String("symbol", pos.Symbol))
		b.clearPosition()
		return nil
	}

	pair, err := domain.PairFromSymbol(pos.Symbol, b.quote)
	if err != nil {
		return err
	}
	res, err := b.account.ClosePosition(ctx, pair)
	if err != nil {
		return errors.Wrapf(err, "time-stop close of %s failed", pos.Symbol)
	}
	b.logger.Info("time-stop closed position",
		zap.String("symbol", pos.Symbol),
		zap.Duration("held", b.now().Sub(pos.EnteredAt)),
		zap.String("qty", res.ExecutedQty.String()),
		zap.String("price", res.AvgPrice.String()),
		zap.Bool("noop", res.NoOp))
	b.clearPosition()
	return nil
}

func (b *TradingBot) clearPosition() {
	b.mu.Lock()
	b.position = nil
	b.mu.Unlock()
}

// Status returns a snapshot of the bot state.
func (b *TradingBot) Status(ctx context.Context) Status {
	env := b.account.Snapshot(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		Env:          env,
		Quote:        b.quote,
		Strategy:     b.strategy,
		Position:     b.position,
		LastDecision: b.lastDecision,
		LastResult:   b.lastResult,
		LastCycleAt:  b.lastCycleAt,
		LastError:    b.lastErr,
	}
}

// Run executes cycles until ctx is done. Cycle failures are logged and never
// stop the loop.
func (b *TradingBot) Run(ctx context.Context) error {
	b.logger.Info("Starting trading loop",
		zap.String("quote", b.quote),
		zap.Bool("read_only", b.account.ReadOnly()),
		zap.Stringer("strategy", b.strategy),
		zap.Duration("scan_interval", b.scanInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Context done, stopping trading loop")
			return ctx.Err()
		case <-timer.C:
			timer.Reset(b.cycle(ctx))
		}
	}
}

// cycle runs one scheduled pass and returns the wait before the next one.
func (b *TradingBot) cycle(ctx context.Context) (next time.Duration) {
	next = b.scanInterval
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("trade cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			b.recordCycle(fmt.Errorf("panic: %v", r))
		}
	}()

	if !b.cycleMu.TryLock() {
		b.logger.Debug("cycle skipped, another one is running")
		return next
	}
	defer b.cycleMu.Unlock()

	if err := b.checkTimeStop(ctx); err != nil {
		b.logger.Error("time-stop check failed", zap.Error(err))
	}

	out, err := b.tryEnter(ctx)
	b.recordCycle(err)
	if err != nil {
		if errors.Is(err, exchange.ErrRateLimited) {
			return b.nextBackoff()
		}
		b.logger.Error("trade cycle failed", zap.String("symbol", out.Symbol), zap.String("note", out.Note), zap.Error(err))
		return next
	}
	b.resetBackoff()

	if out.Entered {
		b.logger.Info("entered position", zap.String("symbol", out.Symbol), zap.String("note", out.Note))
		if eq, err := b.Equity(ctx); err == nil {
			b.logger.Info("equity", zap.String(b.quote, eq.String()))
		}
		return next
	}
	b.logger.Info("no entry", zap.String("note", out.Note))

	b.mu.RLock()
	d := b.lastDecision
	b.mu.RUnlock()
	if d != nil && !d.IsCandidate() && d.NextCheckAt != nil {
		if wait := d.NextCheckAt.Sub(b.now()); wait > minWait {
			return wait
		}
		return minWait
	}
	return next
}

func (b *TradingBot) recordCycle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCycleAt = b.now()
	b.lastErr = ""
	if err != nil {
		b.lastErr = err.Error()
	}
}

func (b *TradingBot) nextBackoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backoff == 0 {
		b.backoff = b.scanInterval
	} else {
		b.backoff *= 2
	}
	if b.backoff > maxBackoff {
		b.backoff = maxBackoff
	}
	b.logger.Warn("rate limited, backing off", zap.Duration("wait", b.backoff))
	return b.backoff
}

func (b *TradingBot) resetBackoff() {
	b.mu.Lock()
	b.backoff = 0
	b.mu.Unlock()
}
