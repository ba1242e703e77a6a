// Package ranking ranks the most traded symbols by trailing return.
package ranking

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/exchange"
	"github.com/vadiminshakov/torra/internal/metrics"
	"github.com/vadiminshakov/torra/pkg/retrier"
)

const (
	DefaultConcurrency = 12
	DefaultLookback    = 3 * time.Hour
	retryShift         = 30 * time.Second
)

type marketData interface {
	Tickers24h(ctx context.Context) ([]domain.Ticker, error)
	BookTops(ctx context.Context) (map[string]domain.BookTop, error)
	TradableSymbols(ctx context.Context) (map[string]struct{}, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	CloseNear(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error)
}

// Pipeline fetches the universe once per pass and fans out per-symbol
// history lookups under a concurrency bound.
type Pipeline struct {
	logger        *zap.Logger
	market        marketData
	retrier       *retrier.Retrier
	quote         string
	concurrency   int
	lookback      time.Duration
	symbolTimeout time.Duration
	tradableOnly  bool
	blacklist     map[string]struct{}
	minVolume     decimal.Decimal
	maxSpreadBps  decimal.Decimal
	now           func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds in-flight per-symbol fetches.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLookback sets how far back the trailing return looks.
func WithLookback(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.lookback = d
		}
	}
}

// WithSymbolTimeout caps each symbol's fetches. Zero means caller context only.
func WithSymbolTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.symbolTimeout = d
	}
}

// WithTradableOnly restricts the universe to symbols the venue reports as trading.
func WithTradableOnly(on bool) Option {
	return func(p *Pipeline) {
		p.tradableOnly = on
	}
}

// WithBlacklist excludes symbols.
func WithBlacklist(symbols []string) Option {
	return func(p *Pipeline) {
		p.blacklist = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			p.blacklist[s] = struct{}{}
		}
	}
}

// WithMinQuoteVolume drops symbols with less 24h quote volume.
func WithMinQuoteVolume(v decimal.Decimal) Option {
	return func(p *Pipeline) {
		p.minVolume = v
	}
}

// WithMaxSpreadBps drops symbols with a wider book.
func WithMaxSpreadBps(v decimal.Decimal) Option {
	return func(p *Pipeline) {
		p.maxSpreadBps = v
	}
}

// WithRetrier sets the retry policy of the universe fetch.
func WithRetrier(r *retrier.Retrier) Option {
	return func(p *Pipeline) {
		p.retrier = r
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a ranking pipeline for symbols quoted in quote.
func New(logger *zap.Logger, market marketData, quote string, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		logger:      logger,
		market:      market,
		quote:       quote,
		concurrency: DefaultConcurrency,
		lookback:    DefaultLookback,
		retrier: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithRetryIf(func(err error) bool {
				return !errors.Is(err, exchange.ErrRateLimited)
			}),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type universeSnapshot struct {
	tickers []domain.Ticker
	books   map[string]domain.BookTop
	allowed map[string]struct{}
}

// Build ranks the n most traded symbols. Per-symbol failures yield rows with
// an absent return and never fail the pass.
func (p *Pipeline) Build(ctx context.Context, n int) ([]domain.RankingRow, error) {
	started := time.Now()
	defer func() { metrics.RankingDuration.Observe(time.Since(started).Seconds()) }()

	snap, err := retrier.DoWithData(p.retrier, ctx, p.fetchUniverse)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch ranking universe")
	}

	universe := SelectUniverse(snap.tickers, snap.books, UniverseFilter{
		Quote:          p.quote,
		Allowed:        snap.allowed,
		Blacklist:      p.blacklist,
		MinQuoteVolume: p.minVolume,
		MaxSpreadBps:   p.maxSpreadBps,
	}, n)

	target := p.now().Add(-p.lookback)
	rows := make([]domain.RankingRow, len(universe))
	sem := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup

	for i, q := range universe {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, errors.Wrap(err, "ranking cancelled")
		}
		wg.Add(1)
		go func(i int, q domain.SymbolQuote) {
			defer wg.Done()
			defer sem.Release(1)
			rows[i] = p.rankSymbol(ctx, q, target)
		}(i, q)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "ranking cancelled")
	}

	SortRows(rows)

	withReturn := 0
	for _, r := range rows {
		if r.HasReturn() {
			withReturn++
		}
	}
	p.logger.Info("ranking built",
		zap.Int("universe", len(universe)),
		zap.Int("with_return", withReturn),
		zap.Duration("lookback", p.lookback),
		zap.Duration("took", time.Since(started)))

	return rows, nil
}

func (p *Pipeline) fetchUniverse(ctx context.Context) (universeSnapshot, error) {
	var snap universeSnapshot
	var err error

	if snap.tickers, err = p.market.Tickers24h(ctx); err != nil {
		return snap, err
	}
	if snap.books, err = p.market.BookTops(ctx); err != nil {
		return snap, err
	}
	if p.tradableOnly {
		allowed, err := p.market.TradableSymbols(ctx)
		if err != nil {
			p.logger.Warn("tradable symbols unavailable, ranking unfiltered", zap.Error(err))
		} else {
			snap.allowed = allowed
		}
	}
	return snap, nil
}

func (p *Pipeline) rankSymbol(ctx context.Context, q domain.SymbolQuote, target time.Time) domain.RankingRow {
	row := domain.RankingRow{Symbol: q.Symbol, PriceNow: q.LastPrice, QuoteVolume: q.QuoteVolume}

	if p.symbolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.symbolTimeout)
		defer cancel()
	}

	now, err := p.market.LastPrice(ctx, q.Symbol)
	if err != nil {
		p.symbolFailed(q.Symbol, "price", err)
		return row
	}
	row.PriceNow = now

	ago, err := p.market.CloseNear(ctx, q.Symbol, target)
	if errors.Is(err, exchange.ErrNoData) {
		ago, err = p.market.CloseNear(ctx, q.Symbol, target.Add(-retryShift))
	}
	if err != nil {
		p.symbolFailed(q.Symbol, "history", err)
		return row
	}
	if ago.Sign() <= 0 {
		p.symbolFailed(q.Symbol, "history", errors.New("non-positive historical price"))
		return row
	}

	row.PriceAgo = decimal.NewNullDecimal(ago)
	row.Return = decimal.NewNullDecimal(now.Div(ago).Sub(decimal.NewFromInt(1)))
	return row
}

func (p *Pipeline) symbolFailed(symbol, stage string, err error) {
	metrics.RankingSymbolFailures.Inc()
	p.logger.Debug("symbol skipped in ranking",
		zap.String("symbol", symbol),
		zap.String("stage", stage),
		zap.Error(err))
}
