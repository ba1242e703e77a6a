package internal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/config"
	"github.com/vadiminshakov/torra/internal/clients"
	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/exchange"
	"github.com/vadiminshakov/torra/internal/services/executor"
	"github.com/vadiminshakov/torra/internal/services/ranking"
	"github.com/vadiminshakov/torra/internal/services/rules"
	"github.com/vadiminshakov/torra/internal/services/trader"
)

// tradingVenue is the capability set shared by the live client and the paper account.
type tradingVenue interface {
	account
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	PlaceMarketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error)
	PlaceBracket(ctx context.Context, b domain.BracketOrder) (domain.BracketResult, error)
	SupportsQuoteOrders() bool
}

var (
	_ tradingVenue = (*exchange.Client)(nil)
	_ tradingVenue = (*trader.SimulateTrader)(nil)
)

// NewFromConfig assembles the exchange client, rules cache, ranking pipeline,
// executor and venue selected by conf.
func NewFromConfig(logger *zap.Logger, conf config.Config) (*TradingBot, error) {
	market := clients.NewBinanceClient(conf.Venue, conf.APIKey, conf.APISecret)
	client := exchange.New(
		logger.With(zap.String("component", "exchange")),
		market,
		exchange.Credentials{APIKey: conf.APIKey, APISecret: conf.APISecret},
		exchange.WithVenue(conf.Venue),
		exchange.WithReadOnly(conf.ReadOnly),
	)
	cache := rules.NewCache(logger.With(zap.String("component", "rules")), client, conf.RulesTTL)
	client.SetRules(cache)

	pipeline := ranking.New(
		logger.With(zap.String("component", "ranking")),
		client,
		conf.Quote,
		ranking.WithConcurrency(conf.Concurrency),
		ranking.WithLookback(conf.Strategy.Lookback),
		ranking.WithSymbolTimeout(conf.SymbolTimeout),
		ranking.WithTradableOnly(conf.Venue.IsSandbox()),
		ranking.WithBlacklist(conf.Blacklist),
		ranking.WithMinQuoteVolume(conf.MinQuoteVolume),
		ranking.WithMaxSpreadBps(conf.MaxSpreadBps),
	)

	var venue tradingVenue = client
	if conf.Venue == domain.VenuePaper {
		paper, err := trader.NewSimulateTrader(
			logger.With(zap.String("component", "paper")),
			conf.Quote,
			conf.PaperBalance,
			client,
			cache,
			trader.WithReadOnly(conf.ReadOnly),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create paper venue")
		}
		venue = paper
	}

	exec := executor.New(logger, venue, cache, conf.Quote,
		executor.WithSettleDelay(conf.SettleDelay),
		executor.WithSettlePolls(conf.SettlePolls, conf.SettlePollInterval),
	)

	return NewTradingBot(
		logger.With(zap.String("component", "bot")),
		conf.Quote,
		conf.Strategy,
		pipeline,
		exec,
		venue,
		WithScanInterval(conf.ScanInterval),
	), nil
}
