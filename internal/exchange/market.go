package exchange

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
)

const (
	tradableTTL    = 15 * time.Minute
	statusTrading  = "TRADING"
	candleInterval = "1m"
)

// Tickers24h returns the 24h rolling statistics of every symbol.
// Entries with unparsable numbers are skipped.
func (c *Client) Tickers24h(ctx context.Context) ([]domain.Ticker, error) {
	stats, err := c.market.NewListPriceChangeStatsService().Do(ctx)
	if err := c.observePublic("ticker/24hr", err); err != nil {
		return nil, errors.Wrap(err, "failed to fetch 24h tickers")
	}

	tickers := make([]domain.Ticker, 0, len(stats))
	for _, s := range stats {
		last, err := decimal.NewFromString(s.LastPrice)
		if err != nil {
			continue
		}
		vol, err := decimal.NewFromString(s.QuoteVolume)
		if err != nil {
			continue
		}
		tickers = append(tickers, domain.Ticker{Symbol: s.Symbol, LastPrice: last, QuoteVolume: vol})
	}
	return tickers, nil
}

// BookTops returns the best bid and ask of every symbol keyed by symbol.
func (c *Client) BookTops(ctx context.Context) (map[string]domain.BookTop, error) {
	books, err := c.market.NewListBookTickersService().Do(ctx)
	if err := c.observePublic("ticker/bookTicker", err); err != nil {
		return nil, errors.Wrap(err, "failed to fetch book tickers")
	}

	tops := make(map[string]domain.BookTop, len(books))
	for _, b := range books {
		bid, err := decimal.NewFromString(b.BidPrice)
		if err != nil {
			continue
		}
		ask, err := decimal.NewFromString(b.AskPrice)
		if err != nil {
			continue
		}
		tops[b.Symbol] = domain.BookTop{Symbol: b.Symbol, Bid: bid, Ask: ask}
	}
	return tops, nil
}

// LastPrice returns the latest trade price of symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := c.market.NewListPricesService().Symbol(symbol).Do(ctx)
	if err := c.observePublic("ticker/price", err); err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch price of %s", symbol)
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "failed to parse price of %s", symbol)
		}
		if !price.IsPositive() {
			return decimal.Zero, &RequestError{
				Kind: KindMalformed,
				Path: "ticker/price",
				Msg:  "non-positive price " + p.Price + " for " + symbol,
				Err:  ErrNoData,
			}
		}
		return price, nil
	}
	return decimal.Zero, errors.Wrapf(ErrNoData, "no price for %s", symbol)
}

// CloseNear returns the close of the 1m candle whose close time is nearest to at.
// Candles are requested from at-2m to at+1m.
func (c *Client) CloseNear(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	klines, err := c.market.NewKlinesService().
		Symbol(symbol).
		Interval(candleInterval).
		StartTime(at.Add(-2 * time.Minute).UnixMilli()).
		EndTime(at.Add(time.Minute).UnixMilli()).
		Do(ctx)
	if err := c.observePublic("klines", err); err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch klines of %s", symbol)
	}

	target := at.UnixMilli()
	best := -1
	var bestDiff int64
	for i, k := range klines {
		diff := k.CloseTime - target
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		return decimal.Zero, errors.Wrapf(ErrNoData, "no candles for %s near %s", symbol, at.UTC().Format(time.RFC3339))
	}

	closePrice, err := decimal.NewFromString(klines[best].Close)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to parse close of %s", symbol)
	}
	if closePrice.Sign() <= 0 {
		return decimal.Zero, errors.Wrapf(ErrNoData, "non-positive close for %s", symbol)
	}
	return closePrice, nil
}

// SymbolRules reads the LOT_SIZE, PRICE_FILTER and (MIN_)NOTIONAL filters of symbol.
func (c *Client) SymbolRules(ctx context.Context, symbol string) (domain.SymbolRules, error) {
	info, err := c.market.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err := c.observePublic("exchangeInfo", err); err != nil {
		return domain.SymbolRules{}, errors.Wrapf(err, "failed to fetch exchange info of %s", symbol)
	}

	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return parseRules(symbol, s.Filters)
		}
	}
	return domain.SymbolRules{}, errors.Wrapf(ErrUnknownSymbol, "%s", symbol)
}

// TradableSymbols returns the set of symbols in TRADING status.
// The set is cached for 15 minutes.
func (c *Client) TradableSymbols(ctx context.Context) (map[string]struct{}, error) {
	c.tradableMu.Lock()
	defer c.tradableMu.Unlock()

	if c.tradable != nil && c.now().Before(c.tradableExpires) {
		return c.tradable, nil
	}

	info, err := c.market.NewExchangeInfoService().Do(ctx)
	if err := c.observePublic("exchangeInfo", err); err != nil {
		return nil, errors.Wrap(err, "failed to fetch exchange info")
	}

	set := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == statusTrading {
			set[s.Symbol] = struct{}{}
		}
	}
	c.tradable = set
	c.tradableExpires = c.now().Add(tradableTTL)
	c.logger.Debug("tradable symbols refreshed", zap.Int("count", len(set)))

	return set, nil
}

func parseRules(symbol string, filters []map[string]interface{}) (domain.SymbolRules, error) {
	r := domain.SymbolRules{Symbol: symbol}
	for _, f := range filters {
		var err error
		switch f["filterType"] {
		case "LOT_SIZE":
			if r.StepSize, err = filterDecimal(f, "stepSize"); err != nil {
				return r, err
			}
			if r.MinQty, err = filterDecimal(f, "minQty"); err != nil {
				return r, err
			}
		case "PRICE_FILTER":
			if r.TickSize, err = filterDecimal(f, "tickSize"); err != nil {
				return r, err
			}
			if r.MinPrice, err = filterDecimal(f, "minPrice"); err != nil {
				return r, err
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			v, err := filterDecimal(f, "minNotional")
			if err != nil {
				return r, err
			}
			r.MinNotional = decimal.Max(r.MinNotional, v)
		}
	}
	return r, nil
}

func filterDecimal(f map[string]interface{}, key string) (decimal.Decimal, error) {
	switch v := f[key].(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "failed to parse filter field %s", key)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, errors.Errorf("unexpected type %T of filter field %s", v, key)
	}
}
