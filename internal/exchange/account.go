package exchange

import (
	"context"
	"sort"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
)

const (
	snapshotBalances   = 6
	accountEndpoint    = "GET /api/v3/account"
	openOrdersEndpoint = "GET /api/v3/openOrders"
)

// Balances returns every non-empty asset balance of the account.
func (c *Client) Balances(ctx context.Context) ([]domain.Balance, error) {
	var account *binance.Account
	err := c.signed(ctx, accountEndpoint, func(ctx context.Context, opts ...binance.RequestOption) (err error) {
		account, err = c.market.NewGetAccountService().OmitZeroBalances(true).Do(ctx, opts...)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get account")
	}

	balances := make([]domain.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse free balance of %s", b.Asset)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse locked balance of %s", b.Asset)
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		balances = append(balances, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// FreeBalance returns the free amount of asset, zero when absent.
func (c *Client) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return decimal.Zero, nil
}

// Equity returns free plus locked quote balance, zero without credentials.
func (c *Client) Equity(ctx context.Context, quote string) (decimal.Decimal, error) {
	if !c.creds.Loaded() {
		return decimal.Zero, nil
	}
	balances, err := c.Balances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == quote {
			return b.Total(), nil
		}
	}
	return decimal.Zero, nil
}

// OpenOrders lists resting orders, for every symbol when symbol is empty.
// A client without credentials has none.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	if !c.creds.Loaded() {
		return nil, nil
	}
	var orders []*binance.Order
	err := c.signed(ctx, openOrdersEndpoint, func(ctx context.Context, opts ...binance.RequestOption) (err error) {
		orders, err = c.market.NewListOpenOrdersService().Symbol(symbol).Do(ctx, opts...)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open orders")
	}

	out := make([]domain.OpenOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, domain.OpenOrder{
			Symbol:      o.Symbol,
			OrderID:     o.OrderID,
			Side:        domain.Side(o.Side),
			Type:        string(o.Type),
			Price:       parseOrZero(o.Price),
			OrigQty:     parseOrZero(o.OrigQuantity),
			ExecutedQty: parseOrZero(o.ExecutedQuantity),
			Status:      string(o.Status),
			Time:        o.Time,
		})
	}
	return out, nil
}

// Snapshot describes the connection and the largest balances.
func (c *Client) Snapshot(ctx context.Context) domain.EnvSnapshot {
	snap := domain.EnvSnapshot{
		Venue:       c.venue,
		PublicHost:  c.market.BaseURL,
		PrivateHost: c.market.BaseURL,
		KeysLoaded:  c.creds.Loaded(),
		ReadOnly:    c.readOnly,
	}
	if !c.creds.Loaded() {
		return snap
	}

	balances, err := c.Balances(ctx)
	if err != nil {
		c.logger.Warn("snapshot balances unavailable", zap.Error(err))
		return snap
	}
	sort.SliceStable(balances, func(i, j int) bool {
		return balances[i].Total().GreaterThan(balances[j].Total())
	})
	if len(balances) > snapshotBalances {
		balances = balances[:snapshotBalances]
	}
	snap.Balances = balances
	return snap
}

func parseOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
