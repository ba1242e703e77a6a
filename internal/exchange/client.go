// Package exchange is the Binance spot REST client over go-binance. Signed
// calls are stamped with the server clock offset tracked here.
package exchange

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
	"github.com/vadiminshakov/torra/internal/metrics"
)

const (
	defaultRecvWindow  = 5000
	defaultHTTPTimeout = 15 * time.Second
)

// Credentials API key pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Loaded reports whether both parts are present.
func (c Credentials) Loaded() bool {
	return c.APIKey != "" && c.APISecret != ""
}

type rulesGetter interface {
	Get(ctx context.Context, symbol string) (domain.SymbolRules, error)
}

// Client talks to one Binance spot venue. The clock offset is owned by the
// instance; signed requests are stamped with local time plus offset.
type Client struct {
	logger     *zap.Logger
	market     *binance.Client
	venue      domain.Venue
	creds      Credentials
	readOnly   bool
	recvWindow int64
	now        func() time.Time

	signMu sync.Mutex
	offset atomic.Int64
	synced atomic.Bool

	rules rulesGetter

	tradableMu      sync.Mutex
	tradable        map[string]struct{}
	tradableExpires time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces the local wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithReadOnly suppresses every mutating call.
func WithReadOnly(readOnly bool) Option {
	return func(c *Client) {
		c.readOnly = readOnly
	}
}

// WithRecvWindow sets the recvWindow sent with signed requests, in milliseconds.
func WithRecvWindow(ms int64) Option {
	return func(c *Client) {
		c.recvWindow = ms
	}
}

// WithHTTPClient sets the HTTP client every request goes through.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.market.HTTPClient = hc
	}
}

// WithVenue labels the client with the venue it points at.
func WithVenue(v domain.Venue) Option {
	return func(c *Client) {
		c.venue = v
	}
}

// New creates a client on top of a go-binance client whose BaseURL selects the venue.
// A client without credentials serves public data only and is always read-only.
func New(logger *zap.Logger, market *binance.Client, creds Credentials, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		logger:     logger,
		market:     market,
		venue:      domain.VenueProduction,
		creds:      creds,
		recvWindow: defaultRecvWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch hc := market.HTTPClient; {
	case hc == nil || hc == http.DefaultClient:
		market.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	case hc.Timeout == 0:
		bounded := *hc
		bounded.Timeout = defaultHTTPTimeout
		market.HTTPClient = &bounded
	}
	if creds.Loaded() {
		market.APIKey, market.SecretKey = creds.APIKey, creds.APISecret
	} else {
		c.readOnly = true
	}
	return c
}

// SetRules makes order validation read filters through r.
func (c *Client) SetRules(r rulesGetter) {
	c.rules = r
}

// ReadOnly reports whether mutating calls are suppressed.
func (c *Client) ReadOnly() bool {
	return c.readOnly
}

// Venue returns the venue label.
func (c *Client) Venue() domain.Venue {
	return c.venue
}

// Offset returns the current server minus local clock offset.
func (c *Client) Offset() time.Duration {
	return time.Duration(c.offset.Load()) * time.Millisecond
}

// SyncTime measures the offset between the exchange clock and the local one.
func (c *Client) SyncTime(ctx context.Context) error {
	local := c.now()
	serverMs, err := c.market.NewServerTimeService().Do(ctx)
	if err := c.observePublic("time", err); err != nil {
		return errors.Wrap(err, "failed to sync server time")
	}

	offset := serverMs - local.UnixMilli()
	c.offset.Store(offset)
	c.synced.Store(true)

	metrics.ClockResyncs.Inc()
	metrics.ClockOffset.Set(float64(offset))
	c.logger.Info("exchange clock synced", zap.Int64("offset_ms", offset))
	return nil
}

func (c *Client) timestamp() int64 {
	return c.now().UnixMilli() + c.offset.Load()
}

// signed runs an authenticated go-binance call. The clock is synced before
// the first call; a clock drift rejection triggers one resync and exactly one retry.
func (c *Client) signed(ctx context.Context, endpoint string, call func(ctx context.Context, opts ...binance.RequestOption) error) error {
	if !c.creds.Loaded() {
		return ErrNoCredentials
	}
	c.signMu.Lock()
	defer c.signMu.Unlock()

	if !c.synced.Load() {
		if err := c.SyncTime(ctx); err != nil {
			return err
		}
	}

	err := c.send(ctx, endpoint, call)
	if KindOf(err) != KindClockDrift {
		return err
	}

	c.logger.Warn("signed request hit clock drift, resyncing",
		zap.String("endpoint", endpoint),
		zap.Int64("offset_ms", c.offset.Load()))
	if err := c.SyncTime(ctx); err != nil {
		return err
	}
	return c.send(ctx, endpoint, call)
}

func (c *Client) send(ctx context.Context, endpoint string, call func(ctx context.Context, opts ...binance.RequestOption) error) error {
	// go-binance stamps signed requests with its own wall clock minus TimeOffset.
	c.market.TimeOffset = time.Now().UnixMilli() - c.timestamp()

	err := call(ctx, binance.WithRecvWindow(c.recvWindow))
	if err == nil {
		metrics.ExchangeRequests.WithLabelValues(endpoint, "ok").Inc()
		return nil
	}

	re := classifyAPIError(endpoint, err)
	metrics.ExchangeRequests.WithLabelValues(endpoint, re.Kind.String()).Inc()
	if re.Kind != KindNetwork {
		c.logger.Warn("exchange rejected signed request",
			zap.String("endpoint", endpoint),
			zap.Int64("code", re.Code),
			zap.String("kind", re.Kind.String()),
			zap.String("msg", re.Msg))
	}
	return re
}

func (c *Client) observePublic(endpoint string, err error) error {
	if err == nil {
		metrics.ExchangeRequests.WithLabelValues(endpoint, "ok").Inc()
		return nil
	}
	re := classifyAPIError(endpoint, err)
	metrics.ExchangeRequests.WithLabelValues(endpoint, re.Kind.String()).Inc()
	return re
}
