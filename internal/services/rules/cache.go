// Package rules caches exchange symbol filters.
package rules

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/torra/internal/domain"
)

// DefaultTTL is how long fetched rules are trusted.
const DefaultTTL = 4 * time.Hour

type rulesFetcher interface {
	SymbolRules(ctx context.Context, symbol string) (domain.SymbolRules, error)
}

type entry struct {
	rules   domain.SymbolRules
	expires time.Time
}

// Cache is a TTL cache over symbol rules. Concurrent misses for the same
// symbol may fetch twice; the last write wins.
type Cache struct {
	logger  *zap.Logger
	source  rulesFetcher
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache that reads through to source.
func NewCache(logger *zap.Logger, source rulesFetcher, ttl time.Duration, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		logger: logger,
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns cached rules for symbol, fetching them when missing or expired.
func (c *Cache) Get(ctx context.Context, symbol string) (domain.SymbolRules, error) {
	if v, ok := c.entries.Load(symbol); ok {
		e := v.(entry)
		if c.now().Before(e.expires) {
			return e.rules, nil
		}
	}

	r, err := c.source.SymbolRules(ctx, symbol)
	if err != nil {
		return domain.SymbolRules{}, errors.Wrapf(err, "failed to fetch rules for %s", symbol)
	}
	c.entries.Store(symbol, entry{rules: r, expires: c.now().Add(c.ttl)})
	c.logger.Debug("symbol rules refreshed",
		zap.String("symbol", symbol),
		zap.String("step", r.StepSize.String()),
		zap.String("tick", r.TickSize.String()),
		zap.String("min_notional", r.MinNotional.String()))

	return r, nil
}

// Invalidate drops symbol so the next Get fetches fresh rules.
func (c *Cache) Invalidate(symbol string) {
	c.entries.Delete(symbol)
	c.logger.Info("symbol rules invalidated", zap.String("symbol", symbol))
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}
