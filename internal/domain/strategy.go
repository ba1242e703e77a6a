package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	minUniverseSize = 10
	maxUniverseSize = 500
	minTimeStop     = 15 * time.Minute
	defaultCooldown = 5 * time.Minute
)

var (
	minExitPct     = decimal.RequireFromString("0.001")
	maxExitPct     = decimal.RequireFromString("0.10")
	defaultMinDrop = decimal.RequireFromString("-0.04")
	hundred        = decimal.NewFromInt(100)
)

// StrategyConfig drives ranking, entry and exit of a single position.
// MinDrop is a negative fraction (-0.04 means -4%), TakeProfit and StopLoss
// are positive fractions of the entry price.
type StrategyConfig struct {
	UniverseSize int             `json:"universe_size" yaml:"universe_size"`
	MinDrop      decimal.Decimal `json:"min_drop" yaml:"min_drop"`
	TakeProfit   decimal.Decimal `json:"take_profit" yaml:"take_profit"`
	StopLoss     decimal.Decimal `json:"stop_loss" yaml:"stop_loss"`
	TimeStop     time.Duration   `json:"time_stop" yaml:"time_stop"`
	Cooldown     time.Duration   `json:"cooldown" yaml:"cooldown"`
	Lookback     time.Duration   `json:"lookback" yaml:"lookback"`
}

// DefaultStrategyConfig returns the stock configuration.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		UniverseSize: 150,
		MinDrop:      defaultMinDrop,
		TakeProfit:   decimal.RequireFromString("0.02"),
		StopLoss:     decimal.RequireFromString("0.02"),
		TimeStop:     6 * time.Hour,
		Cooldown:     time.Hour,
		Lookback:     3 * time.Hour,
	}
}

// Normalize returns a copy with every field forced into its valid range.
// A positive drop is read as a magnitude: values >= 1 are percents (4 means -4%),
// smaller ones are fractions (0.04 means -4%).
func (c StrategyConfig) Normalize() StrategyConfig {
	n := c

	switch {
	case n.UniverseSize < minUniverseSize:
		n.UniverseSize = minUniverseSize
	case n.UniverseSize > maxUniverseSize:
		n.UniverseSize = maxUniverseSize
	}

	switch {
	case n.MinDrop.IsZero():
		n.MinDrop = defaultMinDrop
	case n.MinDrop.GreaterThanOrEqual(decimal.NewFromInt(1)):
		n.MinDrop = n.MinDrop.Div(hundred).Neg()
	case n.MinDrop.IsPositive():
		n.MinDrop = n.MinDrop.Neg()
	}

	n.TakeProfit = clampPct(n.TakeProfit)
	n.StopLoss = clampPct(n.StopLoss)

	if n.TimeStop < minTimeStop {
		n.TimeStop = minTimeStop
	}
	if n.Cooldown <= 0 {
		n.Cooldown = defaultCooldown
	}
	if n.Lookback <= 0 {
		n.Lookback = 3 * time.Hour
	}

	return n
}

func clampPct(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(minExitPct) {
		return minExitPct
	}
	if v.GreaterThan(maxExitPct) {
		return maxExitPct
	}
	return v
}

// Validate returns non-fatal warnings about a normalized configuration.
func (c StrategyConfig) Validate() []string {
	var warnings []string
	if c.TakeProfit.LessThanOrEqual(c.StopLoss.Div(decimal.NewFromInt(2))) {
		warnings = append(warnings, fmt.Sprintf(
			"take-profit %s%% is at most half of stop-loss %s%%, expected value of a trade is likely negative",
			c.TakeProfit.Mul(hundred).StringFixed(2), c.StopLoss.Mul(hundred).StringFixed(2)))
	}
	if c.TimeStop < c.Lookback {
		warnings = append(warnings, fmt.Sprintf("time-stop %s is shorter than the %s lookback window", c.TimeStop, c.Lookback))
	}
	return warnings
}

func (c StrategyConfig) String() string {
	return fmt.Sprintf("universe=%d drop=%s%% tp=%s%% sl=%s%% time_stop=%s cooldown=%s lookback=%s",
		c.UniverseSize,
		c.MinDrop.Mul(hundred).StringFixed(2),
		c.TakeProfit.Mul(hundred).StringFixed(2),
		c.StopLoss.Mul(hundred).StringFixed(2),
		c.TimeStop, c.Cooldown, c.Lookback)
}
