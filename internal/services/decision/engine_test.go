package decision

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/torra/internal/domain"
)

var now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func row(symbol, ret string) domain.RankingRow {
	r := domain.RankingRow{Symbol: symbol, PriceNow: decimal.NewFromInt(1)}
	if ret != "" {
		r.Return = decimal.NewNullDecimal(decimal.RequireFromString(ret))
	}
	return r
}

func testConfig() domain.StrategyConfig {
	cfg := domain.DefaultStrategyConfig()
	cfg.MinDrop = decimal.RequireFromString("-0.04")
	cfg.Cooldown = 30 * time.Minute
	return cfg
}

func TestDecide(t *testing.T) {
	t.Run("candidate from sorted snapshot", func(t *testing.T) {
		d := Decide([]domain.RankingRow{row("SYM1", "-0.05"), row("SYM2", "-0.02"), row("SYM3", "")}, testConfig(), now)
		require.Equal(t, domain.DecisionCandidateFound, d.Kind)
		assert.Equal(t, "SYM1", d.Symbol)
		assert.True(t, d.Return.Decimal.Equal(decimal.RequireFromString("-0.05")))
		assert.Nil(t, d.NextCheckAt)
		assert.Equal(t, "Candidate: SYM1 (3h -5.00%).", d.Note)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		d := Decide([]domain.RankingRow{row("SYM1", "-0.04")}, testConfig(), now)
		assert.True(t, d.IsCandidate())
	})

	t.Run("above threshold cools down", func(t *testing.T) {
		d := Decide([]domain.RankingRow{row("SYM1", "-0.039")}, testConfig(), now)
		require.Equal(t, domain.DecisionCooldown, d.Kind)
		require.NotNil(t, d.NextCheckAt)
		assert.Equal(t, now.Add(30*time.Minute), *d.NextCheckAt)
		assert.Empty(t, d.Symbol)
		assert.False(t, d.Return.Valid)
		assert.Contains(t, d.Note, "-4.00%")
		assert.Contains(t, d.Note, "Cooling down 30 min.")
	})

	t.Run("empty snapshot", func(t *testing.T) {
		d := Decide(nil, testConfig(), now)
		assert.Equal(t, domain.DecisionCooldown, d.Kind)
		assert.Contains(t, d.Note, "No ranking data.")
	})

	t.Run("no returns", func(t *testing.T) {
		d := Decide([]domain.RankingRow{row("SYM1", ""), row("SYM2", "")}, testConfig(), now)
		assert.Equal(t, domain.DecisionCooldown, d.Kind)
		require.NotNil(t, d.NextCheckAt)
		assert.True(t, d.NextCheckAt.After(now))
	})
}

func TestDecide_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("candidate iff best return <= threshold", prop.ForAll(
		func(bestBps, thresholdBps int, cooldownMin int) bool {
			cfg := testConfig()
			cfg.MinDrop = decimal.NewFromInt(int64(thresholdBps)).Shift(-4)
			cfg.Cooldown = time.Duration(cooldownMin) * time.Minute
			best := decimal.NewFromInt(int64(bestBps)).Shift(-4)

			rows := []domain.RankingRow{
				{Symbol: "BEST", Return: decimal.NewNullDecimal(best)},
				{Symbol: "NEXT", Return: decimal.NewNullDecimal(best.Add(decimal.NewFromInt(1)))},
				{Symbol: "NONE"},
			}
			d := Decide(rows, cfg, now)

			if best.LessThanOrEqual(cfg.MinDrop) {
				return d.Kind == domain.DecisionCandidateFound && d.Symbol == "BEST" && d.NextCheckAt == nil
			}
			return d.Kind == domain.DecisionCooldown && d.NextCheckAt != nil && d.NextCheckAt.After(now) && d.Symbol == ""
		},
		gen.IntRange(-3000, 3000),
		gen.IntRange(-3000, -1),
		gen.IntRange(1, 600),
	))

	properties.TestingRun(t)
}
