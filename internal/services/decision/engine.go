// Package decision turns a ranking into an entry verdict.
package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/torra/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Decide returns CandidateFound for the best ranked symbol when its trailing
// return is at or below cfg.MinDrop, Cooldown otherwise. rows must be sorted
// as the ranking pipeline sorts them.
func Decide(rows []domain.RankingRow, cfg domain.StrategyConfig, now time.Time) domain.Decision {
	window := formatWindow(cfg.Lookback)

	if len(rows) == 0 {
		return cooldown(now, cfg.Cooldown, "No ranking data.")
	}

	var best *domain.RankingRow
	for i := range rows {
		if rows[i].HasReturn() {
			best = &rows[i]
			break
		}
	}
	if best == nil {
		return cooldown(now, cfg.Cooldown, fmt.Sprintf("No symbol has a %s return.", window))
	}

	ret := best.Return.Decimal
	if ret.LessThanOrEqual(cfg.MinDrop) {
		return domain.Decision{
			Kind:   domain.DecisionCandidateFound,
			At:     now,
			Symbol: best.Symbol,
			Return: decimal.NewNullDecimal(ret),
			Note:   fmt.Sprintf("Candidate: %s (%s %s%%).", best.Symbol, window, ret.Mul(hundred).StringFixed(2)),
		}
	}

	return cooldown(now, cfg.Cooldown, fmt.Sprintf("No token <= %s%% over %s (best %s %s%%).",
		cfg.MinDrop.Mul(hundred).StringFixed(2), window, best.Symbol, ret.Mul(hundred).StringFixed(2)))
}

func cooldown(now time.Time, d time.Duration, reason string) domain.Decision {
	next := now.Add(d)
	return domain.Decision{
		Kind:        domain.DecisionCooldown,
		At:          now,
		NextCheckAt: &next,
		Note:        fmt.Sprintf("%s Cooling down %d min.", reason, int(d.Round(time.Minute)/time.Minute)),
	}
}

func formatWindow(d time.Duration) string {
	if d > 0 && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
