package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionKind is the verdict of a decision pass.
type DecisionKind string

const (
	DecisionCandidateFound DecisionKind = "candidate_found"
	DecisionCooldown       DecisionKind = "cooldown"
)

// Decision is the outcome of evaluating a ranking.
// CandidateFound carries Symbol and Return, Cooldown carries NextCheckAt.
type Decision struct {
	Kind        DecisionKind        `json:"kind"`
	At          time.Time           `json:"at"`
	Symbol      string              `json:"symbol,omitempty"`
	Return      decimal.NullDecimal `json:"return"`
	NextCheckAt *time.Time          `json:"next_check_at,omitempty"`
	Note        string              `json:"note"`
}

// IsCandidate reports whether the decision names a symbol to enter.
func (d Decision) IsCandidate() bool {
	return d.Kind == DecisionCandidateFound
}
