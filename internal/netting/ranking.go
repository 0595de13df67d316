package netting

import (
	"math"
	"sort"

	"github.com/ksred/klear-compensation/internal/types"
)

// MaxRanked is the number of matches kept after ranking.
const MaxRanked = 20

// ValidateMatch reports whether the match satisfies the configured
// constraints. It is a pure function of its inputs.
func ValidateMatch(m *types.Match, cfg Configuration) bool {
	c := cfg.Constraints
	if m.Value < c.MinValue {
		return false
	}
	if c.MaxValue > 0 && m.Value > c.MaxValue {
		return false
	}
	if c.MaxExecutionDays > 0 && m.ExecutionDays > c.MaxExecutionDays {
		return false
	}
	return m.Risk.Rank() <= cfg.MaxRiskTier().Rank()
}

// ScoreMatch weighs a match against the configured objectives.
func ScoreMatch(m *types.Match, cfg Configuration) float64 {
	w := cfg.Objectives

	var riskScore float64
	switch m.Risk {
	case types.RiskLow:
		riskScore = 100
	case types.RiskMedium:
		riskScore = 50
	}
	speedScore := math.Max(0, 100-float64(m.ExecutionDays)*5)

	return m.Economy*w.Economy*100 +
		riskScore*w.Risk +
		speedScore*w.Speed +
		float64(len(m.Participants))*10*w.Participants +
		m.Confidence
}

// Rank drops invalid matches, scores the rest and returns the best MaxRanked
// in descending score order. Ties keep their input order.
func Rank(matches []*types.Match, cfg Configuration) []*types.Match {
	ranked := make([]*types.Match, 0, len(matches))
	for _, m := range matches {
		if !ValidateMatch(m, cfg) {
			continue
		}
		m.Score = ScoreMatch(m, cfg)
		ranked = append(ranked, m)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > MaxRanked {
		ranked = ranked[:MaxRanked]
	}
	return ranked
}
