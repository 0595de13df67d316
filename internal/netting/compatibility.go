package netting

import (
	"github.com/ksred/klear-compensation/internal/types"
)

// Compatibility scores how well two participants fit in the same compensation
// group. Higher is better; the score is never negative and does not depend on
// argument order.
func Compatibility(a, b *types.Participant) float64 {
	var score float64

	typesA, typesB := a.InstrumentTypes(), b.InstrumentTypes()
	shared := 0
	for t := range typesA {
		if _, ok := typesB[t]; ok {
			shared++
		}
	}
	score += 10 * float64(shared)

	balA, balB := a.NetBalance(), b.NetBalance()
	if (balA > 0 && balB < 0) || (balA < 0 && balB > 0) {
		score += 50
	}

	avgRisk := (a.RiskTier.Score() + b.RiskTier.Score()) / 2
	score += 0.3 * (100 - avgRisk)

	credits := len(a.Credits) + len(b.Credits)
	if credits > 0 {
		var liquidity float64
		for _, c := range a.Credits {
			liquidity += c.Liquidity
		}
		for _, c := range b.Credits {
			liquidity += c.Liquidity
		}
		score += 0.2 * (liquidity / float64(credits))
	}

	return score
}

// compatibilityMatrix scores every ordered pair of the subset once.
func compatibilityMatrix(members []*types.Participant) [][]float64 {
	n := len(members)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := Compatibility(members[i], members[j])
			matrix[i][j] = s
			matrix[j][i] = s
		}
	}
	return matrix
}
