package netting

import (
	"math"

	"github.com/ksred/klear-compensation/internal/types"
)

// Epsilon is the currency tolerance below which a balance counts as settled.
const Epsilon = 0.01

const (
	PreconditionAvailability = "credit availability confirmed"
	PreconditionGuarantee    = "guarantee validated"
	PreconditionInstallment  = "installment agreement signed"
	PreconditionDiscount     = "discount accepted"
)

// OptimizeFlows greedily routes value from members with a surplus to members
// with a deficit. Each round picks the pair maximizing
// compatibility × transferable value × economy weight; pairs whose transferable
// value falls below the configured minimum are dropped for the rest of the run.
// The members themselves are never modified.
func OptimizeFlows(members []*types.Participant, matrix [][]float64, cfg Configuration) []types.Flow {
	n := len(members)
	remaining := make([]float64, n)
	positive, negative := 0, 0
	for i, m := range members {
		remaining[i] = m.NetBalance()
		switch {
		case remaining[i] > Epsilon:
			positive++
		case remaining[i] < -Epsilon:
			negative++
		}
	}
	if positive == 0 || negative == 0 {
		return nil
	}

	discarded := make([][]bool, n)
	for i := range discarded {
		discarded[i] = make([]bool, n)
	}

	weight := cfg.Objectives.Economy
	var flows []types.Flow

	for iter := 0; iter < n*n; iter++ {
		bestI, bestJ := -1, -1
		var bestScore, bestValue float64

		for i := 0; i < n; i++ {
			if remaining[i] <= Epsilon {
				continue
			}
			for j := 0; j < n; j++ {
				if remaining[j] >= -Epsilon || discarded[i][j] {
					continue
				}
				value := math.Min(remaining[i], -remaining[j])
				if value < cfg.Constraints.MinValue {
					discarded[i][j] = true
					continue
				}
				score := matrix[i][j] * value * weight
				if bestI < 0 || score > bestScore || (score == bestScore && value > bestValue) {
					bestI, bestJ = i, j
					bestScore, bestValue = score, value
				}
			}
		}

		if bestI < 0 {
			break
		}

		src, dst := members[bestI], members[bestJ]
		flows = append(flows, types.Flow{
			From:          src.ID,
			To:            dst.ID,
			Value:         bestValue,
			Kind:          flowKind(src, dst),
			Order:         len(flows) + 1,
			Preconditions: preconditions(src, dst),
		})

		remaining[bestI] -= bestValue
		remaining[bestJ] += bestValue
		if math.Abs(remaining[bestI]) < Epsilon {
			remaining[bestI] = 0
		}
		if math.Abs(remaining[bestJ]) < Epsilon {
			remaining[bestJ] = 0
		}
	}

	return flows
}

// flowKind is CREDIT when the source holds a credit usable against one of the
// destination's debit types, DEBIT when the source assumes the obligation as a
// two-sided participant, NET_DIFFERENCE otherwise.
func flowKind(src, dst *types.Participant) types.FlowKind {
	owed := make(map[types.InstrumentType]struct{}, len(dst.Debits))
	for _, d := range dst.Debits {
		owed[d.Type] = struct{}{}
	}
	for _, c := range src.Credits {
		if _, ok := owed[c.Type]; ok {
			return types.FlowCredit
		}
	}
	if src.Role == types.RoleBoth {
		return types.FlowDebit
	}
	return types.FlowNetDifference
}

func preconditions(src, dst *types.Participant) []string {
	conds := []string{PreconditionAvailability}
	if src.RiskTier == types.RiskHigh || dst.RiskTier == types.RiskHigh {
		conds = append(conds, PreconditionGuarantee)
	}
	for _, d := range dst.Debits {
		if d.Status == types.DebitInstallment {
			conds = append(conds, PreconditionInstallment)
			break
		}
	}
	for _, c := range src.Credits {
		if c.Discount > 0 {
			conds = append(conds, PreconditionDiscount)
			break
		}
	}
	return conds
}
