package netting

import (
	"math"
	"sort"

	"github.com/ksred/klear-compensation/internal/types"
)

const (
	MinGroupSize      = 3
	MaxGroupSize      = 8
	MaxSubsetsPerSize = 50
)

// GenerateCombinations returns candidate participant groups as index sets into
// participants. Sizes run from MinGroupSize to min(len, MaxGroupSize) and at
// most MaxSubsetsPerSize groups are produced per size, so for more than a few
// dozen participants the search is a sample, not an exhaustive enumeration.
//
// Groups are drawn in priority order: creditors and debtors alternate, largest
// eligible balances first, or most liquid first when PrioritizeLiquidity is set.
func GenerateCombinations(participants []types.Participant, cfg Configuration) [][]int {
	n := len(participants)
	if n < MinGroupSize {
		return nil
	}

	order := priorityOrder(participants, cfg.Preferences.PrioritizeLiquidity)
	maxSize := n
	if maxSize > MaxGroupSize {
		maxSize = MaxGroupSize
	}

	var subsets [][]int
	for k := MinGroupSize; k <= maxSize; k++ {
		idx := make([]int, k)
		for i := range idx {
			idx[i] = i
		}

		for produced := 0; produced < MaxSubsetsPerSize; produced++ {
			subset := make([]int, k)
			for i, pos := range idx {
				subset[i] = order[pos]
			}
			sort.Ints(subset)
			subsets = append(subsets, subset)

			// advance to the next lexicographic index combination
			i := k - 1
			for i >= 0 && idx[i] == n-k+i {
				i--
			}
			if i < 0 {
				break
			}
			idx[i]++
			for j := i + 1; j < k; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}

	return subsets
}

// priorityOrder interleaves net creditors and net debtors, each ranked by the
// key descending, so the first sampled groups are complementary. Participants
// with a zero balance go last.
func priorityOrder(participants []types.Participant, byLiquidity bool) []int {
	keys := make([]float64, len(participants))
	var creditors, debtors, flat []int
	for i := range participants {
		balance := participants[i].NetBalance()
		if byLiquidity {
			keys[i] = participants[i].AverageLiquidity()
		} else {
			keys[i] = math.Abs(balance)
		}
		switch {
		case balance > Epsilon:
			creditors = append(creditors, i)
		case balance < -Epsilon:
			debtors = append(debtors, i)
		default:
			flat = append(flat, i)
		}
	}

	byKey := func(group []int) {
		sort.SliceStable(group, func(a, b int) bool {
			ka, kb := keys[group[a]], keys[group[b]]
			if ka != kb {
				return ka > kb
			}
			return participants[group[a]].ID < participants[group[b]].ID
		})
	}
	byKey(creditors)
	byKey(debtors)
	byKey(flat)

	order := make([]int, 0, len(participants))
	for i := 0; i < len(creditors) || i < len(debtors); i++ {
		if i < len(creditors) {
			order = append(order, creditors[i])
		}
		if i < len(debtors) {
			order = append(order, debtors[i])
		}
	}
	return append(order, flat...)
}
