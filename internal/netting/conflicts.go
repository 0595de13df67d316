package netting

import (
	"github.com/ksred/klear-compensation/internal/types"
)

// ResolveConflicts greedily accepts matches in ranked order, skipping any
// match that shares a participant with one already accepted.
func ResolveConflicts(ranked []*types.Match) []*types.Match {
	taken := make(map[string]struct{})
	accepted := make([]*types.Match, 0, len(ranked))

	for _, m := range ranked {
		conflict := false
		for _, id := range m.Participants {
			if _, ok := taken[id]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, id := range m.Participants {
			taken[id] = struct{}{}
		}
		accepted = append(accepted, m)
	}

	return accepted
}
