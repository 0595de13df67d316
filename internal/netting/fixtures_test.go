package netting

import (
	"fmt"
	"time"

	"github.com/ksred/klear-compensation/internal/types"
)

var testReference = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func testConfig() Configuration {
	cfg := DefaultConfiguration()
	cfg.ReferenceDate = testReference
	return cfg
}

// makeParticipant builds a participant holding one credit per positive amount
// and one debit per negative amount, all of the given instrument type.
func makeParticipant(id string, risk types.RiskTier, instrument types.InstrumentType, amounts ...float64) types.Participant {
	p := types.Participant{
		ID:          id,
		EntityRef:   "ENT-" + id,
		Role:        types.RoleBoth,
		RiskTier:    risk,
		Reliability: 80,
	}
	for i, a := range amounts {
		switch {
		case a > 0:
			p.Credits = append(p.Credits, types.Credit{
				ID:        fmt.Sprintf("%s-C%d", id, i),
				Type:      instrument,
				Value:     a,
				Status:    types.CreditAvailable,
				Liquidity: 70,
			})
		case a < 0:
			p.Debits = append(p.Debits, types.Debit{
				ID:          fmt.Sprintf("%s-D%d", id, i),
				Type:        instrument,
				Amount:      -a,
				Status:      types.DebitPending,
				Priority:    types.PriorityMedium,
				PenaltyRate: 0.1,
			})
		}
	}
	switch {
	case len(p.Debits) == 0:
		p.Role = types.RoleCreditor
	case len(p.Credits) == 0:
		p.Role = types.RoleDebtor
	}
	return p
}

// triangle is the A/B/C scenario: A +450k, B −725k while holding a 75k
// credit, C +100k.
func triangle() []types.Participant {
	return []types.Participant{
		makeParticipant("A", types.RiskLow, types.InstrumentICMS, 450000),
		makeParticipant("B", types.RiskMedium, types.InstrumentICMS, 75000, -800000),
		makeParticipant("C", types.RiskLow, types.InstrumentICMS, 100000),
	}
}

// market builds n participants alternating between surplus and deficit with
// a mix of risk tiers and instruments.
func market(n int) []types.Participant {
	tiers := []types.RiskTier{types.RiskLow, types.RiskMedium, types.RiskHigh}
	instruments := []types.InstrumentType{types.InstrumentICMS, types.InstrumentIPI, types.InstrumentPIS}
	out := make([]types.Participant, 0, n)
	for i := 0; i < n; i++ {
		amount := float64(10000 * (i%5 + 1))
		if i%2 == 1 {
			amount = -amount * 1.5
		}
		out = append(out, makeParticipant(fmt.Sprintf("P%02d", i), tiers[i%3], instruments[i%3], amount))
	}
	return out
}

func pointers(ps []types.Participant) []*types.Participant {
	out := make([]*types.Participant, len(ps))
	for i := range ps {
		out[i] = &ps[i]
	}
	return out
}
