package netting

import (
	"github.com/ksred/klear-compensation/internal/types"
)

// Exclusion records a participant left out of subset generation.
type Exclusion struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason"`
}

// screen drops participants with data errors and returns private eligible
// views of the rest. A view keeps only the credits and debits this run may
// net, so its NetBalance is the balance the optimizer works with. The input
// slice and its nested slices are never modified.
func screen(participants []types.Participant, cfg Configuration) ([]types.Participant, []Exclusion) {
	eligible := make([]types.Participant, 0, len(participants))
	var exclusions []Exclusion
	seen := make(map[string]struct{}, len(participants))

	for i := range participants {
		p := &participants[i]
		if reason := dataError(p); reason != "" {
			exclusions = append(exclusions, Exclusion{ParticipantID: p.ID, Reason: reason})
			continue
		}
		if _, dup := seen[p.ID]; dup {
			exclusions = append(exclusions, Exclusion{ParticipantID: p.ID, Reason: "duplicate participant id"})
			continue
		}
		seen[p.ID] = struct{}{}

		view := eligibleView(p, cfg)
		if len(view.Credits) == 0 && len(view.Debits) == 0 {
			exclusions = append(exclusions, Exclusion{ParticipantID: p.ID, Reason: "no credits or debits eligible under the configuration"})
			continue
		}
		eligible = append(eligible, view)
	}

	return eligible, exclusions
}

func dataError(p *types.Participant) string {
	switch {
	case p.ID == "":
		return "missing participant id"
	case len(p.Credits) == 0 && len(p.Debits) == 0:
		return "participant has no credits and no debits"
	case !p.RiskTier.Valid():
		return "unknown risk tier"
	case p.Reliability < 0 || p.Reliability > 100:
		return "reliability out of range"
	}
	for _, c := range p.Credits {
		if c.Liquidity < 0 || c.Liquidity > 100 {
			return "credit " + c.ID + " has liquidity out of range"
		}
		if c.Value < 0 {
			return "credit " + c.ID + " has a negative value"
		}
		if c.Discount < 0 || c.Discount >= 1 {
			return "credit " + c.ID + " has a discount out of range"
		}
	}
	for _, d := range p.Debits {
		if d.Amount < 0 {
			return "debit " + d.ID + " has a negative amount"
		}
	}
	return ""
}

func eligibleView(p *types.Participant, cfg Configuration) types.Participant {
	view := *p
	view.Credits = make([]types.Credit, 0, len(p.Credits))
	view.Debits = make([]types.Debit, 0, len(p.Debits))

	for _, c := range p.Credits {
		if c.Status != types.CreditAvailable || !cfg.allowsType(c.Type) {
			continue
		}
		if c.Discount > 0 {
			if !cfg.Preferences.AcceptDiscounts {
				continue
			}
			c.Value *= 1 - c.Discount
		}
		c.Collateral = append([]string(nil), c.Collateral...)
		view.Credits = append(view.Credits, c)
	}

	for _, d := range p.Debits {
		if !cfg.allowsType(d.Type) {
			continue
		}
		switch d.Status {
		case types.DebitPending:
		case types.DebitInstallment:
			if !cfg.Preferences.AllowInstallments {
				continue
			}
		default:
			continue
		}
		view.Debits = append(view.Debits, d)
	}

	return view
}
