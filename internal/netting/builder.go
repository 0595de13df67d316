package netting

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-compensation/internal/types"
)

const (
	GuaranteeInsuranceBond = "insurance bond"
	GuaranteeBank          = "bank guarantee"
	GuaranteeEscrow        = "escrow account"
	GuaranteeCreditReview  = "deep credit analysis"
)

const (
	StepValidate = "Validate documents and balances"
	StepRisk     = "Risk analysis and guarantee approval"
	StepConfirm  = "Confirm and record compensation"
)

var matchNamespace = uuid.MustParse("6f1c7f0e-3c1a-4c55-9d1e-5b7a4a2f8e10")

// BuildMatch turns the flows of one subset into a fully described match.
// It returns false when the flows touch fewer than MinGroupSize participants.
// Broken conservation or a cyclic schedule is a defect and panics.
func BuildMatch(members []*types.Participant, flows []types.Flow, cfg Configuration) (*types.Match, bool) {
	if len(flows) == 0 {
		return nil, false
	}

	byID := make(map[string]*types.Participant, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	assertConservation(byID, flows)

	touched := make(map[string]*types.Participant)
	for _, f := range flows {
		touched[f.From] = byID[f.From]
		touched[f.To] = byID[f.To]
	}
	if len(touched) < MinGroupSize {
		return nil, false
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// summed in id order so float rounding is the same on every run
	var riskSum, reliabilitySum float64
	highRisk := false
	for _, id := range ids {
		p := touched[id]
		riskSum += p.RiskTier.Score()
		reliabilitySum += p.Reliability
		if p.RiskTier == types.RiskHigh {
			highRisk = true
		}
	}
	avgRisk := riskSum / float64(len(touched))
	avgReliability := reliabilitySum / float64(len(touched))

	var value, economy float64
	for _, f := range flows {
		value += f.Value
		economy += f.Value * (cfg.Economy.MonthlyInterestRate + penaltyRate(byID[f.To], cfg))
	}

	risk := operationalRisk(avgRisk, len(flows), value, cfg)
	schedule := buildSchedule(flows, referenceDate(cfg))
	assertAcyclic(schedule)

	return &types.Match{
		ID:            matchID(ids, flows),
		Participants:  ids,
		Value:         roundCents(value),
		Economy:       roundCents(economy),
		Complexity:    math.Min(100, 15*float64(len(flows))),
		Confidence:    math.Max(0, avgReliability-avgRisk),
		ExecutionDays: len(schedule),
		Risk:          risk,
		Flows:         flows,
		Guarantees:    guarantees(risk, highRisk, cfg),
		Schedule:      schedule,
	}, true
}

// penaltyRate is the amount-weighted penalty rate of the receiver's
// outstanding debits, or the configured default when none carry one.
func penaltyRate(receiver *types.Participant, cfg Configuration) float64 {
	var weighted, total float64
	for _, d := range receiver.Debits {
		if !d.Outstanding() {
			continue
		}
		weighted += d.Amount * d.PenaltyRate
		total += d.Amount
	}
	if total <= 0 || weighted <= 0 {
		return cfg.Economy.DefaultPenaltyRate
	}
	return weighted / total
}

// operationalRisk combines participant risk, flow count and value size.
// Participant risk alone contributes at most 0.6 × 10 for a LOW-only group,
// so such a group only escalates through complexity or value.
func operationalRisk(avgRisk float64, flowCount int, value float64, cfg Configuration) types.RiskTier {
	combined := 0.6*avgRisk + 3*float64(flowCount)
	if cfg.Economy.HighValueThreshold > 0 && value > cfg.Economy.HighValueThreshold {
		combined += 25
	}
	switch {
	case combined < 30:
		return types.RiskLow
	case combined < 60:
		return types.RiskMedium
	default:
		return types.RiskHigh
	}
}

func guarantees(risk types.RiskTier, highRiskParticipant bool, cfg Configuration) []string {
	var out []string
	switch risk {
	case types.RiskHigh:
		out = append(out, GuaranteeInsuranceBond, GuaranteeBank)
	case types.RiskMedium:
		out = append(out, GuaranteeEscrow)
	default:
		if cfg.Preferences.RequireGuarantees {
			out = append(out, GuaranteeEscrow)
		}
	}
	if highRiskParticipant {
		out = append(out, GuaranteeCreditReview)
	}
	return out
}

// buildSchedule lays out a linear plan: validation, risk approval, one step
// per flow in emission order, then confirmation. Step n is due n days after start.
func buildSchedule(flows []types.Flow, start time.Time) []types.Step {
	steps := make([]types.Step, 0, len(flows)+3)
	add := func(description, responsible string) {
		order := len(steps) + 1
		var deps []int
		if order > 1 {
			deps = []int{order - 1}
		}
		steps = append(steps, types.Step{
			Order:       order,
			Description: description,
			Responsible: responsible,
			DueDate:     start.AddDate(0, 0, order),
			DependsOn:   deps,
			Status:      types.StepPending,
		})
	}

	add(StepValidate, "operations")
	add(StepRisk, "risk")
	for _, f := range flows {
		add(fmt.Sprintf("Transfer %s from %s to %s", formatAmount(f.Value), f.From, f.To), f.From)
	}
	add(StepConfirm, "operations")

	return steps
}

func referenceDate(cfg Configuration) time.Time {
	if cfg.ReferenceDate.IsZero() {
		return time.Now().UTC().Truncate(24 * time.Hour)
	}
	return cfg.ReferenceDate
}

func matchID(participants []string, flows []types.Flow) string {
	var b strings.Builder
	b.WriteString(strings.Join(participants, ","))
	for _, f := range flows {
		fmt.Fprintf(&b, "|%s>%s:%s", f.From, f.To, formatAmount(f.Value))
	}
	return "CMP_" + uuid.NewSHA1(matchNamespace, []byte(b.String())).String()
}

// assertConservation checks that every participant moved at most its own
// imbalance and in the right direction: a surplus only drains towards zero and
// a deficit only fills towards zero.
func assertConservation(byID map[string]*types.Participant, flows []types.Flow) {
	net := make(map[string]float64, len(byID))
	for _, f := range flows {
		if _, ok := byID[f.From]; !ok {
			panic(fmt.Sprintf("netting: flow %d leaves unknown participant %s", f.Order, f.From))
		}
		if _, ok := byID[f.To]; !ok {
			panic(fmt.Sprintf("netting: flow %d enters unknown participant %s", f.Order, f.To))
		}
		if f.Value <= 0 || f.From == f.To {
			panic(fmt.Sprintf("netting: flow %d is degenerate", f.Order))
		}
		net[f.From] -= f.Value
		net[f.To] += f.Value
	}

	for id, p := range byID {
		original := p.NetBalance()
		after := original + net[id]
		var ok bool
		if original >= 0 {
			ok = after >= -Epsilon && after <= original+Epsilon
		} else {
			ok = after <= Epsilon && after >= original-Epsilon
		}
		if !ok {
			panic(fmt.Sprintf("netting: conservation broken for %s: balance %.2f, net flow %.2f", id, original, net[id]))
		}
	}
}

// assertAcyclic requires every dependency to point at an earlier existing step,
// which rules out cycles.
func assertAcyclic(steps []types.Step) {
	orders := make(map[int]struct{}, len(steps))
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := orders[dep]; !ok || dep >= s.Order {
				panic(fmt.Sprintf("netting: step %d depends on %d, schedule is not a DAG", s.Order, dep))
			}
		}
		orders[s.Order] = struct{}{}
	}
}

func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
