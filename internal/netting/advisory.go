package netting

import (
	"fmt"

	"github.com/ksred/klear-compensation/internal/types"
)

const (
	RecommendRelaxMinimum   = "Relax the minimum value constraint: no group of participants reaches it"
	RecommendComplementary  = "Add complementary participants: the registry lacks enough net creditors and net debtors to form groups of three"
	RecommendWidenTypes     = "Widen the allowed instrument types: the whitelist leaves too few eligible credits and debits"
	RecommendRelaxRisk      = "Raise the maximum acceptable risk tier or add guarantees to riskier participants"
	RecommendRelaxDeadline  = "Extend the maximum execution days: every candidate plan exceeds the deadline"
	RecommendRelaxMaximum   = "Raise the maximum value constraint: candidate groups exceed it"
	RecommendGuarantees     = "Require additional guarantees: the average risk of covered participants is high"
	RecommendMoreLiquidity  = "Onboard more participants or credits: fewer than half of the participants were covered"
	RecommendReviewExcluded = "Review registry data for excluded participants"
)

const (
	highAverageRisk    = 60.0
	concentrationShare = 0.5
	tightScheduleDays  = 3
)

// Statistics summarizes the accepted matches of one run.
type Statistics struct {
	ParticipantsCovered  int                    `json:"participants_covered"`
	TotalParticipants    int                    `json:"total_participants"`
	TotalValue           float64                `json:"total_value"`
	TotalEconomy         float64                `json:"total_economy"`
	AverageExecutionDays float64                `json:"average_execution_days"`
	AverageConfidence    float64                `json:"average_confidence"`
	SuccessRate          float64                `json:"success_rate"`
	RiskDistribution     map[types.RiskTier]int `json:"risk_distribution"`
}

// Summarize computes statistics over the accepted matches.
func Summarize(matches []*types.Match, participants []types.Participant) Statistics {
	stats := Statistics{
		TotalParticipants: len(participants),
		RiskDistribution:  map[types.RiskTier]int{},
	}

	covered := make(map[string]struct{})
	var days, confidence, value, economy float64
	for _, m := range matches {
		for _, id := range m.Participants {
			covered[id] = struct{}{}
		}
		value += m.Value
		economy += m.Economy
		days += float64(m.ExecutionDays)
		confidence += m.Confidence
		stats.RiskDistribution[m.Risk]++
	}

	stats.ParticipantsCovered = len(covered)
	stats.TotalValue = roundCents(value)
	stats.TotalEconomy = roundCents(economy)
	if len(matches) > 0 {
		stats.AverageExecutionDays = days / float64(len(matches))
		stats.AverageConfidence = confidence / float64(len(matches))
	}
	if len(participants) > 0 {
		stats.SuccessRate = float64(len(covered)) / float64(len(participants))
	}
	return stats
}

// advise produces the recommendations and alerts of a run. They are advisory
// strings, not enforced business rules.
func advise(matches []*types.Match, stats Statistics, participants, eligible []types.Participant, exclusions []Exclusion, cfg Configuration) (recommendations, alerts []string) {
	risk := make(map[string]types.RiskTier, len(participants))
	for _, p := range participants {
		risk[p.ID] = p.RiskTier
	}

	if len(matches) == 0 {
		recommendations = append(recommendations, noMatchRecommendations(eligible, cfg)...)
	} else {
		var riskSum float64
		highRisk := 0
		for _, m := range matches {
			for _, id := range m.Participants {
				riskSum += risk[id].Score()
				if risk[id] == types.RiskHigh {
					highRisk++
				}
			}
		}
		if riskSum/float64(stats.ParticipantsCovered) >= highAverageRisk {
			recommendations = append(recommendations, RecommendGuarantees)
		}
		if stats.SuccessRate < 0.5 {
			recommendations = append(recommendations, RecommendMoreLiquidity)
		}
		if highRisk > 0 {
			alerts = append(alerts, fmt.Sprintf("%d high-risk participant(s) included in accepted matches", highRisk))
		}
	}

	if len(exclusions) > 0 {
		recommendations = append(recommendations, fmt.Sprintf("%s (%d)", RecommendReviewExcluded, len(exclusions)))
	}

	for _, m := range matches {
		if len(matches) > 1 && stats.TotalValue > 0 && m.Value > concentrationShare*stats.TotalValue {
			alerts = append(alerts, fmt.Sprintf("match %s concentrates %.0f%% of the compensated value", m.ID, 100*m.Value/stats.TotalValue))
		}
		// Schedules built by BuildMatch carry at least two flow steps plus
		// validation, risk and confirmation, so this only fires for matches
		// assembled elsewhere.
		if m.ExecutionDays < tightScheduleDays {
			alerts = append(alerts, fmt.Sprintf("match %s has a tight schedule of %d day(s)", m.ID, m.ExecutionDays))
		}
	}

	return recommendations, alerts
}

func noMatchRecommendations(eligible []types.Participant, cfg Configuration) []string {
	var out []string
	c := cfg.Constraints

	creditors, debtors := 0, 0
	for i := range eligible {
		switch b := eligible[i].NetBalance(); {
		case b > Epsilon:
			creditors++
		case b < -Epsilon:
			debtors++
		}
	}

	if c.MinValue > 0 {
		out = append(out, RecommendRelaxMinimum)
	}
	if len(eligible) < MinGroupSize || creditors == 0 || debtors == 0 {
		out = append(out, RecommendComplementary)
	}
	if len(c.AllowedTypes) > 0 {
		out = append(out, RecommendWidenTypes)
	}
	if c.MaxRisk != "" && c.MaxRisk != types.RiskHigh {
		out = append(out, RecommendRelaxRisk)
	}
	if c.MaxExecutionDays > 0 {
		out = append(out, RecommendRelaxDeadline)
	}
	if c.MaxValue > 0 {
		out = append(out, RecommendRelaxMaximum)
	}
	if len(out) == 0 {
		out = append(out, RecommendComplementary)
	}
	return out
}
