package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/internal/types"
)

var (
	riskTiers   = []types.RiskTier{types.RiskLow, types.RiskMedium, types.RiskHigh}
	instruments = []types.InstrumentType{
		types.InstrumentICMS, types.InstrumentIPI, types.InstrumentPIS,
		types.InstrumentCOFINS, types.InstrumentISS,
	}
)

// runStats tracks engine run durations
type runStats struct {
	durations []time.Duration
}

func (rs *runStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
}

// calculate returns min, max, mean, median, 95th and 99th percentile durations
func (rs *runStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95 = sorted[int(math.Ceil(float64(len(sorted))*0.95))-1]
	p99 = sorted[int(math.Ceil(float64(len(sorted))*0.99))-1]
	return
}

var simulateCmd = &cli.Command{
	Name:  "simulate",
	Usage: "Run the engine repeatedly over a generated market and report timings",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "participants",
			Value: 100,
			Usage: "specify the market size",
		},
		&cli.IntFlag{
			Name:  "rounds",
			Value: 10,
			Usage: "specify the number of engine runs",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Value: 1,
			Usage: "specify the market generator seed",
		},
		&cli.IntFlag{
			Name:  "workers",
			Value: 4,
			Usage: "specify the number of concurrent evaluation workers",
		},
	},
	Action: func(ctx *cli.Context) error {
		var (
			size    = ctx.Int("participants")
			rounds  = ctx.Int("rounds")
			workers = ctx.Int("workers")
		)
		if size < netting.MinGroupSize {
			return fmt.Errorf("invalid participants: need at least %d", netting.MinGroupSize)
		}
		if rounds < 1 || workers < 1 {
			return errors.New("invalid rounds or workers")
		}

		market := generateMarket(rand.New(rand.NewSource(ctx.Int64("seed"))), size)
		engine := netting.NewEngine(workers)
		cfg := netting.DefaultConfiguration()

		stats := &runStats{}
		var last *netting.Result
		for i := 0; i < rounds; i++ {
			start := time.Now()
			result, err := engine.Optimize(ctx.Context, market, cfg)
			if err != nil {
				return err
			}
			stats.addDuration(time.Since(start))
			last = result
		}

		min, max, mean, median, p95, p99 := stats.calculate()
		log.Info().
			Int("participants", size).
			Int("rounds", rounds).
			Int("matches", len(last.Matches)).
			Int("covered", last.Statistics.ParticipantsCovered).
			Float64("total_value", last.Statistics.TotalValue).
			Float64("success_rate", last.Statistics.SuccessRate).
			Msg("simulation finished")
		log.Info().
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Dur("p99", p99).
			Msg("engine run durations")
		return nil
	},
}

// generateMarket builds a reproducible market where roughly half the
// participants hold surplus credits and half owe debits.
func generateMarket(rng *rand.Rand, n int) []types.Participant {
	out := make([]types.Participant, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("SIM%04d", i)
		instrument := instruments[rng.Intn(len(instruments))]
		amount := math.Round(10000 + rng.Float64()*490000)

		p := types.Participant{
			ID:          id,
			EntityRef:   "SIM-" + id,
			RiskTier:    riskTiers[rng.Intn(len(riskTiers))],
			Reliability: 50 + rng.Float64()*50,
		}
		if rng.Intn(2) == 0 {
			p.Role = types.RoleCreditor
			p.Credits = []types.Credit{{
				ID:        id + "-C",
				Type:      instrument,
				Value:     amount,
				Status:    types.CreditAvailable,
				Liquidity: rng.Float64() * 100,
			}}
		} else {
			p.Role = types.RoleDebtor
			p.Debits = []types.Debit{{
				ID:       id + "-D",
				Type:     instrument,
				Amount:   amount,
				Status:   types.DebitPending,
				Priority: types.PriorityMedium,
			}}
		}
		out = append(out, p)
	}
	return out
}
