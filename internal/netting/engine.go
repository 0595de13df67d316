// Package netting finds multilateral compensation groups among participants
// holding fiscal credits and debits.
//
// The engine is a bounded, deterministic heuristic: it samples participant
// groups, routes value greedily inside each group, ranks the resulting plans
// against weighted objectives and keeps a participant-disjoint selection. It
// holds no state between runs and never modifies its input.
package netting

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/klear-compensation/internal/types"
)

// Result is the outcome of one optimization run.
type Result struct {
	Matches         []types.Match `json:"matches"`
	Statistics      Statistics    `json:"statistics"`
	Recommendations []string      `json:"recommendations"`
	Alerts          []string      `json:"alerts"`
	Exclusions      []Exclusion   `json:"exclusions,omitempty"`
}

// Engine evaluates candidate groups concurrently on a bounded worker pool.
type Engine struct {
	workers int
}

// NewEngine returns an engine evaluating at most workers groups at a time.
func NewEngine(workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{workers: workers}
}

// Optimize runs the engine with one worker per CPU.
func Optimize(ctx context.Context, participants []types.Participant, cfg Configuration) (*Result, error) {
	return NewEngine(runtime.NumCPU()).Optimize(ctx, participants, cfg)
}

// Optimize validates the configuration, screens participants, evaluates
// candidate groups and returns the accepted matches with statistics and
// advice. A configuration error is returned as *ConfigError before any work
// is done. A cancelled context aborts the run with ctx.Err().
func (e *Engine) Optimize(ctx context.Context, participants []types.Participant, cfg Configuration) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReferenceDate.IsZero() {
		cfg.ReferenceDate = referenceDate(cfg)
	}

	logger := log.With().
		Str("service", "netting").
		Int("participants", len(participants)).
		Logger()
	start := time.Now()

	eligible, exclusions := screen(participants, cfg)
	for _, ex := range exclusions {
		logger.Debug().
			Str("participant_id", ex.ParticipantID).
			Str("reason", ex.Reason).
			Msg("participant excluded from subset generation")
	}

	subsets := GenerateCombinations(eligible, cfg)
	logger.Debug().
		Int("eligible", len(eligible)).
		Int("subsets", len(subsets)).
		Msg("generated candidate groups")

	candidates, err := e.evaluate(ctx, eligible, subsets, cfg)
	if err != nil {
		return nil, err
	}

	ranked := Rank(candidates, cfg)
	accepted := ResolveConflicts(ranked)

	stats := Summarize(accepted, participants)
	recommendations, alerts := advise(accepted, stats, participants, eligible, exclusions, cfg)

	result := &Result{
		Matches:         make([]types.Match, 0, len(accepted)),
		Statistics:      stats,
		Recommendations: recommendations,
		Alerts:          alerts,
		Exclusions:      exclusions,
	}
	for _, m := range accepted {
		result.Matches = append(result.Matches, *m)
	}

	logger.Debug().
		Int("candidates", len(candidates)).
		Int("ranked", len(ranked)).
		Int("accepted", len(accepted)).
		Float64("total_value", stats.TotalValue).
		Dur("elapsed", time.Since(start)).
		Msg("optimization completed")

	return result, nil
}

// evaluate runs scorer, flow optimizer and match builder for every subset.
// Results are collected by subset index and deduplicated by match ID, so the
// output order does not depend on scheduling.
func (e *Engine) evaluate(ctx context.Context, eligible []types.Participant, subsets [][]int, cfg Configuration) ([]*types.Match, error) {
	results := make([]*types.Match, len(subsets))
	defects := make([]interface{}, len(subsets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, subset := range subsets {
		i, subset := i, subset
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() {
				if r := recover(); r != nil {
					defects[i] = r
				}
			}()

			members := make([]*types.Participant, len(subset))
			for k, idx := range subset {
				members[k] = &eligible[idx]
			}
			matrix := compatibilityMatrix(members)
			flows := OptimizeFlows(members, matrix, cfg)
			if m, ok := BuildMatch(members, flows, cfg); ok {
				results[i] = m
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("optimization aborted: %w", err)
	}
	for _, d := range defects {
		if d != nil {
			panic(d)
		}
	}

	seen := make(map[string]struct{}, len(results))
	candidates := make([]*types.Match, 0, len(results))
	for _, m := range results {
		if m == nil {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		candidates = append(candidates, m)
	}
	return candidates, nil
}
