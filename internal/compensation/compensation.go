// Package compensation runs the netting engine for API clients, persists the
// resulting matches and tracks their execution.
package compensation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/internal/metrics"
	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/internal/types"
	"github.com/ksred/klear-compensation/pkg/response"
)

const (
	RunCompleted = "COMPLETED"
	RunNoMatches = "NO_MATCHES"
)

// ParticipantSource supplies registered participants for optimization runs.
type ParticipantSource interface {
	ListParticipants(ids ...string) ([]types.Participant, error)
}

// Service handles optimization runs and match execution
type Service struct {
	db           *Database
	participants ParticipantSource
	engine       *netting.Engine
	defaults     netting.Configuration
	now          func() time.Time
	executeMu    sync.Mutex
}

// NewService creates a new compensation service. defaults seeds every request
// configuration before the client's fields are applied.
func NewService(gormDB *gorm.DB, participants ParticipantSource, engine *netting.Engine, defaults netting.Configuration) *Service {
	return &Service{
		db:           NewDatabase(gormDB),
		participants: participants,
		engine:       engine,
		defaults:     defaults,
		now:          time.Now,
	}
}

// GetDB returns the service database for the schedule processor
func (s *Service) GetDB() *Database {
	return s.db
}

// DefaultConfiguration returns a copy of the configured defaults.
func (s *Service) DefaultConfiguration() netting.Configuration {
	cfg := s.defaults
	if len(cfg.Constraints.AllowedTypes) > 0 {
		cfg.Constraints.AllowedTypes = append([]types.InstrumentType(nil), cfg.Constraints.AllowedTypes...)
	}
	return cfg
}

// EvaluateRequest carries participants inline; nothing is persisted.
type EvaluateRequest struct {
	Participants  []types.Participant   `json:"participants" binding:"required,min=1"`
	Configuration netting.Configuration `json:"configuration"`
}

// RunRequest selects registered participants; an empty list means all.
type RunRequest struct {
	ParticipantIDs []string              `json:"participant_ids"`
	Configuration  netting.Configuration `json:"configuration"`
}

// Evaluate runs the engine over the request participants without persisting anything
func (s *Service) Evaluate(ctx context.Context, req *EvaluateRequest) (*netting.Result, error) {
	logger := log.With().
		Str("service", "compensation").
		Int("participants", len(req.Participants)).
		Logger()

	logger.Info().Msg("evaluating compensation opportunities")

	result, err := s.optimize(ctx, "evaluate", req.Participants, req.Configuration)
	if err != nil {
		logger.Warn().Err(err).Msg("evaluation failed")
		return nil, err
	}

	logger.Info().
		Int("matches", len(result.Matches)).
		Float64("total_value", result.Statistics.TotalValue).
		Msg("evaluation completed")
	return result, nil
}

// CreateRun runs the engine over registered participants and persists the run
// with its matches. A repeated idempotency key returns the stored run.
// Parameters:
//   - req: participant selection and configuration
//   - idempotencyKey: unique key preventing duplicate runs
func (s *Service) CreateRun(ctx context.Context, req *RunRequest, idempotencyKey string) (*RunResponse, error) {
	logger := log.With().
		Str("service", "compensation").
		Str("idempotency_key", idempotencyKey).
		Logger()

	if idempotencyKey != "" {
		record, err := s.db.GetIdempotencyRecord(idempotencyKey)
		if err != nil {
			logger.Error().Err(err).Msg("failed to check idempotency record")
			return nil, fmt.Errorf("failed to check idempotency record: %w", err)
		}
		if record != nil {
			if record.ExpiresAt.After(s.now()) {
				logger.Info().Str("run_id", record.ResourceID).Msg("returning existing run for idempotency key")
				return s.GetRun(record.ResourceID)
			}
			if err := s.db.DeleteIdempotencyRecord(idempotencyKey); err != nil {
				return nil, fmt.Errorf("failed to expire idempotency record: %w", err)
			}
		}
	}

	participants, err := s.participants.ListParticipants(req.ParticipantIDs...)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load participants")
		return nil, err
	}

	logger.Info().Int("participants", len(participants)).Msg("starting optimization run")

	result, err := s.optimize(ctx, "run", participants, req.Configuration)
	if err != nil {
		logger.Warn().Err(err).Msg("optimization failed")
		return nil, err
	}

	run, matches, err := s.newRun(req.Configuration, result)
	if err != nil {
		return nil, err
	}

	if err := s.db.CreateRunWithIdempotency(run, matches, idempotencyKey); err != nil {
		logger.Error().Err(err).Msg("failed to save optimization run")
		return nil, fmt.Errorf("failed to save optimization run: %w", err)
	}

	logger.Info().
		Str("run_id", run.RunID).
		Str("status", run.Status).
		Int("matches", run.MatchCount).
		Float64("total_value", run.TotalValue).
		Float64("total_economy", run.TotalEconomy).
		Msg("optimization run completed")

	return buildRunResponse(run, matches, result)
}

func (s *Service) optimize(ctx context.Context, mode string, participants []types.Participant, cfg netting.Configuration) (*netting.Result, error) {
	if cfg.ReferenceDate.IsZero() {
		cfg.ReferenceDate = s.now().UTC().Truncate(24 * time.Hour)
	}

	start := time.Now()
	result, err := s.engine.Optimize(ctx, participants, cfg)
	metrics.RecordOptimization(mode, time.Since(start), result, err)
	return result, err
}

func (s *Service) newRun(cfg netting.Configuration, result *netting.Result) (*OptimizationRun, []*MatchRecord, error) {
	run := &OptimizationRun{
		RunID:        "RUN_" + uuid.New().String(),
		Status:       RunCompleted,
		MatchCount:   len(result.Matches),
		TotalValue:   result.Statistics.TotalValue,
		TotalEconomy: result.Statistics.TotalEconomy,
	}
	if len(result.Matches) == 0 {
		run.Status = RunNoMatches
	}

	fields := []struct {
		dst *string
		v   interface{}
	}{
		{&run.Configuration, cfg},
		{&run.Statistics, result.Statistics},
		{&run.Recommendations, result.Recommendations},
		{&run.Alerts, result.Alerts},
		{&run.Exclusions, result.Exclusions},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal run: %w", err)
		}
		*f.dst = string(b)
	}

	matches := make([]*MatchRecord, 0, len(result.Matches))
	for i := range result.Matches {
		record, err := newMatchRecord(run.RunID, i+1, &result.Matches[i])
		if err != nil {
			return nil, nil, err
		}
		matches = append(matches, record)
	}
	return run, matches, nil
}

// GetRun retrieves a persisted run with its matches
func (s *Service) GetRun(runID string) (*RunResponse, error) {
	run, err := s.db.GetRun(runID)
	if err != nil {
		return nil, err
	}
	records, err := s.db.GetRunMatches(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch matches for run %s: %w", runID, err)
	}

	matches := make([]*MatchRecord, len(records))
	for i := range records {
		matches[i] = &records[i]
	}
	return buildRunResponse(run, matches, nil)
}

func buildRunResponse(run *OptimizationRun, matches []*MatchRecord, result *netting.Result) (*RunResponse, error) {
	resp := &RunResponse{
		RunID:     run.RunID,
		Status:    run.Status,
		Matches:   make([]MatchResponse, 0, len(matches)),
		CreatedAt: run.CreatedAt,
	}

	if result != nil {
		resp.Statistics = result.Statistics
		resp.Recommendations = result.Recommendations
		resp.Alerts = result.Alerts
		resp.Exclusions = result.Exclusions
	} else {
		fields := []struct {
			src string
			dst interface{}
		}{
			{run.Statistics, &resp.Statistics},
			{run.Recommendations, &resp.Recommendations},
			{run.Alerts, &resp.Alerts},
			{run.Exclusions, &resp.Exclusions},
		}
		for _, f := range fields {
			if f.src == "" {
				continue
			}
			if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
				return nil, fmt.Errorf("failed to decode run %s: %w", run.RunID, err)
			}
		}
	}

	for _, m := range matches {
		mr, err := m.toResponse()
		if err != nil {
			return nil, err
		}
		resp.Matches = append(resp.Matches, *mr)
	}
	return resp, nil
}

// GetMatch retrieves a persisted match
func (s *Service) GetMatch(matchID string) (*MatchResponse, error) {
	record, err := s.db.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	return record.toResponse()
}

// ExecuteMatch moves a proposed match into execution and starts its first
// steps. A participant can only be committed to one executing match at a time.
func (s *Service) ExecuteMatch(matchID string) (*MatchResponse, error) {
	logger := log.With().
		Str("match_id", matchID).
		Str("service", "compensation").
		Logger()

	// the commitment check and the status write must not interleave
	s.executeMu.Lock()
	defer s.executeMu.Unlock()

	var (
		record *MatchRecord
		ids    []string
		steps  []types.Step
	)
	err := s.db.Transaction(func(tx *Database) error {
		var err error
		record, err = tx.GetMatch(matchID)
		if err != nil {
			return err
		}
		if record.Status != MatchProposed {
			return fmt.Errorf("%w: match %s is %s", response.ErrConflict, matchID, record.Status)
		}

		ids, err = record.ParticipantIDs()
		if err != nil {
			return err
		}
		active, err := tx.GetMatchesByStatus(MatchExecuting, MatchBlocked)
		if err != nil {
			return fmt.Errorf("failed to fetch active matches: %w", err)
		}
		busy := make(map[string]string)
		for i := range active {
			activeIDs, err := active[i].ParticipantIDs()
			if err != nil {
				return err
			}
			for _, id := range activeIDs {
				busy[id] = active[i].MatchID
			}
		}
		for _, id := range ids {
			if other, ok := busy[id]; ok {
				logger.Warn().
					Str("participant_id", id).
					Str("active_match_id", other).
					Msg("participant already committed to an executing match")
				return fmt.Errorf("%w: participant %s is committed to match %s", response.ErrConflict, id, other)
			}
		}

		steps, err = record.Steps()
		if err != nil {
			return err
		}
		StartReady(steps)
		if err := record.SetSteps(steps); err != nil {
			return err
		}
		record.Status = MatchExecuting
		return tx.UpdateMatchState(record)
	})
	if err != nil {
		if !errors.Is(err, response.ErrConflict) && !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error().Err(err).Msg("failed to start match execution")
		}
		return nil, err
	}
	metrics.RecordMatchTransition(MatchExecuting)

	logger.Info().
		Strs("participants", ids).
		Int("steps", len(steps)).
		Msg("match execution started")
	return record.toResponse()
}

// UpdateStep applies a manual status change to one schedule step and derives
// the new match status.
func (s *Service) UpdateStep(matchID string, order int, status types.StepStatus) (*MatchResponse, error) {
	logger := log.With().
		Str("match_id", matchID).
		Int("step", order).
		Str("step_status", string(status)).
		Str("service", "compensation").
		Logger()

	record, err := s.db.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if record.Status != MatchExecuting && record.Status != MatchBlocked {
		return nil, fmt.Errorf("%w: match %s is %s", response.ErrConflict, matchID, record.Status)
	}

	steps, err := record.Steps()
	if err != nil {
		return nil, err
	}
	if err := SetStepStatus(steps, order, status); err != nil {
		logger.Warn().Err(err).Msg("rejected step update")
		return nil, err
	}
	if err := record.SetSteps(steps); err != nil {
		return nil, err
	}

	previous := record.Status
	record.Status = ScheduleStatus(steps)
	if err := s.db.UpdateMatchState(record); err != nil {
		if errors.Is(err, ErrStaleMatch) {
			logger.Warn().Msg("match changed while updating step")
			return nil, err
		}
		logger.Error().Err(err).Msg("failed to update match schedule")
		return nil, fmt.Errorf("failed to update match schedule: %w", err)
	}

	if status == types.StepCompleted {
		metrics.RecordStepsCompleted(1)
	}
	if record.Status != previous {
		metrics.RecordMatchTransition(record.Status)
	}

	logger.Info().Str("match_status", record.Status).Msg("schedule step updated")
	return record.toResponse()
}

func newMatchID() string {
	return "MCH_" + uuid.New().String()
}
