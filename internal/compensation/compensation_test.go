package compensation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/internal/types"
	"github.com/ksred/klear-compensation/pkg/response"
)

var testNow = time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)

type staticSource []types.Participant

func (s staticSource) ListParticipants(ids ...string) ([]types.Participant, error) {
	if len(ids) == 0 {
		return s, nil
	}
	var out []types.Participant
	for _, id := range ids {
		found := false
		for _, p := range s {
			if p.ID == id {
				out = append(out, p)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown participant %s", response.ErrInvalidInput, id)
		}
	}
	return out, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&OptimizationRun{}, &MatchRecord{}, &IdempotencyRecord{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func setupService(t *testing.T, participants []types.Participant) *Service {
	t.Helper()
	svc := NewService(setupTestDB(t), staticSource(participants), netting.NewEngine(2), netting.DefaultConfiguration())
	svc.now = func() time.Time { return testNow }
	return svc
}

func participant(id string, risk types.RiskTier, credit, debit float64) types.Participant {
	p := types.Participant{ID: id, RiskTier: risk, Reliability: 80}
	if credit > 0 {
		p.Credits = []types.Credit{{
			ID: id + "-C", Type: types.InstrumentICMS, Value: credit,
			Status: types.CreditAvailable, Liquidity: 70,
		}}
	}
	if debit > 0 {
		p.Debits = []types.Debit{{
			ID: id + "-D", Type: types.InstrumentICMS, Amount: debit,
			Status: types.DebitPending, Priority: types.PriorityMedium,
		}}
	}
	return p
}

func triangle() []types.Participant {
	return []types.Participant{
		participant("A", types.RiskLow, 450000, 0),
		participant("B", types.RiskMedium, 75000, 800000),
		participant("C", types.RiskLow, 100000, 0),
	}
}

func TestService_Evaluate(t *testing.T) {
	svc := setupService(t, nil)

	result, err := svc.Evaluate(context.Background(), &EvaluateRequest{
		Participants:  triangle(),
		Configuration: svc.DefaultConfiguration(),
	})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, []string{"A", "B", "C"}, result.Matches[0].Participants)

	// steps are due relative to the service clock
	first := result.Matches[0].Schedule[0]
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), first.DueDate)

	var count int64
	require.NoError(t, svc.db.db.Model(&OptimizationRun{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestService_EvaluateConfigError(t *testing.T) {
	svc := setupService(t, nil)
	cfg := svc.DefaultConfiguration()
	cfg.Objectives.Risk = 2

	_, err := svc.Evaluate(context.Background(), &EvaluateRequest{Participants: triangle(), Configuration: cfg})
	var cfgErr *netting.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestService_CreateRun(t *testing.T) {
	svc := setupService(t, triangle())

	run, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	require.Len(t, run.Matches, 1)
	assert.Equal(t, MatchProposed, run.Matches[0].Status)
	assert.Equal(t, 1, run.Matches[0].Position)
	assert.Equal(t, 3, run.Statistics.ParticipantsCovered)

	t.Run("Idempotent", func(t *testing.T) {
		again, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, "key-1")
		require.NoError(t, err)
		assert.Equal(t, run.RunID, again.RunID)
		assert.Equal(t, run.Matches[0].MatchID, again.Matches[0].MatchID)
		assert.Equal(t, run.Statistics, again.Statistics)
	})

	t.Run("ExpiredKey", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
		defer func() { svc.now = func() time.Time { return testNow } }()

		fresh, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, "key-1")
		require.NoError(t, err)
		assert.NotEqual(t, run.RunID, fresh.RunID)
	})

	t.Run("GetRun", func(t *testing.T) {
		stored, err := svc.GetRun(run.RunID)
		require.NoError(t, err)
		assert.Equal(t, run.Matches[0].Match, stored.Matches[0].Match)
		assert.Equal(t, run.Recommendations, stored.Recommendations)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		_, err := svc.GetRun("RUN_missing")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestService_CreateRunNoMatches(t *testing.T) {
	svc := setupService(t, triangle())
	cfg := svc.DefaultConfiguration()
	cfg.Constraints.MinValue = 10000000

	run, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: cfg}, "key-2")
	require.NoError(t, err)
	assert.Equal(t, RunNoMatches, run.Status)
	assert.Empty(t, run.Matches)
	assert.Contains(t, run.Recommendations, netting.RecommendRelaxMinimum)
}

func TestService_CreateRunUnknownParticipant(t *testing.T) {
	svc := setupService(t, triangle())
	_, err := svc.CreateRun(context.Background(), &RunRequest{
		ParticipantIDs: []string{"A", "Z"},
		Configuration:  svc.DefaultConfiguration(),
	}, "key-3")
	assert.ErrorIs(t, err, response.ErrInvalidInput)
}

func TestService_ExecuteMatch(t *testing.T) {
	svc := setupService(t, triangle())
	first, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, "run-1")
	require.NoError(t, err)
	second, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, "run-2")
	require.NoError(t, err)

	matchID := first.Matches[0].MatchID
	executing, err := svc.ExecuteMatch(matchID)
	require.NoError(t, err)
	assert.Equal(t, MatchExecuting, executing.Status)
	assert.Equal(t, types.StepInProgress, executing.Match.Schedule[0].Status)
	assert.Equal(t, types.StepPending, executing.Match.Schedule[1].Status)

	t.Run("AlreadyExecuting", func(t *testing.T) {
		_, err := svc.ExecuteMatch(matchID)
		assert.ErrorIs(t, err, response.ErrConflict)
	})

	t.Run("ParticipantCommitted", func(t *testing.T) {
		// the same group found by a later run cannot run concurrently
		assert.Equal(t, first.Matches[0].Match.ID, second.Matches[0].Match.ID)
		_, err := svc.ExecuteMatch(second.Matches[0].MatchID)
		assert.ErrorIs(t, err, response.ErrConflict)
	})
}

func TestService_ExecuteMatchConcurrent(t *testing.T) {
	svc := setupService(t, triangle())
	var matchIDs []string
	for _, key := range []string{"run-1", "run-2"} {
		run, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, key)
		require.NoError(t, err)
		matchIDs = append(matchIDs, run.Matches[0].MatchID)
	}

	errs := make([]error, len(matchIDs))
	var wg sync.WaitGroup
	for i, id := range matchIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.ExecuteMatch(id)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, response.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	active, err := svc.db.GetMatchesByStatus(MatchExecuting)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDatabase_UpdateMatchStateStale(t *testing.T) {
	svc := setupService(t, triangle())
	run, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, "run-1")
	require.NoError(t, err)
	matchID := run.Matches[0].MatchID

	stale, err := svc.db.GetMatch(matchID)
	require.NoError(t, err)
	assert.Zero(t, stale.Version)

	_, err = svc.ExecuteMatch(matchID)
	require.NoError(t, err)

	stale.Status = MatchSettled
	err = svc.db.UpdateMatchState(stale)
	assert.ErrorIs(t, err, ErrStaleMatch)
	assert.ErrorIs(t, err, response.ErrConflict)

	stored, err := svc.db.GetMatch(matchID)
	require.NoError(t, err)
	assert.Equal(t, MatchExecuting, stored.Status)
	assert.Equal(t, 1, stored.Version)

	// a fresh read can write
	blocked, err := svc.UpdateStep(matchID, 1, types.StepBlocked)
	require.NoError(t, err)
	assert.Equal(t, MatchBlocked, blocked.Status)
}

func TestService_UpdateStep(t *testing.T) {
	svc := setupService(t, triangle())
	run, err := svc.CreateRun(context.Background(), &RunRequest{Configuration: svc.DefaultConfiguration()}, "run-1")
	require.NoError(t, err)
	matchID := run.Matches[0].MatchID

	_, err = svc.UpdateStep(matchID, 1, types.StepCompleted)
	assert.ErrorIs(t, err, response.ErrConflict, "proposed matches have no active schedule")

	_, err = svc.ExecuteMatch(matchID)
	require.NoError(t, err)

	_, err = svc.UpdateStep(matchID, 2, types.StepCompleted)
	assert.ErrorIs(t, err, response.ErrConflict, "step 2 depends on step 1")

	_, err = svc.UpdateStep(matchID, 99, types.StepCompleted)
	assert.ErrorIs(t, err, response.ErrInvalidInput)

	_, err = svc.UpdateStep(matchID, 1, "DONE")
	assert.ErrorIs(t, err, response.ErrInvalidInput)

	blocked, err := svc.UpdateStep(matchID, 1, types.StepBlocked)
	require.NoError(t, err)
	assert.Equal(t, MatchBlocked, blocked.Status)

	resumed, err := svc.UpdateStep(matchID, 1, types.StepInProgress)
	require.NoError(t, err)
	assert.Equal(t, MatchExecuting, resumed.Status)

	var last *MatchResponse
	for _, step := range resumed.Match.Schedule {
		last, err = svc.UpdateStep(matchID, step.Order, types.StepCompleted)
		require.NoError(t, err, "step %d", step.Order)
	}
	assert.Equal(t, MatchSettled, last.Status)

	_, err = svc.UpdateStep(matchID, 1, types.StepPending)
	assert.ErrorIs(t, err, response.ErrConflict)
}
