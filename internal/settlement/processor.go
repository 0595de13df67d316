package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-compensation/internal/compensation"
	"github.com/ksred/klear-compensation/internal/metrics"
	"github.com/ksred/klear-compensation/internal/types"
)

const DefaultInterval = 5 * time.Minute

// Processor advances the schedules of executing matches: due steps are
// completed, the steps they unblock are started, and a match whose steps are
// all complete is marked SETTLED.
type Processor struct {
	db           *Database
	processDelay time.Duration // Time between processing passes
	now          func() time.Time
}

func NewProcessor(db *Database, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Processor{
		db:           db,
		processDelay: interval,
		now:          time.Now,
	}
}

// Start begins the schedule processing loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "schedule_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting schedule processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down schedule processor")
			return
		case <-ticker.C:
			if err := p.processExecutingMatches(); err != nil {
				logger.Error().Err(err).Msg("failed to process executing matches")
			}
		}
	}
}

func (p *Processor) processExecutingMatches() error {
	logger := log.With().Str("component", "schedule_processor").Logger()

	matches, err := p.db.GetExecutingMatches()
	if err != nil {
		return err
	}

	logger.Debug().Int("executing_count", len(matches)).Msg("processing executing matches")

	now := p.now()
	for i := range matches {
		match := &matches[i]
		matchLogger := logger.With().Str("match_id", match.MatchID).Logger()

		steps, err := match.Steps()
		if err != nil {
			matchLogger.Error().Err(err).Msg("skipping match with unreadable schedule")
			continue
		}

		before := make([]types.StepStatus, len(steps))
		for j, s := range steps {
			before[j] = s.Status
		}

		completed := compensation.AdvanceSchedule(steps, now)

		var events []ScheduleEvent
		for j, s := range steps {
			if s.Status != before[j] {
				events = append(events, newEvent(match.MatchID, s.Order, string(before[j]), string(s.Status), now))
			}
		}
		if len(events) == 0 {
			continue
		}

		previous := match.Status
		match.Status = compensation.ScheduleStatus(steps)
		if match.Status != previous {
			events = append(events, newEvent(match.MatchID, 0, previous, match.Status, now))
		}
		if err := match.SetSteps(steps); err != nil {
			matchLogger.Error().Err(err).Msg("failed to encode schedule")
			continue
		}

		if err := p.db.SaveProgress(match, events); err != nil {
			if errors.Is(err, compensation.ErrStaleMatch) {
				// picked up again on the next pass
				matchLogger.Debug().Msg("match changed during processing, skipping")
				continue
			}
			matchLogger.Error().Err(err).Msg("failed to save schedule progress")
			continue
		}

		metrics.RecordStepsCompleted(completed)
		if match.Status != previous {
			metrics.RecordMatchTransition(match.Status)
			matchLogger.Info().
				Str("from", previous).
				Str("to", match.Status).
				Msg("match status changed")
		}
		matchLogger.Debug().
			Int("steps_completed", completed).
			Int("events", len(events)).
			Msg("advanced match schedule")
	}

	return nil
}

func newEvent(matchID string, order int, from, to string, at time.Time) ScheduleEvent {
	return ScheduleEvent{
		EventID:    "EVT_" + uuid.New().String(),
		MatchID:    matchID,
		StepOrder:  order,
		FromStatus: from,
		ToStatus:   to,
		OccurredAt: at,
	}
}
