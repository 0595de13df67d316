package compensation

import (
	"fmt"
	"time"

	"github.com/ksred/klear-compensation/internal/types"
	"github.com/ksred/klear-compensation/pkg/response"
)

const (
	MatchProposed  = "PROPOSED"
	MatchExecuting = "EXECUTING"
	MatchSettled   = "SETTLED"
	MatchBlocked   = "BLOCKED"
)

// StartReady moves every pending step whose dependencies are all completed to
// IN_PROGRESS and returns how many were started.
func StartReady(steps []types.Step) int {
	started := 0
	for i := range steps {
		if steps[i].Status == types.StepPending && dependenciesCompleted(steps, steps[i].DependsOn) {
			steps[i].Status = types.StepInProgress
			started++
		}
	}
	return started
}

// AdvanceSchedule completes in-progress steps whose due date has been reached
// and starts the steps they unblock. Steps are processed in order, so a chain
// of overdue steps advances fully in one call. It returns the number of steps
// completed.
func AdvanceSchedule(steps []types.Step, now time.Time) int {
	completed := 0
	for i := range steps {
		step := &steps[i]
		if step.Status == types.StepPending && dependenciesCompleted(steps, step.DependsOn) {
			step.Status = types.StepInProgress
		}
		if step.Status == types.StepInProgress && !now.Before(step.DueDate) {
			step.Status = types.StepCompleted
			completed++
		}
	}
	StartReady(steps)
	return completed
}

// SetStepStatus applies a manual status change to the step with the given
// order. Completed steps are final, and a step can only be started or
// completed once every step it depends on is completed.
func SetStepStatus(steps []types.Step, order int, status types.StepStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown step status %q", response.ErrInvalidInput, status)
	}

	idx := -1
	for i := range steps {
		if steps[i].Order == order {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: schedule has no step %d", response.ErrInvalidInput, order)
	}

	step := &steps[idx]
	if step.Status == types.StepCompleted {
		return fmt.Errorf("%w: step %d is already completed", response.ErrConflict, order)
	}
	switch status {
	case types.StepInProgress, types.StepCompleted:
		if !dependenciesCompleted(steps, step.DependsOn) {
			return fmt.Errorf("%w: step %d has unfinished dependencies", response.ErrConflict, order)
		}
	}

	step.Status = status
	if status == types.StepCompleted {
		StartReady(steps)
	}
	return nil
}

// ScheduleStatus derives the match status from its steps.
func ScheduleStatus(steps []types.Step) string {
	completed := 0
	for _, s := range steps {
		switch s.Status {
		case types.StepBlocked:
			return MatchBlocked
		case types.StepCompleted:
			completed++
		}
	}
	if completed == len(steps) {
		return MatchSettled
	}
	return MatchExecuting
}

func dependenciesCompleted(steps []types.Step, deps []int) bool {
	for _, dep := range deps {
		found := false
		for _, s := range steps {
			if s.Order == dep {
				if s.Status != types.StepCompleted {
					return false
				}
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
