package settlement

import (
	"time"

	"gorm.io/gorm"
)

// ScheduleEvent records one status change applied by the schedule processor.
// StepOrder is zero for match level transitions.
type ScheduleEvent struct {
	gorm.Model `json:"-"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	MatchID    string    `gorm:"index" json:"match_id"`
	StepOrder  int       `json:"step_order"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type EventsResponse struct {
	MatchID     string          `json:"match_id"`
	MatchStatus string          `json:"match_status"`
	Events      []ScheduleEvent `json:"events"`
	Timestamp   time.Time       `json:"timestamp"`
}
