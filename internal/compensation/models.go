package compensation

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/internal/types"
)

// OptimizationRun is one persisted engine execution.
type OptimizationRun struct {
	gorm.Model      `json:"-"`
	RunID           string    `gorm:"uniqueIndex" json:"run_id"`
	Status          string    `json:"status"`          // COMPLETED, NO_MATCHES
	Configuration   string    `json:"configuration"`   // JSON netting.Configuration
	Statistics      string    `json:"statistics"`      // JSON netting.Statistics
	Recommendations string    `json:"recommendations"` // JSON array
	Alerts          string    `json:"alerts"`          // JSON array
	Exclusions      string    `json:"exclusions"`      // JSON array
	MatchCount      int       `json:"match_count"`
	TotalValue      float64   `json:"total_value"`
	TotalEconomy    float64   `json:"total_economy"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MatchRecord is a persisted match and its execution state. CompensationID is
// the engine's content-derived id, so the same group found by two runs shares
// it; MatchID is assigned on persistence. Version increments on every state
// write.
type MatchRecord struct {
	gorm.Model     `json:"-"`
	MatchID        string    `gorm:"uniqueIndex" json:"match_id"`
	RunID          string    `gorm:"index" json:"run_id"`
	CompensationID string    `json:"compensation_id"`
	Status         string    `json:"status"`       // PROPOSED, EXECUTING, SETTLED, BLOCKED
	Participants   string    `json:"participants"` // JSON array of participant ids
	Value          float64   `json:"value"`
	Economy        float64   `json:"economy"`
	Complexity     float64   `json:"complexity"`
	Confidence     float64   `json:"confidence"`
	ExecutionDays  int       `json:"execution_days"`
	Risk           string    `json:"risk"`
	Score          float64   `json:"score"`
	Flows          string    `json:"flows"`      // JSON array of types.Flow
	Guarantees     string    `json:"guarantees"` // JSON array
	Schedule       string    `json:"schedule"`   // JSON array of types.Step
	Position       int       `json:"position"`
	Version        int       `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// RunResponse is the API view of an optimization run.
type RunResponse struct {
	RunID           string              `json:"run_id"`
	Status          string              `json:"status"`
	Matches         []MatchResponse     `json:"matches"`
	Statistics      netting.Statistics  `json:"statistics"`
	Recommendations []string            `json:"recommendations"`
	Alerts          []string            `json:"alerts"`
	Exclusions      []netting.Exclusion `json:"exclusions,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// MatchResponse is the API view of a persisted match.
type MatchResponse struct {
	MatchID  string      `json:"match_id"`
	RunID    string      `json:"run_id"`
	Status   string      `json:"status"`
	Position int         `json:"position"`
	Match    types.Match `json:"match"`
}

func newMatchRecord(runID string, position int, m *types.Match) (*MatchRecord, error) {
	record := &MatchRecord{
		MatchID:        newMatchID(),
		RunID:          runID,
		CompensationID: m.ID,
		Status:         MatchProposed,
		Value:          m.Value,
		Economy:        m.Economy,
		Complexity:     m.Complexity,
		Confidence:     m.Confidence,
		ExecutionDays:  m.ExecutionDays,
		Risk:           string(m.Risk),
		Score:          m.Score,
		Position:       position,
	}

	fields := []struct {
		dst *string
		v   interface{}
	}{
		{&record.Participants, m.Participants},
		{&record.Flows, m.Flows},
		{&record.Guarantees, m.Guarantees},
		{&record.Schedule, m.Schedule},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal match %s: %w", m.ID, err)
		}
		*f.dst = string(b)
	}
	return record, nil
}

// ToMatch decodes the stored JSON columns back into a match.
func (r *MatchRecord) ToMatch() (types.Match, error) {
	m := types.Match{
		ID:            r.CompensationID,
		Value:         r.Value,
		Economy:       r.Economy,
		Complexity:    r.Complexity,
		Confidence:    r.Confidence,
		ExecutionDays: r.ExecutionDays,
		Risk:          types.RiskTier(r.Risk),
		Score:         r.Score,
	}

	fields := []struct {
		src string
		dst interface{}
	}{
		{r.Participants, &m.Participants},
		{r.Flows, &m.Flows},
		{r.Guarantees, &m.Guarantees},
		{r.Schedule, &m.Schedule},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return types.Match{}, fmt.Errorf("failed to decode match %s: %w", r.MatchID, err)
		}
	}
	return m, nil
}

// Steps decodes the stored schedule.
func (r *MatchRecord) Steps() ([]types.Step, error) {
	var steps []types.Step
	if err := json.Unmarshal([]byte(r.Schedule), &steps); err != nil {
		return nil, fmt.Errorf("failed to decode schedule of match %s: %w", r.MatchID, err)
	}
	return steps, nil
}

// SetSteps encodes steps into the schedule column.
func (r *MatchRecord) SetSteps(steps []types.Step) error {
	b, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to encode schedule of match %s: %w", r.MatchID, err)
	}
	r.Schedule = string(b)
	return nil
}

// ParticipantIDs decodes the stored participant list.
func (r *MatchRecord) ParticipantIDs() ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(r.Participants), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode participants of match %s: %w", r.MatchID, err)
	}
	return ids, nil
}

func (r *MatchRecord) toResponse() (*MatchResponse, error) {
	m, err := r.ToMatch()
	if err != nil {
		return nil, err
	}
	return &MatchResponse{
		MatchID:  r.MatchID,
		RunID:    r.RunID,
		Status:   r.Status,
		Position: r.Position,
		Match:    m,
	}, nil
}
