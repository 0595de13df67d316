package types

import "time"

type FlowKind string

const (
	FlowCredit        FlowKind = "CREDIT"
	FlowDebit         FlowKind = "DEBIT"
	FlowNetDifference FlowKind = "NET_DIFFERENCE"
)

// Flow is one directed value transfer inside a compensation plan.
type Flow struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	Value         float64  `json:"value"`
	Kind          FlowKind `json:"kind"`
	Order         int      `json:"order"`
	Preconditions []string `json:"preconditions"`
}

type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepBlocked    StepStatus = "BLOCKED"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepBlocked:
		return true
	}
	return false
}

// Step is one entry of a match execution schedule.
type Step struct {
	Order       int        `json:"order"`
	Description string     `json:"description"`
	Responsible string     `json:"responsible"`
	DueDate     time.Time  `json:"due_date"`
	DependsOn   []int      `json:"depends_on"`
	Status      StepStatus `json:"status"`
}

// Match is a multilateral compensation group: a set of participants and the
// flows that net their balances, with an execution schedule.
type Match struct {
	ID            string   `json:"id"`
	Participants  []string `json:"participants"`
	Value         float64  `json:"value"`
	Economy       float64  `json:"economy"`
	Complexity    float64  `json:"complexity"`
	Confidence    float64  `json:"confidence"`
	ExecutionDays int      `json:"execution_days"`
	Risk          RiskTier `json:"risk"`
	Flows         []Flow   `json:"flows"`
	Guarantees    []string `json:"guarantees"`
	Schedule      []Step   `json:"schedule"`
	Score         float64  `json:"score"`
}

// Overlaps reports whether the two matches share any participant.
func (m *Match) Overlaps(other *Match) bool {
	seen := make(map[string]struct{}, len(m.Participants))
	for _, id := range m.Participants {
		seen[id] = struct{}{}
	}
	for _, id := range other.Participants {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}
