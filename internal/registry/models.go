package registry

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/internal/types"
)

type ParticipantRecord struct {
	gorm.Model    `json:"-"`
	ParticipantID string         `gorm:"uniqueIndex" json:"participant_id"`
	EntityRef     string         `json:"entity_ref"`
	Role          string         `json:"role"`      // CREDITOR, DEBTOR, BOTH
	RiskTier      string         `json:"risk_tier"` // LOW, MEDIUM, HIGH
	CreditLimit   float64        `json:"credit_limit"`
	Reliability   float64        `json:"reliability"`
	Credits       []CreditRecord `gorm:"foreignKey:ParticipantID;references:ParticipantID" json:"credits"`
	Debits        []DebitRecord  `gorm:"foreignKey:ParticipantID;references:ParticipantID" json:"debits"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type CreditRecord struct {
	gorm.Model    `json:"-"`
	CreditID      string    `gorm:"uniqueIndex" json:"credit_id"`
	ParticipantID string    `gorm:"index" json:"participant_id"`
	Type          string    `json:"type"`
	Value         float64   `json:"value"`
	MaturityDate  time.Time `json:"maturity_date"`
	Origin        string    `json:"origin"`
	Status        string    `json:"status"` // AVAILABLE, BLOCKED, IN_NEGOTIATION, COMPENSATED
	Liquidity     float64   `json:"liquidity"`
	Discount      float64   `json:"discount"`
	Collateral    string    `json:"collateral"` // JSON array of references
}

type DebitRecord struct {
	gorm.Model    `json:"-"`
	DebitID       string    `gorm:"uniqueIndex" json:"debit_id"`
	ParticipantID string    `gorm:"index" json:"participant_id"`
	Type          string    `json:"type"`
	Amount        float64   `json:"amount"`
	DueDate       time.Time `json:"due_date"`
	Creditor      string    `json:"creditor"`
	Status        string    `json:"status"`   // PENDING, INSTALLMENT, IN_COMPENSATION, SETTLED
	Priority      string    `json:"priority"` // HIGH, MEDIUM, LOW
	PenaltyRate   float64   `json:"penalty_rate"`
	InterestRate  float64   `json:"interest_rate"`
}

func newParticipantRecord(p *types.Participant) *ParticipantRecord {
	record := &ParticipantRecord{
		ParticipantID: p.ID,
		EntityRef:     p.EntityRef,
		Role:          string(p.Role),
		RiskTier:      string(p.RiskTier),
		CreditLimit:   p.CreditLimit,
		Reliability:   p.Reliability,
	}
	for _, c := range p.Credits {
		collateral, _ := json.Marshal(c.Collateral)
		record.Credits = append(record.Credits, CreditRecord{
			CreditID:      c.ID,
			ParticipantID: p.ID,
			Type:          string(c.Type),
			Value:         c.Value,
			MaturityDate:  c.MaturityDate,
			Origin:        c.Origin,
			Status:        string(c.Status),
			Liquidity:     c.Liquidity,
			Discount:      c.Discount,
			Collateral:    string(collateral),
		})
	}
	for _, d := range p.Debits {
		record.Debits = append(record.Debits, DebitRecord{
			DebitID:       d.ID,
			ParticipantID: p.ID,
			Type:          string(d.Type),
			Amount:        d.Amount,
			DueDate:       d.DueDate,
			Creditor:      d.Creditor,
			Status:        string(d.Status),
			Priority:      string(d.Priority),
			PenaltyRate:   d.PenaltyRate,
			InterestRate:  d.InterestRate,
		})
	}
	return record
}

// ToParticipant converts the stored rows back into the domain model.
func (r *ParticipantRecord) ToParticipant() types.Participant {
	p := types.Participant{
		ID:          r.ParticipantID,
		EntityRef:   r.EntityRef,
		Role:        types.Role(r.Role),
		RiskTier:    types.RiskTier(r.RiskTier),
		CreditLimit: r.CreditLimit,
		Reliability: r.Reliability,
		Credits:     make([]types.Credit, 0, len(r.Credits)),
		Debits:      make([]types.Debit, 0, len(r.Debits)),
	}
	for _, c := range r.Credits {
		var collateral []string
		if c.Collateral != "" {
			_ = json.Unmarshal([]byte(c.Collateral), &collateral)
		}
		p.Credits = append(p.Credits, types.Credit{
			ID:           c.CreditID,
			Type:         types.InstrumentType(c.Type),
			Value:        c.Value,
			MaturityDate: c.MaturityDate,
			Origin:       c.Origin,
			Status:       types.CreditStatus(c.Status),
			Liquidity:    c.Liquidity,
			Discount:     c.Discount,
			Collateral:   collateral,
		})
	}
	for _, d := range r.Debits {
		p.Debits = append(p.Debits, types.Debit{
			ID:           d.DebitID,
			Type:         types.InstrumentType(d.Type),
			Amount:       d.Amount,
			DueDate:      d.DueDate,
			Creditor:     d.Creditor,
			Status:       types.DebitStatus(d.Status),
			Priority:     types.Priority(d.Priority),
			PenaltyRate:  d.PenaltyRate,
			InterestRate: d.InterestRate,
		})
	}
	return p
}
