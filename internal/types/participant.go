package types

import "time"

type Role string

const (
	RoleCreditor Role = "CREDITOR"
	RoleDebtor   Role = "DEBTOR"
	RoleBoth     Role = "BOTH"
)

// RiskTier is the payment-risk classification of a participant and the
// operational-risk classification of a match. Tiers are ordered LOW < MEDIUM < HIGH.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Rank returns the ordinal position of the tier, or -1 for unknown tiers.
func (r RiskTier) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// Score maps the tier onto the numeric risk scale used by scoring.
func (r RiskTier) Score() float64 {
	switch r {
	case RiskLow:
		return 10
	case RiskMedium:
		return 50
	default:
		return 90
	}
}

func (r RiskTier) Valid() bool {
	return r.Rank() >= 0
}

type InstrumentType string

const (
	InstrumentICMS       InstrumentType = "ICMS"
	InstrumentIPI        InstrumentType = "IPI"
	InstrumentPIS        InstrumentType = "PIS"
	InstrumentCOFINS     InstrumentType = "COFINS"
	InstrumentISS        InstrumentType = "ISS"
	InstrumentIRPJ       InstrumentType = "IRPJ"
	InstrumentCSLL       InstrumentType = "CSLL"
	InstrumentINSS       InstrumentType = "INSS"
	InstrumentPrecatorio InstrumentType = "PRECATORIO"
)

var knownInstruments = map[InstrumentType]struct{}{
	InstrumentICMS:       {},
	InstrumentIPI:        {},
	InstrumentPIS:        {},
	InstrumentCOFINS:     {},
	InstrumentISS:        {},
	InstrumentIRPJ:       {},
	InstrumentCSLL:       {},
	InstrumentINSS:       {},
	InstrumentPrecatorio: {},
}

// KnownInstrument reports whether t is one of the supported fiscal instruments.
func KnownInstrument(t InstrumentType) bool {
	_, ok := knownInstruments[t]
	return ok
}

type CreditStatus string

const (
	CreditAvailable     CreditStatus = "AVAILABLE"
	CreditBlocked       CreditStatus = "BLOCKED"
	CreditInNegotiation CreditStatus = "IN_NEGOTIATION"
	CreditCompensated   CreditStatus = "COMPENSATED"
)

type DebitStatus string

const (
	DebitPending        DebitStatus = "PENDING"
	DebitInstallment    DebitStatus = "INSTALLMENT"
	DebitInCompensation DebitStatus = "IN_COMPENSATION"
	DebitSettled        DebitStatus = "SETTLED"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Credit is a tradable fiscal credit held by a participant.
type Credit struct {
	ID           string         `json:"id"`
	Type         InstrumentType `json:"type"`
	Value        float64        `json:"value"`
	MaturityDate time.Time      `json:"maturity_date"`
	Origin       string         `json:"origin"`
	Status       CreditStatus   `json:"status"`
	Liquidity    float64        `json:"liquidity"` // 0-100
	Discount     float64        `json:"discount"`  // fraction of face value
	Collateral   []string       `json:"collateral,omitempty"`
}

// Debit is an obligation owed by a participant to a creditor authority.
type Debit struct {
	ID           string         `json:"id"`
	Type         InstrumentType `json:"type"`
	Amount       float64        `json:"amount"`
	DueDate      time.Time      `json:"due_date"`
	Creditor     string         `json:"creditor"`
	Status       DebitStatus    `json:"status"`
	Priority     Priority       `json:"priority"`
	PenaltyRate  float64        `json:"penalty_rate"`
	InterestRate float64        `json:"interest_rate"`
}

// Outstanding reports whether the debit still needs to be covered.
func (d Debit) Outstanding() bool {
	return d.Status != DebitSettled
}

// Participant is a party holding credits and owing debits.
type Participant struct {
	ID          string   `json:"id"`
	EntityRef   string   `json:"entity_ref"`
	Role        Role     `json:"role"`
	Credits     []Credit `json:"credits"`
	Debits      []Debit  `json:"debits"`
	RiskTier    RiskTier `json:"risk_tier"`
	CreditLimit float64  `json:"credit_limit"`
	Reliability float64  `json:"reliability"` // 0-100
}

// NetBalance is the sum of credit values minus the sum of debit amounts.
// It is derived on every call so it can never drift from its constituents.
func (p *Participant) NetBalance() float64 {
	var balance float64
	for _, c := range p.Credits {
		balance += c.Value
	}
	for _, d := range p.Debits {
		balance -= d.Amount
	}
	return balance
}

// InstrumentTypes returns the set of instrument types across credits and debits.
func (p *Participant) InstrumentTypes() map[InstrumentType]struct{} {
	set := make(map[InstrumentType]struct{}, len(p.Credits)+len(p.Debits))
	for _, c := range p.Credits {
		set[c.Type] = struct{}{}
	}
	for _, d := range p.Debits {
		set[d.Type] = struct{}{}
	}
	return set
}

// AverageLiquidity returns the mean liquidity of the participant's credits.
func (p *Participant) AverageLiquidity() float64 {
	if len(p.Credits) == 0 {
		return 0
	}
	var sum float64
	for _, c := range p.Credits {
		sum += c.Liquidity
	}
	return sum / float64(len(p.Credits))
}
